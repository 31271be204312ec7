package launch

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/taskherd/taskherd/internals/jobs"
	"github.com/taskherd/taskherd/internals/logfiles"
	"github.com/taskherd/taskherd/internals/schemas"
	"github.com/taskherd/taskherd/internals/store"
)

// Launcher creates a pending task and starts a fully detached process that
// executes it. The detached child re-invokes this binary's hidden runner
// subcommand; from the moment Start returns, the only channel between parent
// and child is the task store.
type Launcher struct {
	store    *store.Store
	logs     *logfiles.Manager
	registry *jobs.Registry
	logger   *slog.Logger

	// runnerCommand is injected by the CLI layer so the package does not
	// depend on the command tree. It receives the runner argv (without the
	// binary path) ready to pass to exec.
	runnerArgv func(taskID string, logPath string, dir string, shell string, jobID string) []string
}

type Config struct {
	Store      *store.Store
	Logs       *logfiles.Manager
	Registry   *jobs.Registry
	Logger     *slog.Logger
	RunnerArgv func(taskID string, logPath string, dir string, shell string, jobID string) []string
}

func New(cfg Config) *Launcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		store:      cfg.Store,
		logs:       cfg.Logs,
		registry:   cfg.Registry,
		logger:     logger,
		runnerArgv: cfg.RunnerArgv,
	}
}

// Command launches an arbitrary shell command string as a background task and
// returns the pending task immediately.
func (l *Launcher) Command(command string, dir string, args map[string]string) (*schemas.Task, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	return l.start(command, dir, args, command, "")
}

// Job launches a registered job handler by id. Unknown job ids fail here,
// synchronously, before any task is created.
func (l *Launcher) Job(jobID string, dir string, args map[string]string) (*schemas.Task, error) {
	if _, err := l.registry.Resolve(jobID); err != nil {
		return nil, err
	}
	return l.start(jobID, dir, args, "", jobID)
}

func (l *Launcher) start(command string, dir string, args map[string]string, shell string, jobID string) (*schemas.Task, error) {
	if err := l.logs.EnsureDir(); err != nil {
		return nil, err
	}
	logPath := l.logs.NewLogPath(command)
	task := schemas.NewTask(command, logPath, args)
	if err := l.store.Add(task); err != nil {
		return nil, err
	}

	if err := l.spawn(task, logPath, dir, shell, jobID); err != nil {
		// A spawn failure must never leave the store entry dangling pending.
		task.MarkFailed(1, err.Error())
		if updateErr := l.store.Update(task); updateErr != nil {
			l.logger.Error("failed to record spawn failure", "task_id", task.ID, "error", updateErr)
		}
		return nil, fmt.Errorf("failed to launch task %s: %w", task.ID, err)
	}

	l.logger.Debug("launched background task", "task_id", task.ID, "command", command, "log_file", logPath)
	return task, nil
}

func (l *Launcher) spawn(task *schemas.Task, logPath string, dir string, shell string, jobID string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own binary: %w", err)
	}
	argv := l.runnerArgv(task.ID, logPath, dir, shell, jobID)
	cmd := exec.Command(exe, argv...)
	// Nil std streams attach the null device, so the child produces no
	// terminal output of its own.
	detachCmd(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}
	return nil
}
