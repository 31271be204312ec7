package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskherd/taskherd/conf"
	"github.com/taskherd/taskherd/internals/jobs"
	"github.com/taskherd/taskherd/internals/launch"
	"github.com/taskherd/taskherd/internals/logfiles"
	"github.com/taskherd/taskherd/internals/logging"
	"github.com/taskherd/taskherd/internals/store"
	"github.com/taskherd/taskherd/internals/version"
	"github.com/taskherd/taskherd/internals/wait"
	"github.com/taskherd/taskherd/internals/workflow"
)

// exitCodeError carries a specific process exit code through cobra's RunE.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

type app struct {
	cfg      *conf.Config
	logger   *slog.Logger
	logFile  *os.File
	store    *store.Store
	logs     *logfiles.Manager
	registry *jobs.Registry
	launcher *launch.Launcher
	waiter   *wait.Waiter
}

// newApp wires the subsystems together from config. quiet routes diagnostics
// to the data-dir log only; the detached runner uses it so it never writes to
// a terminal.
func newApp(quiet bool) (*app, error) {
	cfg := conf.GetConfig()

	var logger *slog.Logger
	var logFile *os.File
	if quiet {
		logger, logFile = logging.InitQuiet(cfg.State.DataDir, slog.LevelInfo)
	} else {
		logger, logFile = logging.Init(cfg.State.DataDir, slog.LevelWarn)
	}

	st, err := store.New(store.Config{
		Path:         filepath.Join(cfg.State.DataDir, "state.json"),
		HistoryPath:  filepath.Join(cfg.State.DataDir, "history.db"),
		RecentWindow: time.Duration(cfg.State.RecentWindowMin * float64(time.Minute)),
		LockTimeout:  time.Duration(cfg.State.LockTimeoutSec * float64(time.Second)),
		Mode:         store.ConsistencyMode(cfg.State.ConsistencyMode),
		Logger:       logger,
	})
	if err != nil {
		logFile.Close()
		return nil, err
	}

	logs := logfiles.New(cfg.Logs.Dir, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		logFile: logFile,
		store:   st,
		logs:    logs,
	}

	registry, err := builtinRegistry(a)
	if err != nil {
		a.close()
		return nil, err
	}
	a.registry = registry

	a.launcher = launch.New(launch.Config{
		Store:      st,
		Logs:       logs,
		Registry:   registry,
		Logger:     logger,
		RunnerArgv: runnerArgv,
	})
	a.waiter = wait.New(st, time.Duration(cfg.Wait.PollIntervalSec*float64(time.Second)))
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func (a *app) workflowManager() (*workflow.Manager, error) {
	def, err := workflow.LoadDefinition(a.cfg.Workflow.DefinitionPath)
	if err != nil {
		return nil, fmt.Errorf("no usable workflow definition at %s: %w", a.cfg.Workflow.DefinitionPath, err)
	}
	return workflow.NewManager(a.store, def, nil, a.logger), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskherd",
		Version:       version.Version(),
		Short:         "Launch and track detached background tasks",
		Long:          "taskherd launches shell commands and registered jobs as detached background processes,\ntracks them through a shared on-disk store, and gates multi-step workflows on their outcomes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newJobCmd(),
		newListCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newWaitCmd(),
		newCleanupCmd(),
		newWorkflowCmd(),
		newRunnerCmd(),
	)
	return root
}
