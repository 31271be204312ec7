package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"time"
)

// RunnerOptions parameterize the runner payload: the hidden subcommand the
// detached child is started with. Exactly one of Shell and JobID is set.
type RunnerOptions struct {
	TaskID  string
	LogPath string
	Dir     string
	Shell   string
	JobID   string
}

// RunPayload is the body of the detached child process. It writes the log
// header, marks the task running, executes the target with all output
// redirected into the log, records the terminal state, and returns the exit
// code the child process should exit with. Every failure past this point is
// captured in the task record; nothing propagates back to the parent.
func (l *Launcher) RunPayload(ctx context.Context, opts RunnerOptions) int {
	task, err := l.store.GetByID(opts.TaskID)
	if err != nil {
		l.logger.Error("runner could not resolve its task", "task_id", opts.TaskID, "error", err)
		return 1
	}

	logPath := opts.LogPath
	if logPath == "" {
		logPath = task.LogFile
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		task.MarkFailed(1, fmt.Sprintf("failed to open log file: %v", err))
		if updateErr := l.store.Update(task); updateErr != nil {
			l.logger.Error("failed to record log-open failure", "task_id", task.ID, "error", updateErr)
		}
		return 1
	}
	defer logFile.Close()

	dir := opts.Dir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	fmt.Fprintf(logFile, "=== task %s ===\n", task.ID)
	fmt.Fprintf(logFile, "command: %s\n", task.Command)
	fmt.Fprintf(logFile, "started: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(logFile, "cwd: %s\n\n", dir)

	task.MarkRunning()
	if err := l.store.Update(task); err != nil {
		l.logger.Error("failed to mark task running", "task_id", task.ID, "error", err)
	}

	var exitCode int
	var errorMessage string
	if opts.JobID != "" {
		exitCode, errorMessage = l.runJob(ctx, opts, task.Args, logFile)
	} else {
		exitCode, errorMessage = l.runShell(opts, logFile)
	}

	fmt.Fprintf(logFile, "\n=== finished %s exit=%d ===\n", time.Now().UTC().Format(time.RFC3339), exitCode)

	// Re-read before the terminal mark so a concurrent metadata update (a
	// caller tagging args, for example) is not clobbered.
	if fresh, err := l.store.GetByID(task.ID); err == nil {
		task = fresh
	}
	if exitCode == 0 {
		task.MarkCompleted(0)
	} else {
		task.MarkFailed(exitCode, errorMessage)
	}
	if err := l.store.Update(task); err != nil {
		l.logger.Error("failed to record task outcome", "task_id", task.ID, "error", err)
	}
	return exitCode
}

func (l *Launcher) runShell(opts RunnerOptions, logFile *os.File) (int, string) {
	cmd := shellCommand(opts.Shell)
	cmd.Dir = opts.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	err := cmd.Run()
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), fmt.Sprintf("command exited with code %d", exitErr.ExitCode())
	}
	fmt.Fprintf(logFile, "%v\n", err)
	return 1, err.Error()
}

func (l *Launcher) runJob(ctx context.Context, opts RunnerOptions, args map[string]string, logFile *os.File) (exitCode int, errorMessage string) {
	job, err := l.registry.Resolve(opts.JobID)
	if err != nil {
		fmt.Fprintf(logFile, "%v\n", err)
		return 1, err.Error()
	}

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(logFile, "panic: %v\n%s", r, debug.Stack())
			exitCode = 1
			errorMessage = fmt.Sprintf("panic: %v", r)
		}
	}()

	code, runErr := job.Run(ctx, logFile, args)
	if runErr != nil {
		fmt.Fprintf(logFile, "%v\n", runErr)
		if code == 0 {
			code = 1
		}
		return code, runErr.Error()
	}
	if code != 0 {
		return code, fmt.Sprintf("job exited with code %d", code)
	}
	return 0, ""
}
