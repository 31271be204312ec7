package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskherd/taskherd/internals/schemas"
	"github.com/taskherd/taskherd/internals/store"
)

func newRunCmd() *cobra.Command {
	var dir string
	var args []string
	cmd := &cobra.Command{
		Use:   "run -- <command...>",
		Short: "Launch a shell command as a detached background task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.launcher.Command(strings.Join(argv, " "), dir, parseArgPairs(args))
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", task.ID)
			fmt.Fprintf(os.Stderr, "log: %s\n", task.LogFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "working directory for the command")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "metadata to attach to the task, key=value (repeatable)")
	return cmd
}

func newJobCmd() *cobra.Command {
	var dir string
	var args []string
	cmd := &cobra.Command{
		Use:   "job <job-id>",
		Short: "Launch a registered job handler as a detached background task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.launcher.Job(argv[0], dir, parseArgPairs(args))
			if err != nil {
				return fmt.Errorf("%w (registered jobs: %s)", err, strings.Join(a.registry.IDs(), ", "))
			}
			fmt.Printf("%s\n", task.ID)
			fmt.Fprintf(os.Stderr, "log: %s\n", task.LogFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "working directory for the job")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "metadata to attach to the task, key=value (repeatable)")
	return cmd
}

func newListCmd() *cobra.Command {
	var status string
	var perCommand bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent background tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			tasks := a.store.List()
			if perCommand {
				tasks = a.store.MostRecentPerCommand()
			}
			if status != "" {
				filtered := tasks[:0]
				for _, task := range tasks {
					if string(task.Status) == status {
						filtered = append(filtered, task)
					}
				}
				tasks = filtered
			}
			fmt.Print(renderTaskList(tasks))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only tasks with this status (pending|running|completed|failed)")
	cmd.Flags().BoolVar(&perCommand, "per-command", false, "only the most recent task per command name")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show one task, resolved by id or unambiguous prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.store.GetByID(argv[0])
			if err != nil {
				if errors.Is(err, store.ErrTaskNotFound) {
					return &exitCodeError{code: 1, msg: fmt.Sprintf("no task matches %q", argv[0])}
				}
				return err
			}
			fmt.Print(renderTaskDetail(task))
			return nil
		},
	}
}

func newLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Print a task's log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.store.GetByID(argv[0])
			if err != nil {
				if errors.Is(err, store.ErrTaskNotFound) {
					return &exitCodeError{code: 1, msg: fmt.Sprintf("no task matches %q", argv[0])}
				}
				return err
			}
			if task.LogFile == "" {
				return &exitCodeError{code: 1, msg: fmt.Sprintf("task %s has no log file", task.ID)}
			}
			content, err := a.logs.Read(task.LogFile, lines)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return &exitCodeError{code: 1, msg: fmt.Sprintf("log file %s not found (task %s)", task.LogFile, task.ID)}
				}
				return err
			}
			fmt.Print(content)
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 0, "line count: positive for head, negative for tail, 0 for all")
	return cmd
}

func newWaitCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <task-id>",
		Short: "Block until a task reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.store.GetByID(argv[0])
			if err != nil {
				if errors.Is(err, store.ErrTaskNotFound) {
					return &exitCodeError{code: 1, msg: fmt.Sprintf("no task matches %q", argv[0])}
				}
				return err
			}

			success, exitCode := a.waiter.WaitForTask(context.Background(), task.ID, timeout)
			if success {
				fmt.Printf("%s completed\n", task.ID)
				reportOtherFailures(a, task)
				return nil
			}
			if exitCode == nil {
				return &exitCodeError{code: 1, msg: fmt.Sprintf("timed out waiting for task %s (%s); it keeps running, see %s", task.ID, task.Command, task.LogFile)}
			}
			return &exitCodeError{
				code: nonZero(*exitCode),
				msg:  fmt.Sprintf("task %s (%s) failed with exit code %d, see %s", task.ID, task.Command, *exitCode, task.LogFile),
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	return cmd
}

// reportOtherFailures surfaces commands whose most recent run is still a
// failure, excluding the command the caller just confirmed succeeded.
func reportOtherFailures(a *app, confirmed *schemas.Task) {
	failed := a.waiter.FailedMostRecentPerCommand(confirmed.ID, []string{confirmed.Command})
	for _, task := range failed {
		fmt.Fprintf(os.Stderr, "note: task %s (%s) failed earlier, see %s\n", task.ID, task.Command, task.LogFile)
	}
	if others := a.waiter.OtherIncompleteTasks(confirmed.ID); len(others) > 0 {
		fmt.Fprintf(os.Stderr, "note: %d other task(s) still in flight\n", len(others))
	}
}

func newCleanupCmd() *cobra.Command {
	var maxAgeHours float64
	var maxCount int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Sweep old log files and trim task history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			if maxAgeHours <= 0 {
				maxAgeHours = a.cfg.Logs.MaxAgeHours
			}
			if maxCount == 0 {
				maxCount = a.cfg.Logs.MaxCount
			}
			maxAge := time.Duration(maxAgeHours * float64(time.Hour))

			removedLogs := a.logs.Cleanup(maxAge, maxCount)
			removedRows, err := a.store.History().Cleanup(context.Background(), maxAge, maxCount)
			if err != nil {
				return fmt.Errorf("history cleanup failed: %w", err)
			}
			fmt.Printf("removed %d log file(s), %d history row(s)\n", removedLogs, removedRows)
			return nil
		},
	}
	cmd.Flags().Float64Var(&maxAgeHours, "max-age-hours", 0, "delete logs/rows older than this many hours (default from config)")
	cmd.Flags().IntVar(&maxCount, "max-count", 0, "keep at most this many newest logs/rows (0 keeps all)")
	return cmd
}

func parseArgPairs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		out[key] = value
	}
	return out
}

func nonZero(code int) int {
	if code == 0 {
		return 1
	}
	return code
}
