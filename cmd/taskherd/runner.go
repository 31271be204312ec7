package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskherd/taskherd/internals/launch"
)

// runnerArgv is the argv contract between the launcher and the hidden runner
// subcommand below.
func runnerArgv(taskID string, logPath string, dir string, shell string, jobID string) []string {
	argv := []string{"runner", "--task-id", taskID, "--log", logPath}
	if dir != "" {
		argv = append(argv, "--dir", dir)
	}
	if jobID != "" {
		return append(argv, "--job", jobID)
	}
	return append(argv, "--shell", shell)
}

// newRunnerCmd is the detached child's entry point. It is hidden from help:
// it only exists to be spawned by the launcher.
func newRunnerCmd() *cobra.Command {
	var opts launch.RunnerOptions
	cmd := &cobra.Command{
		Use:    "runner",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			if opts.TaskID == "" {
				return errors.New("--task-id is required")
			}
			if (opts.Shell == "") == (opts.JobID == "") {
				return errors.New("exactly one of --shell and --job is required")
			}

			a, err := newApp(true)
			if err != nil {
				return err
			}

			code := a.launcher.RunPayload(context.Background(), opts)
			a.close()
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.TaskID, "task-id", "", "task to execute")
	cmd.Flags().StringVar(&opts.LogPath, "log", "", "log file path")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "working directory")
	cmd.Flags().StringVar(&opts.Shell, "shell", "", "shell command to run")
	cmd.Flags().StringVar(&opts.JobID, "job", "", "registered job id to run")
	return cmd
}
