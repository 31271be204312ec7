package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskherd/taskherd/internals/schemas"
	"github.com/taskherd/taskherd/internals/store"
	"github.com/taskherd/taskherd/internals/workflow"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Drive the step-gated workflow",
	}
	cmd.AddCommand(
		newWorkflowStartCmd(),
		newWorkflowNextCmd(),
		newWorkflowEventCmd(),
		newWorkflowGateCmd(),
		newWorkflowClearCmd(),
	)
	return cmd
}

func newWorkflowStartCmd() *cobra.Command {
	var step string
	cmd := &cobra.Command{
		Use:   "start [name]",
		Short: "Activate a workflow (restarting the same name keeps its start time)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			manager, err := a.workflowManager()
			if err != nil {
				return err
			}

			name := ""
			if len(argv) > 0 {
				name = argv[0]
			}
			wf, err := manager.Start(name, step)
			if err != nil {
				return err
			}
			fmt.Printf("workflow %q active at step %q\n", wf.Name, wf.Step)
			return nil
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "start at this step instead of the first one")
	return cmd
}

func newWorkflowNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Compute and print the workflow's next instruction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			manager, err := a.workflowManager()
			if err != nil {
				return err
			}

			result, err := manager.NextPrompt()
			if err != nil {
				return err
			}
			fmt.Println(result.Content)
			if result.Outcome == workflow.OutcomeFailure {
				msg := ""
				if len(result.FailedTaskIDs) > 0 {
					msg = "failed tasks: " + strings.Join(result.FailedTaskIDs, ", ")
				}
				return &exitCodeError{code: 1, msg: msg}
			}
			return nil
		},
	}
}

func newWorkflowEventCmd() *cobra.Command {
	var failed bool
	var errText string
	cmd := &cobra.Command{
		Use:   "event <task-id>",
		Short: "Record a task's outcome in the workflow events log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			manager, err := a.workflowManager()
			if err != nil {
				return err
			}

			task, err := a.store.GetByID(argv[0])
			if err != nil {
				if errors.Is(err, store.ErrTaskNotFound) {
					return &exitCodeError{code: 1, msg: fmt.Sprintf("no task matches %q", argv[0])}
				}
				return err
			}

			success := task.Status == schemas.TaskStatusCompleted && !failed
			event := schemas.TaskEvent{
				Event:   "task_finished",
				Command: task.Command,
				TaskID:  task.ID,
				Success: success,
				LogFile: task.LogFile,
			}
			if !success {
				event.Error = task.ErrorMessage
				if errText != "" {
					event.Error = errText
				}
			}
			return manager.RecordEvent(event)
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "record the outcome as a failure regardless of task status")
	cmd.Flags().StringVar(&errText, "error", "", "failure detail to record with the event")
	return cmd
}

func newWorkflowGateCmd() *cobra.Command {
	var requires []string
	cmd := &cobra.Command{
		Use:   "gate <to-step>",
		Short: "Declare a pending transition gated on task commands succeeding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			manager, err := a.workflowManager()
			if err != nil {
				return err
			}
			return manager.SetPendingTransition(argv[0], requires)
		},
	}
	cmd.Flags().StringArrayVar(&requires, "requires", nil, "command name that must have succeeded (repeatable)")
	return cmd
}

func newWorkflowClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Deactivate the current workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.ClearWorkflow()
		},
	}
}
