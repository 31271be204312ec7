package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskherd/taskherd/internals/schemas"
	"github.com/taskherd/taskherd/internals/store"
)

type Outcome string

const (
	OutcomeNoWorkflow Outcome = "no-workflow"
	OutcomeWaiting    Outcome = "waiting"
	OutcomeFailure    Outcome = "failure"
	OutcomeSuccess    Outcome = "success"
)

// Result is the single answer of NextPrompt: exactly one outcome, the text to
// show the caller, and, on failure, the ids of the tasks that blocked the
// transition.
type Result struct {
	Outcome       Outcome
	Content       string
	FailedTaskIDs []string
}

// Manager drives the single active workflow. All state lives in the shared
// store document; the manager itself holds no mutable state, so NextPrompt is
// idempotent and safe to call from any process.
type Manager struct {
	store    *store.Store
	def      *Definition
	renderer Renderer
	logger   *slog.Logger
}

func NewManager(s *store.Store, def *Definition, renderer Renderer, logger *slog.Logger) *Manager {
	if renderer == nil {
		renderer = NewRenderer(def)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, def: def, renderer: renderer, logger: logger}
}

// Start activates the workflow at the given step (the definition's first step
// when empty). Starting a workflow that is already active under the same name
// merges into it and preserves its start time.
func (m *Manager) Start(name string, step string) (*schemas.Workflow, error) {
	if name == "" {
		name = m.def.Name
	}
	if step == "" {
		step = m.def.FirstStep()
	}
	return m.store.SetWorkflow(name, step)
}

// RecordEvent appends a task outcome to the workflow's events log.
func (m *Manager) RecordEvent(event schemas.TaskEvent) error {
	return m.store.MutateWorkflow(func(w *schemas.Workflow) error {
		w.AppendEvent(event)
		return nil
	})
}

// SetPendingTransition declares the intent to move to toStep once every
// command in requiredTasks has succeeded.
func (m *Manager) SetPendingTransition(toStep string, requiredTasks []string) error {
	if toStep == "" {
		return errors.New("transition target step is required")
	}
	return m.store.MutateWorkflow(func(w *schemas.Workflow) error {
		w.SetPendingTransition(schemas.PendingTransition{ToStep: toStep, RequiredTasks: requiredTasks})
		return nil
	})
}

func (m *Manager) Clear() error {
	return m.store.ClearWorkflow()
}

// NextPrompt computes the workflow's next instruction. It returns exactly one
// of four outcomes:
//
//   - no-workflow: nothing is active; content explains how to start one.
//   - waiting: background tasks are still in flight; state is unchanged.
//   - failure: the step prompt cannot be rendered, or a pending transition is
//     blocked by a logged task failure; state is unchanged.
//   - success: the pending transition committed (or no transition was
//     pending) and content is the rendered prompt for the current step.
//
// A required task with no logged outcome yet does not block a transition;
// only an explicit logged failure does.
func (m *Manager) NextPrompt() (Result, error) {
	workflow, err := m.store.ActiveWorkflow()
	if err != nil {
		if errors.Is(err, store.ErrNoWorkflow) {
			return Result{
				Outcome: OutcomeNoWorkflow,
				Content: "No workflow is active. Start one with: taskherd workflow start <name>",
			}, nil
		}
		return Result{}, err
	}

	if active := m.store.ListActive(); len(active) > 0 {
		var lines []string
		lines = append(lines, "Background tasks are still in flight:")
		for _, task := range active {
			lines = append(lines, fmt.Sprintf("  %s  %s (%s)", task.ID, task.Command, task.Status))
		}
		lines = append(lines, "Check again once they have finished.")
		return Result{Outcome: OutcomeWaiting, Content: strings.Join(lines, "\n")}, nil
	}

	transition := workflow.PendingTransition()
	if transition != nil {
		if result, blocked := m.blockedBy(workflow, transition); blocked {
			return result, nil
		}

		// Render the target step against the post-transition view before
		// committing anything: a missing or broken template must leave the
		// step and the pending transition exactly as they were.
		next := *workflow
		next.Step = transition.ToStep
		if m.def.IsTerminal(transition.ToStep) {
			next.Status = schemas.WorkflowStatusCompleted
		}
		content, err := m.renderer.Render(next.Step, renderData(&next))
		if err != nil {
			return Result{
				Outcome: OutcomeFailure,
				Content: fmt.Sprintf("Cannot render prompt for step %q of workflow %q: %v", next.Step, next.Name, err),
			}, nil
		}

		err = m.store.MutateWorkflow(func(w *schemas.Workflow) error {
			w.Step = transition.ToStep
			w.ClearPendingTransition()
			if m.def.IsTerminal(transition.ToStep) {
				w.Status = schemas.WorkflowStatusCompleted
			}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		m.logger.Info("workflow advanced", "workflow", next.Name, "step", next.Step, "status", next.Status)
		return Result{Outcome: OutcomeSuccess, Content: content}, nil
	}

	content, err := m.renderer.Render(workflow.Step, renderData(workflow))
	if err != nil {
		// A missing or broken template is a hard stop, surfaced as the
		// failure outcome rather than an error; the step never advances
		// silently past it.
		return Result{
			Outcome: OutcomeFailure,
			Content: fmt.Sprintf("Cannot render prompt for step %q of workflow %q: %v", workflow.Step, workflow.Name, err),
		}, nil
	}
	return Result{Outcome: OutcomeSuccess, Content: content}, nil
}

// blockedBy checks the pending transition's required commands against the
// events log. Only a logged failure blocks: a command that has not reported
// yet is "not done", not "done and failed".
func (m *Manager) blockedBy(workflow *schemas.Workflow, transition *schemas.PendingTransition) (Result, bool) {
	var failedIDs []string
	var lines []string
	for _, command := range transition.RequiredTasks {
		event := workflow.LastEventFor(command)
		if event == nil || event.Success {
			continue
		}
		failedIDs = append(failedIDs, event.TaskID)
		line := fmt.Sprintf("  %s failed", command)
		if event.Error != "" {
			line += ": " + event.Error
		}
		if event.LogFile != "" {
			line += fmt.Sprintf(" (log: %s)", event.LogFile)
		}
		lines = append(lines, line)
	}
	if len(failedIDs) == 0 {
		return Result{}, false
	}
	content := fmt.Sprintf("Cannot advance to step %q, required tasks failed:\n%s", transition.ToStep, strings.Join(lines, "\n"))
	return Result{Outcome: OutcomeFailure, Content: content, FailedTaskIDs: failedIDs}, true
}

func renderData(workflow *schemas.Workflow) map[string]any {
	data := map[string]any{
		"Workflow": workflow.Name,
		"Step":     workflow.Step,
		"Status":   string(workflow.Status),
	}
	for key, value := range workflow.Context {
		data[key] = value
	}
	return data
}
