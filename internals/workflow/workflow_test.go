package workflow

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/taskherd/taskherd/internals/schemas"
	"github.com/taskherd/taskherd/internals/store"
	"github.com/taskherd/taskherd/internals/testutil"
)

const testDefinition = `
name: release
steps:
  - name: plan
    prompt: "Plan the release for {{.Workflow}}."
  - name: build
    prompt: "Build it. Current step: {{.Step}}."
  - name: ship
    prompt: "Ship it."
terminal_step: ship
`

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(store.Config{
		Path:        testutil.TempStatePath(t),
		HistoryPath: testutil.TempHistoryPath(t),
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	def, err := ParseDefinition([]byte(testDefinition))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	return NewManager(s, def, nil, slog.New(slog.NewJSONHandler(io.Discard, nil))), s
}

func TestNextPromptNoWorkflow(t *testing.T) {
	m, _ := newTestManager(t)
	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeNoWorkflow {
		t.Fatalf("expected no-workflow, got %s", result.Outcome)
	}
	if !strings.Contains(result.Content, "workflow start") {
		t.Fatalf("content must explain how to start: %q", result.Content)
	}
}

func TestNextPromptWaitingOnActiveTasks(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.Start("release", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	task := schemas.NewTask("make build", "", nil)
	task.MarkRunning()
	if err := s.Add(task); err != nil {
		t.Fatalf("Add: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting, got %s", result.Outcome)
	}
	if !strings.Contains(result.Content, "make build") {
		t.Fatalf("waiting content must name the task: %q", result.Content)
	}

	// State unchanged.
	wf, err := s.ActiveWorkflow()
	if err != nil {
		t.Fatalf("ActiveWorkflow: %v", err)
	}
	if wf.Step != "plan" {
		t.Fatalf("waiting must not advance the step, got %q", wf.Step)
	}
}

func TestNextPromptRendersCurrentStep(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Start("release", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s: %s", result.Outcome, result.Content)
	}
	if result.Content != "Plan the release for release." {
		t.Fatalf("unexpected prompt %q", result.Content)
	}
}

func TestNextPromptFailureOnFailedRequiredTask(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.Start("release", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.RecordEvent(schemas.TaskEvent{
		Event: "task_finished", Command: "make build", TaskID: "task-1",
		Success: false, Error: "compile error", LogFile: "/tmp/b.log",
	}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := m.SetPendingTransition("build", []string{"make build"}); err != nil {
		t.Fatalf("SetPendingTransition: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeFailure {
		t.Fatalf("expected failure, got %s", result.Outcome)
	}
	for _, want := range []string{"make build", "compile error", "/tmp/b.log"} {
		if !strings.Contains(result.Content, want) {
			t.Fatalf("failure content missing %q: %q", want, result.Content)
		}
	}
	if len(result.FailedTaskIDs) != 1 || result.FailedTaskIDs[0] != "task-1" {
		t.Fatalf("expected failed task ids, got %v", result.FailedTaskIDs)
	}

	// No silent step advance on failure.
	wf, err := s.ActiveWorkflow()
	if err != nil {
		t.Fatalf("ActiveWorkflow: %v", err)
	}
	if wf.Step != "plan" || wf.PendingTransition() == nil {
		t.Fatalf("failure must leave workflow state unchanged, got step %q", wf.Step)
	}
}

func TestNextPromptCommitsTransitionOnSuccess(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.Start("release", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.RecordEvent(schemas.TaskEvent{
		Event: "task_finished", Command: "make build", TaskID: "task-1", Success: true,
	}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := m.SetPendingTransition("build", []string{"make build"}); err != nil {
		t.Fatalf("SetPendingTransition: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s: %s", result.Outcome, result.Content)
	}
	if result.Content != "Build it. Current step: build." {
		t.Fatalf("unexpected prompt %q", result.Content)
	}

	wf, err := s.ActiveWorkflow()
	if err != nil {
		t.Fatalf("ActiveWorkflow: %v", err)
	}
	if wf.Step != "build" || wf.PendingTransition() != nil {
		t.Fatalf("expected committed transition, got step %q", wf.Step)
	}
	if wf.Status != schemas.WorkflowStatusInProgress {
		t.Fatalf("non-terminal step keeps the workflow in progress")
	}

	// A second call with no pending transition renders the same step
	// without advancing again.
	again, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if again.Outcome != OutcomeSuccess || again.Content != "Build it. Current step: build." {
		t.Fatalf("expected idempotent success for step build, got %s: %q", again.Outcome, again.Content)
	}
}

func TestNextPromptUnreportedTaskDoesNotBlock(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.Start("release", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// "make build" never reported: not done is not the same as done-and-failed.
	if err := m.SetPendingTransition("build", []string{"make build"}); err != nil {
		t.Fatalf("SetPendingTransition: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("an unreported required task must not block, got %s", result.Outcome)
	}
	wf, err := s.ActiveWorkflow()
	if err != nil {
		t.Fatalf("ActiveWorkflow: %v", err)
	}
	if wf.Step != "build" {
		t.Fatalf("expected transition committed, got %q", wf.Step)
	}
}

func TestNextPromptTerminalStepCompletesWorkflow(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.Start("release", "build"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.SetPendingTransition("ship", nil); err != nil {
		t.Fatalf("SetPendingTransition: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	wf, err := s.ActiveWorkflow()
	if err != nil {
		t.Fatalf("ActiveWorkflow: %v", err)
	}
	if wf.Step != "ship" || wf.Status != schemas.WorkflowStatusCompleted {
		t.Fatalf("terminal step must complete the workflow, got %q/%s", wf.Step, wf.Status)
	}
}

func TestNextPromptFailureOnMissingTemplate(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.Start("release", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.MutateWorkflow(func(w *schemas.Workflow) error {
		w.Step = "no-such-step"
		return nil
	}); err != nil {
		t.Fatalf("MutateWorkflow: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeFailure {
		t.Fatalf("missing template is a failure outcome, got %s", result.Outcome)
	}
	if !strings.Contains(result.Content, "no-such-step") {
		t.Fatalf("failure content must name the step: %q", result.Content)
	}
}

func TestNextPromptTransitionToMissingTemplateLeavesStateUnchanged(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.Start("release", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.SetPendingTransition("no-such-step", nil); err != nil {
		t.Fatalf("SetPendingTransition: %v", err)
	}

	result, err := m.NextPrompt()
	if err != nil {
		t.Fatalf("NextPrompt: %v", err)
	}
	if result.Outcome != OutcomeFailure {
		t.Fatalf("unrenderable target step is a failure outcome, got %s", result.Outcome)
	}
	if !strings.Contains(result.Content, "no-such-step") {
		t.Fatalf("failure content must name the step: %q", result.Content)
	}

	// The transition must not have committed: step and pending transition
	// stay exactly as they were.
	wf, err := s.ActiveWorkflow()
	if err != nil {
		t.Fatalf("ActiveWorkflow: %v", err)
	}
	if wf.Step != "plan" {
		t.Fatalf("failure must leave the step unchanged, got %q", wf.Step)
	}
	transition := wf.PendingTransition()
	if transition == nil || transition.ToStep != "no-such-step" {
		t.Fatalf("failure must keep the pending transition, got %+v", transition)
	}
}

func TestStartSameNamePreservesStartTime(t *testing.T) {
	m, _ := newTestManager(t)
	first, err := m.Start("release", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(time.Millisecond)
	second, err := m.Start("release", "build")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("restarting the same workflow must keep startedAt")
	}
	if second.Step != "build" {
		t.Fatalf("expected explicit step, got %q", second.Step)
	}
}
