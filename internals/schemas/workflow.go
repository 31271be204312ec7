package schemas

import (
	"encoding/json"
	"time"
)

type WorkflowStatus string

const (
	WorkflowStatusInProgress WorkflowStatus = "in-progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
)

const (
	ContextKeyEventsLog         = "events_log"
	ContextKeyPendingTransition = "pending_transition"
)

// TaskEvent is one task-outcome record in a workflow's events log.
type TaskEvent struct {
	Event   string `json:"event"`
	Command string `json:"command"`
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	LogFile string `json:"log_file,omitempty"`
}

// PendingTransition declares the workflow's intent to move to ToStep once
// every command in RequiredTasks has succeeded.
type PendingTransition struct {
	ToStep        string   `json:"to_step"`
	RequiredTasks []string `json:"required_tasks"`
}

// Workflow is the singleton active workflow record stored in the shared
// document. Context is an open string-keyed map; the keys the engine cares
// about are events_log and pending_transition, everything else passes through
// untouched for prompt rendering.
type Workflow struct {
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	Step      string         `json:"step"`
	StartedAt time.Time      `json:"startedAt"`
	Context   map[string]any `json:"context,omitempty"`
}

func NewWorkflow(name string, step string) *Workflow {
	return &Workflow{
		Name:      name,
		Status:    WorkflowStatusInProgress,
		Step:      step,
		StartedAt: time.Now().UTC(),
		Context:   map[string]any{},
	}
}

// MergeContext merges updates key by key into the workflow context. A nil
// value is the remove sentinel and deletes the key.
func (w *Workflow) MergeContext(updates map[string]any) {
	if w.Context == nil {
		w.Context = map[string]any{}
	}
	for key, value := range updates {
		if value == nil {
			delete(w.Context, key)
			continue
		}
		w.Context[key] = value
	}
}

// Events decodes the events log out of the context map. A missing or
// malformed log decodes to empty, never an error: gating logic treats an
// unreadable log the same as one with no outcomes yet.
func (w *Workflow) Events() []TaskEvent {
	var events []TaskEvent
	decodeContextValue(w.Context[ContextKeyEventsLog], &events)
	return events
}

func (w *Workflow) AppendEvent(event TaskEvent) {
	events := w.Events()
	events = append(events, event)
	w.MergeContext(map[string]any{ContextKeyEventsLog: events})
}

// LastEventFor returns the most recent logged outcome for a command, or nil
// if the command has never reported.
func (w *Workflow) LastEventFor(command string) *TaskEvent {
	events := w.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Command == command {
			return &events[i]
		}
	}
	return nil
}

func (w *Workflow) PendingTransition() *PendingTransition {
	raw, ok := w.Context[ContextKeyPendingTransition]
	if !ok {
		return nil
	}
	var transition PendingTransition
	if !decodeContextValue(raw, &transition) || transition.ToStep == "" {
		return nil
	}
	return &transition
}

func (w *Workflow) SetPendingTransition(transition PendingTransition) {
	w.MergeContext(map[string]any{ContextKeyPendingTransition: transition})
}

func (w *Workflow) ClearPendingTransition() {
	w.MergeContext(map[string]any{ContextKeyPendingTransition: nil})
}

// decodeContextValue converts a context value into target. Values arrive
// either as typed structs (set in-process) or as generic JSON shapes (loaded
// from disk), so it round-trips through encoding/json.
func decodeContextValue(raw any, target any) bool {
	if raw == nil {
		return false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, target) == nil
}
