package schemas

import (
	"encoding/json"
	"testing"
)

func TestMergeContext(t *testing.T) {
	w := NewWorkflow("release", "plan")
	w.MergeContext(map[string]any{"branch": "main", "dry_run": true})
	if w.Context["branch"] != "main" {
		t.Fatalf("expected merged key")
	}

	w.MergeContext(map[string]any{"dry_run": nil})
	if _, ok := w.Context["dry_run"]; ok {
		t.Fatalf("nil value must delete the key")
	}
	if w.Context["branch"] != "main" {
		t.Fatalf("unrelated keys must survive a merge")
	}
}

func TestEventsLogAppendAndLookup(t *testing.T) {
	w := NewWorkflow("release", "plan")
	if len(w.Events()) != 0 {
		t.Fatalf("fresh workflow has no events")
	}

	w.AppendEvent(TaskEvent{Event: "task_finished", Command: "make build", TaskID: "a", Success: false, Error: "boom"})
	w.AppendEvent(TaskEvent{Event: "task_finished", Command: "make build", TaskID: "b", Success: true})
	w.AppendEvent(TaskEvent{Event: "task_finished", Command: "make test", TaskID: "c", Success: false})

	if got := len(w.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	last := w.LastEventFor("make build")
	if last == nil || last.TaskID != "b" || !last.Success {
		t.Fatalf("expected latest outcome per command, got %+v", last)
	}
	if w.LastEventFor("make deploy") != nil {
		t.Fatalf("unknown command has no event")
	}
}

func TestEventsSurviveJSONRoundTrip(t *testing.T) {
	w := NewWorkflow("release", "plan")
	w.AppendEvent(TaskEvent{Event: "task_finished", Command: "make build", TaskID: "a", Success: true, LogFile: "/tmp/a.log"})
	w.SetPendingTransition(PendingTransition{ToStep: "ship", RequiredTasks: []string{"make build"}})

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Workflow
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	events := decoded.Events()
	if len(events) != 1 || events[0].Command != "make build" || events[0].LogFile != "/tmp/a.log" {
		t.Fatalf("events not preserved: %+v", events)
	}
	transition := decoded.PendingTransition()
	if transition == nil || transition.ToStep != "ship" || len(transition.RequiredTasks) != 1 {
		t.Fatalf("pending transition not preserved: %+v", transition)
	}
}

func TestClearPendingTransition(t *testing.T) {
	w := NewWorkflow("release", "plan")
	w.SetPendingTransition(PendingTransition{ToStep: "ship"})
	if w.PendingTransition() == nil {
		t.Fatalf("expected pending transition")
	}
	w.ClearPendingTransition()
	if w.PendingTransition() != nil {
		t.Fatalf("expected transition cleared")
	}
}
