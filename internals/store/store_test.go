package store

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/taskherd/taskherd/internals/schemas"
	"github.com/taskherd/taskherd/internals/testutil"
)

func newTestStore(t *testing.T, window time.Duration) *Store {
	t.Helper()
	s, err := New(Config{
		Path:         testutil.TempStatePath(t),
		HistoryPath:  testutil.TempHistoryPath(t),
		RecentWindow: window,
		LockTimeout:  time.Second,
		Logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func finished(t *testing.T, s *Store, command string, status schemas.TaskStatus, endAgo time.Duration) *schemas.Task {
	t.Helper()
	task := schemas.NewTask(command, "", nil)
	if err := s.Add(task); err != nil {
		t.Fatalf("Add: %v", err)
	}
	task.MarkRunning()
	if status == schemas.TaskStatusFailed {
		task.MarkFailed(1, command+" broke")
	} else {
		task.MarkCompleted(0)
	}
	end := time.Now().UTC().Add(-endAgo)
	task.EndTime = &end
	task.StartTime = end.Add(-time.Second)
	if err := s.Update(task); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return task
}

func TestAddAndGetByID(t *testing.T) {
	s := newTestStore(t, time.Hour)
	task := schemas.NewTask("make build", "/tmp/x.log", map[string]string{"k": "v"})
	if err := s.Add(task); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.GetByID(task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Command != "make build" || got.Args["k"] != "v" {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestGetByIDPrefix(t *testing.T) {
	s := newTestStore(t, time.Hour)
	task := schemas.NewTask("make build", "", nil)
	if err := s.Add(task); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.GetByID(task.ID[:8])
	if err != nil {
		t.Fatalf("prefix lookup: %v", err)
	}
	if got.ID != task.ID {
		t.Fatalf("expected %s, got %s", task.ID, got.ID)
	}

	if _, err := s.GetByID(task.ID[:4]); err == nil {
		t.Fatalf("prefixes shorter than 8 characters must not match")
	}
	if _, err := s.GetByID("ffffffff"); err == nil {
		t.Fatalf("unknown prefix must not match")
	}
}

func TestGetByIDMissing(t *testing.T) {
	s := newTestStore(t, time.Hour)
	if _, err := s.GetByID("does-not-exist"); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCorruptStateFileTreatedAsEmpty(t *testing.T) {
	path := testutil.TempStatePath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := New(Config{
		Path:        path,
		HistoryPath: testutil.TempHistoryPath(t),
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if got := s.List(); len(got) != 0 {
		t.Fatalf("corrupt file must read as empty, got %d tasks", len(got))
	}
	if err := s.Add(schemas.NewTask("cmd", "", nil)); err != nil {
		t.Fatalf("Add after corruption: %v", err)
	}
	if got := s.List(); len(got) != 1 {
		t.Fatalf("expected store to recover, got %d tasks", len(got))
	}
}

func TestListDisplayOrder(t *testing.T) {
	s := newTestStore(t, time.Hour)

	older := finished(t, s, "finished-older", schemas.TaskStatusCompleted, 10*time.Minute)
	newer := finished(t, s, "finished-newer", schemas.TaskStatusCompleted, time.Minute)

	running := schemas.NewTask("still-running", "", nil)
	running.StartTime = time.Now().UTC().Add(-5 * time.Minute)
	running.MarkRunning()
	if err := s.Add(running); err != nil {
		t.Fatalf("Add: %v", err)
	}
	pending := schemas.NewTask("just-queued", "", nil)
	if err := s.Add(pending); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := s.List()
	if len(got) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(got))
	}
	wantOrder := []string{running.ID, pending.ID, older.ID, newer.ID}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s (%s)", i, want, got[i].ID, got[i].Command)
		}
	}
}

func TestRecentWindowEviction(t *testing.T) {
	s := newTestStore(t, time.Minute)

	evicted := finished(t, s, "old-finished", schemas.TaskStatusCompleted, 10*time.Minute)
	kept := finished(t, s, "new-finished", schemas.TaskStatusCompleted, time.Second)
	running := schemas.NewTask("old-running", "", nil)
	running.StartTime = time.Now().UTC().Add(-time.Hour)
	running.MarkRunning()
	if err := s.Add(running); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := s.List()
	if len(got) != 2 {
		t.Fatalf("expected eviction down to 2 tasks, got %d", len(got))
	}
	for _, task := range got {
		if task.ID == evicted.ID {
			t.Fatalf("expired task must be evicted from the recent window")
		}
	}

	// Evicted from the window, still resolvable through history.
	if _, err := s.GetByID(evicted.ID); err != nil {
		t.Fatalf("evicted task must remain in history: %v", err)
	}
	_ = kept
}

func TestListActive(t *testing.T) {
	s := newTestStore(t, time.Hour)
	finished(t, s, "done", schemas.TaskStatusCompleted, time.Minute)
	pending := schemas.NewTask("pending", "", nil)
	if err := s.Add(pending); err != nil {
		t.Fatalf("Add: %v", err)
	}

	active := s.ListActive()
	if len(active) != 1 || active[0].ID != pending.ID {
		t.Fatalf("expected only the pending task, got %+v", active)
	}
}

func TestMostRecentPerCommand(t *testing.T) {
	s := newTestStore(t, time.Hour)
	finished(t, s, "make build", schemas.TaskStatusFailed, 10*time.Minute)
	newer := finished(t, s, "make build", schemas.TaskStatusCompleted, time.Minute)
	other := finished(t, s, "make test", schemas.TaskStatusCompleted, 5*time.Minute)

	got := s.MostRecentPerCommand()
	if len(got) != 2 {
		t.Fatalf("expected one task per command, got %d", len(got))
	}
	byCommand := map[string]string{}
	for _, task := range got {
		byCommand[task.Command] = task.ID
	}
	if byCommand["make build"] != newer.ID || byCommand["make test"] != other.ID {
		t.Fatalf("expected newest run per command, got %v", byCommand)
	}
}

func TestMostRecentPerCommandPrefersUnfinished(t *testing.T) {
	s := newTestStore(t, time.Hour)
	finished(t, s, "make build", schemas.TaskStatusFailed, time.Minute)

	rerun := schemas.NewTask("make build", "", nil)
	if err := s.Add(rerun); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := s.MostRecentPerCommand()
	if len(got) != 1 || got[0].ID != rerun.ID {
		t.Fatalf("a pending rerun is the command's most recent task, got %+v", got)
	}
}

func TestFailedMostRecentPerCommand(t *testing.T) {
	s := newTestStore(t, time.Hour)
	stale := finished(t, s, "make build", schemas.TaskStatusFailed, 10*time.Minute)
	newer := finished(t, s, "make build", schemas.TaskStatusCompleted, time.Minute)
	otherFail := finished(t, s, "make test", schemas.TaskStatusFailed, 2*time.Minute)

	got := s.FailedMostRecentPerCommand(newer.ID, []string{newer.Command})
	if len(got) != 1 || got[0].ID != otherFail.ID {
		t.Fatalf("stale failure must not resurface after a newer success, got %+v", got)
	}

	unfiltered := s.FailedMostRecentPerCommand("", nil)
	if len(unfiltered) != 1 || unfiltered[0].ID != otherFail.ID {
		t.Fatalf("even unfiltered, the newer success shadows the stale failure: %+v", unfiltered)
	}
	_ = stale
}

func TestWorkflowSingleton(t *testing.T) {
	s := newTestStore(t, time.Hour)

	if _, err := s.ActiveWorkflow(); err != ErrNoWorkflow {
		t.Fatalf("expected ErrNoWorkflow, got %v", err)
	}

	first, err := s.SetWorkflow("release", "plan")
	if err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}

	// Same name merges and keeps the original start time.
	time.Sleep(time.Millisecond)
	merged, err := s.SetWorkflow("release", "ship")
	if err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}
	if !merged.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("startedAt must be preserved for the same workflow name")
	}
	if merged.Step != "ship" {
		t.Fatalf("expected step update, got %q", merged.Step)
	}

	// A different name replaces the singleton.
	replaced, err := s.SetWorkflow("hotfix", "triage")
	if err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}
	if replaced.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("new workflow must get a fresh start time")
	}

	if err := s.ClearWorkflow(); err != nil {
		t.Fatalf("ClearWorkflow: %v", err)
	}
	if _, err := s.ActiveWorkflow(); err != ErrNoWorkflow {
		t.Fatalf("expected cleared workflow, got %v", err)
	}
}

func TestMutateWorkflowPersists(t *testing.T) {
	s := newTestStore(t, time.Hour)
	if _, err := s.SetWorkflow("release", "plan"); err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}

	err := s.MutateWorkflow(func(w *schemas.Workflow) error {
		w.AppendEvent(schemas.TaskEvent{Event: "task_finished", Command: "make build", TaskID: "x", Success: true})
		return nil
	})
	if err != nil {
		t.Fatalf("MutateWorkflow: %v", err)
	}

	wf, err := s.ActiveWorkflow()
	if err != nil {
		t.Fatalf("ActiveWorkflow: %v", err)
	}
	if len(wf.Events()) != 1 {
		t.Fatalf("expected persisted event, got %+v", wf.Context)
	}
}
