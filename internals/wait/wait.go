package wait

import (
	"context"
	"errors"
	"time"

	"github.com/taskherd/taskherd/internals/schemas"
	"github.com/taskherd/taskherd/internals/store"
)

const DefaultPollInterval = 2 * time.Second

// Waiter polls the task store until tasks reach a terminal state. There is no
// event channel between processes; staleness is bounded by the poll interval.
type Waiter struct {
	store        *store.Store
	pollInterval time.Duration
}

func New(s *store.Store, pollInterval time.Duration) *Waiter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Waiter{store: s, pollInterval: pollInterval}
}

// WaitForTask blocks until the task is terminal, the timeout elapses, or ctx
// is cancelled. It returns (true, exitCode) for a completed task and
// (false, exitCode) for a failed one. An id that resolves to no task returns
// (false, nil) immediately, as does a timeout. A timeout only releases the
// waiter; the background process keeps running and will still record its
// outcome.
func (w *Waiter) WaitForTask(ctx context.Context, id string, timeout time.Duration) (bool, *int) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		task, err := w.store.GetByID(id)
		if err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				return false, nil
			}
			return false, nil
		}
		if task.IsTerminal() {
			return task.Status == schemas.TaskStatusCompleted, task.ExitCode
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false, nil
		}
		sleep := w.pollInterval
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining < sleep {
				sleep = remaining
			}
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(sleep):
		}
	}
}

// OtherIncompleteTasks returns every pending or running task other than the
// excluded id, so a caller can report "other work is still in flight".
func (w *Waiter) OtherIncompleteTasks(excludeID string) []*schemas.Task {
	var out []*schemas.Task
	for _, task := range w.store.ListActive() {
		if task.ID == excludeID {
			continue
		}
		out = append(out, task)
	}
	return out
}

// FailedMostRecentPerCommand reports the failed tasks that are still each
// command's most recent run. Callers that just confirmed a set of commands
// succeeded pass those names as excludeCommands so a stale failure for one of
// them cannot resurface.
func (w *Waiter) FailedMostRecentPerCommand(excludeTaskID string, excludeCommands []string) []*schemas.Task {
	return w.store.FailedMostRecentPerCommand(excludeTaskID, excludeCommands)
}
