package schemas

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is one unit of background work. A task is created pending by the
// launching process and moved to running and then to a terminal status by the
// detached process that executes it. The id never changes after creation.
type Task struct {
	ID           string            `json:"id"`
	Command      string            `json:"command"`
	Status       TaskStatus        `json:"status"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      *time.Time        `json:"endTime,omitempty"`
	LogFile      string            `json:"logFile,omitempty"`
	ExitCode     *int              `json:"exitCode,omitempty"`
	Args         map[string]string `json:"args,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

func NewTask(command string, logFile string, args map[string]string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Command:   command,
		Status:    TaskStatusPending,
		StartTime: time.Now().UTC(),
		LogFile:   logFile,
		Args:      args,
	}
}

func (t *Task) MarkRunning() {
	t.Status = TaskStatusRunning
}

// MarkCompleted is idempotent: calling it again overwrites the end time and
// exit code of the previous call.
func (t *Task) MarkCompleted(exitCode int) {
	now := time.Now().UTC()
	t.Status = TaskStatusCompleted
	t.EndTime = &now
	t.ExitCode = &exitCode
	t.ErrorMessage = ""
}

func (t *Task) MarkFailed(exitCode int, errorMessage string) {
	now := time.Now().UTC()
	t.Status = TaskStatusFailed
	t.EndTime = &now
	t.ExitCode = &exitCode
	t.ErrorMessage = errorMessage
}

func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// IsRecent reports whether the task belongs in the recent window: unfinished
// tasks always do, finished tasks only while their end time is strictly within
// the window.
func (t *Task) IsRecent(window time.Duration) bool {
	if t.EndTime == nil {
		return true
	}
	return time.Since(*t.EndTime) < window
}

// IsExpired is the eviction complement of IsRecent. It is only ever true for
// terminal tasks; an unfinished task never expires.
func (t *Task) IsExpired(retention time.Duration) bool {
	if !t.IsTerminal() || t.EndTime == nil {
		return false
	}
	return time.Since(*t.EndTime) >= retention
}

// Duration returns how long the task ran. For a running task this is a live
// estimate against the current clock. The second return is false when no
// duration can be computed (pending task, or missing start time).
func (t *Task) Duration() (time.Duration, bool) {
	if t.StartTime.IsZero() {
		return 0, false
	}
	if t.EndTime != nil {
		return t.EndTime.Sub(t.StartTime), true
	}
	if t.Status == TaskStatusRunning {
		return time.Since(t.StartTime), true
	}
	return 0, false
}
