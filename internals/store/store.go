package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/taskherd/taskherd/internals/schemas"
)

// ConsistencyMode names the tradeoff taken when the advisory lock on the
// shared document cannot be acquired. BestEffort falls back to an unlocked
// read/write so callers are never blocked on bookkeeping; Strict surfaces the
// lock error instead.
type ConsistencyMode string

const (
	ModeBestEffort ConsistencyMode = "best-effort"
	ModeStrict     ConsistencyMode = "strict"
)

const minPrefixLen = 8

var ErrTaskNotFound = errors.New("task not found")
var ErrNoWorkflow = errors.New("no active workflow")

type Config struct {
	Path         string
	HistoryPath  string
	RecentWindow time.Duration
	LockTimeout  time.Duration
	Mode         ConsistencyMode
	Logger       *slog.Logger
}

// Store persists the shared task document: a small recent window in a
// lock-guarded JSON file plus the unbounded history database. Every
// read-modify-write cycle runs under a cross-process flock on a sidecar
// .lock file.
type Store struct {
	path         string
	lockPath     string
	recentWindow time.Duration
	lockTimeout  time.Duration
	mode         ConsistencyMode
	logger       *slog.Logger
	history      *History
}

type document struct {
	RecentTasks []*schemas.Task   `json:"recentTasks"`
	Workflow    *schemas.Workflow `json:"workflow,omitempty"`
}

func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = time.Hour
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBestEffort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(filepath.Dir(cfg.Path), "history.db")
	}
	history, err := OpenHistory(historyPath)
	if err != nil {
		return nil, err
	}

	return &Store{
		path:         cfg.Path,
		lockPath:     cfg.Path + ".lock",
		recentWindow: cfg.RecentWindow,
		lockTimeout:  cfg.LockTimeout,
		mode:         cfg.Mode,
		logger:       cfg.Logger,
		history:      history,
	}, nil
}

func (s *Store) Close() error {
	return s.history.Close()
}

func (s *Store) History() *History {
	return s.history
}

// Add inserts a freshly created task into the recent window and appends it to
// history.
func (s *Store) Add(task *schemas.Task) error {
	err := s.mutate(func(doc *document) error {
		doc.RecentTasks = append(doc.RecentTasks, task)
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.history.Insert(context.Background(), task); err != nil {
		s.logger.Warn("failed to append task to history", "task_id", task.ID, "error", err)
	}
	return nil
}

// Update replaces the task with the same id in the recent window and patches
// its history row. A task already evicted from the window is still patched in
// history.
func (s *Store) Update(task *schemas.Task) error {
	err := s.mutate(func(doc *document) error {
		for i, existing := range doc.RecentTasks {
			if existing.ID == task.ID {
				doc.RecentTasks[i] = task
				return nil
			}
		}
		if task.IsRecent(s.recentWindow) {
			doc.RecentTasks = append(doc.RecentTasks, task)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.history.Update(context.Background(), task); err != nil {
		s.logger.Warn("failed to patch task in history", "task_id", task.ID, "error", err)
	}
	return nil
}

// GetByID resolves a task by exact id, then by unambiguous prefix of at least
// eight characters, first against the recent window, then against history.
func (s *Store) GetByID(id string) (*schemas.Task, error) {
	var found *schemas.Task
	s.view(func(doc *document) {
		found = matchTask(doc.RecentTasks, id)
	})
	if found != nil {
		return found, nil
	}

	task, err := s.history.GetByID(context.Background(), id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		s.logger.Warn("history lookup failed", "task_id", id, "error", err)
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// List returns the recent window in display order: unfinished tasks first by
// start time ascending, then finished tasks by end time ascending.
func (s *Store) List() []*schemas.Task {
	var tasks []*schemas.Task
	s.view(func(doc *document) {
		tasks = append(tasks, doc.RecentTasks...)
	})
	sortDisplay(tasks)
	return tasks
}

func (s *Store) ListByStatus(status schemas.TaskStatus) []*schemas.Task {
	var out []*schemas.Task
	for _, task := range s.List() {
		if task.Status == status {
			out = append(out, task)
		}
	}
	return out
}

// ListActive returns every pending or running task.
func (s *Store) ListActive() []*schemas.Task {
	var out []*schemas.Task
	for _, task := range s.List() {
		if !task.IsTerminal() {
			out = append(out, task)
		}
	}
	return out
}

// MostRecentPerCommand keeps, for each distinct command name, only the most
// recent task. Recency is the end time for finished tasks and the start time
// for unfinished ones; on an exact tie the unfinished task wins.
func (s *Store) MostRecentPerCommand() []*schemas.Task {
	latest := map[string]*schemas.Task{}
	for _, task := range s.List() {
		current, ok := latest[task.Command]
		if !ok || moreRecent(task, current) {
			latest[task.Command] = task
		}
	}
	out := make([]*schemas.Task, 0, len(latest))
	for _, task := range latest {
		out = append(out, task)
	}
	sortDisplay(out)
	return out
}

// FailedMostRecentPerCommand returns the failed tasks among the most-recent
// task per command, minus the excluded task id and excluded command names.
// An older failure for a command never appears here once a newer run of the
// same command exists, because the newer run is the command's representative.
func (s *Store) FailedMostRecentPerCommand(excludeTaskID string, excludeCommands []string) []*schemas.Task {
	excluded := map[string]bool{}
	for _, command := range excludeCommands {
		excluded[command] = true
	}
	var out []*schemas.Task
	for _, task := range s.MostRecentPerCommand() {
		if task.Status != schemas.TaskStatusFailed {
			continue
		}
		if excludeTaskID != "" && task.ID == excludeTaskID {
			continue
		}
		if excluded[task.Command] {
			continue
		}
		out = append(out, task)
	}
	return out
}

// ActiveWorkflow returns the singleton workflow record, or ErrNoWorkflow.
func (s *Store) ActiveWorkflow() (*schemas.Workflow, error) {
	var workflow *schemas.Workflow
	s.view(func(doc *document) {
		workflow = doc.Workflow
	})
	if workflow == nil {
		return nil, ErrNoWorkflow
	}
	return workflow, nil
}

// SetWorkflow activates a workflow. Setting a workflow whose name matches the
// currently active one merges into it, preserving its start time.
func (s *Store) SetWorkflow(name string, step string) (*schemas.Workflow, error) {
	var result *schemas.Workflow
	err := s.mutate(func(doc *document) error {
		if doc.Workflow != nil && doc.Workflow.Name == name {
			doc.Workflow.Step = step
			doc.Workflow.Status = schemas.WorkflowStatusInProgress
		} else {
			doc.Workflow = schemas.NewWorkflow(name, step)
		}
		result = doc.Workflow
		return nil
	})
	return result, err
}

// MutateWorkflow runs fn against the active workflow inside one locked
// read-modify-write cycle. Returns ErrNoWorkflow when none is active.
func (s *Store) MutateWorkflow(fn func(workflow *schemas.Workflow) error) error {
	return s.mutate(func(doc *document) error {
		if doc.Workflow == nil {
			return ErrNoWorkflow
		}
		return fn(doc.Workflow)
	})
}

func (s *Store) ClearWorkflow() error {
	return s.mutate(func(doc *document) error {
		doc.Workflow = nil
		return nil
	})
}

// mutate wraps one read-modify-write cycle against the shared document in the
// advisory lock, applies fn, evicts expired tasks, and writes atomically.
func (s *Store) mutate(fn func(doc *document) error) error {
	unlock, err := s.acquireLock()
	if err != nil {
		if s.mode == ModeStrict {
			return fmt.Errorf("failed to lock state file: %w", err)
		}
		s.logger.Warn("state lock unavailable, falling back to unlocked write", "path", s.path, "error", err)
	} else {
		defer unlock()
	}

	doc := s.load()
	if err := fn(doc); err != nil {
		return err
	}
	s.evictExpired(doc)
	return s.save(doc)
}

func (s *Store) view(fn func(doc *document)) {
	unlock, err := s.acquireLock()
	if err != nil {
		s.logger.Debug("state lock unavailable, reading unlocked", "path", s.path, "error", err)
	} else {
		defer unlock()
	}
	fn(s.load())
}

func (s *Store) acquireLock() (func(), error) {
	fl := flock.New(s.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, errors.New("lock acquisition timed out")
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release state lock", "path", s.lockPath, "error", err)
		}
	}, nil
}

// load treats a missing or corrupt state file as an empty document. Tasks are
// best-effort bookkeeping; starting fresh beats propagating a parse error.
func (s *Store) load() *document {
	doc := &document{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read state file, starting empty", "path", s.path, "error", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Warn("state file is corrupt, starting empty", "path", s.path, "error", err)
		return &document{}
	}
	return doc
}

func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *Store) evictExpired(doc *document) {
	kept := doc.RecentTasks[:0]
	for _, task := range doc.RecentTasks {
		if !task.IsExpired(s.recentWindow) {
			kept = append(kept, task)
		}
	}
	doc.RecentTasks = kept
}

func matchTask(tasks []*schemas.Task, id string) *schemas.Task {
	for _, task := range tasks {
		if task.ID == id {
			return task
		}
	}
	if len(id) < minPrefixLen {
		return nil
	}
	var match *schemas.Task
	for _, task := range tasks {
		if strings.HasPrefix(task.ID, id) {
			if match != nil {
				return nil // ambiguous prefix
			}
			match = task
		}
	}
	return match
}

func sortDisplay(tasks []*schemas.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		aDone, bDone := a.IsTerminal(), b.IsTerminal()
		if aDone != bDone {
			return !aDone
		}
		if !aDone {
			return a.StartTime.Before(b.StartTime)
		}
		return endTime(a).Before(endTime(b))
	})
}

func moreRecent(a, b *schemas.Task) bool {
	aKey, bKey := recencyKey(a), recencyKey(b)
	if aKey.Equal(bKey) {
		return !a.IsTerminal() && b.IsTerminal()
	}
	return aKey.After(bKey)
}

func recencyKey(t *schemas.Task) time.Time {
	if t.IsTerminal() && t.EndTime != nil {
		return *t.EndTime
	}
	return t.StartTime
}

func endTime(t *schemas.Task) time.Time {
	if t.EndTime != nil {
		return *t.EndTime
	}
	return t.StartTime
}
