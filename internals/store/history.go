package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskherd/taskherd/internals/schemas"
)

// History is the unbounded record of every task ever created. Rows are
// appended on create and patched in place on update; nothing is removed
// except by an explicit Cleanup call.
type History struct {
	db *sql.DB
}

type historyRow struct {
	ID           string
	Command      string
	Status       string
	StartTime    string
	EndTime      string
	LogFile      string
	ExitCode     sql.NullInt64
	ArgsJSON     string
	ErrorMessage string
}

func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, err
	}
	history := &History{db: db}
	if err := history.init(); err != nil {
		return nil, err
	}
	return history, nil
}

func (h *History) init() error {
	_, err := h.db.Exec(`
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	status TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT,
	log_file TEXT,
	exit_code INTEGER,
	args_json TEXT,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_command ON tasks(command);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`)
	return err
}

func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) Insert(ctx context.Context, task *schemas.Task) error {
	row, err := toRow(task)
	if err != nil {
		return err
	}
	_, err = h.db.ExecContext(ctx, `
INSERT OR REPLACE INTO tasks (id, command, status, start_time, end_time, log_file, exit_code, args_json, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, row.ID, row.Command, row.Status, row.StartTime, nullIfEmpty(row.EndTime), nullIfEmpty(row.LogFile), row.ExitCode, nullIfEmpty(row.ArgsJSON), nullIfEmpty(row.ErrorMessage))
	return err
}

func (h *History) Update(ctx context.Context, task *schemas.Task) error {
	row, err := toRow(task)
	if err != nil {
		return err
	}
	result, err := h.db.ExecContext(ctx, `
UPDATE tasks
SET status = ?, end_time = ?, log_file = ?, exit_code = ?, error_message = ?
WHERE id = ?
`, row.Status, nullIfEmpty(row.EndTime), nullIfEmpty(row.LogFile), row.ExitCode, nullIfEmpty(row.ErrorMessage), row.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return h.Insert(ctx, task)
	}
	return nil
}

// GetByID resolves by exact id, then by unambiguous prefix of at least eight
// characters.
func (h *History) GetByID(ctx context.Context, id string) (*schemas.Task, error) {
	task, err := h.queryOne(ctx, "SELECT id, command, status, start_time, end_time, log_file, exit_code, args_json, error_message FROM tasks WHERE id = ?", id)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}
	if len(id) < minPrefixLen {
		return nil, ErrTaskNotFound
	}

	// Escape LIKE metacharacters so % and _ in a caller-supplied prefix
	// match literally instead of acting as wildcards.
	prefix := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(id)
	rows, err := h.db.QueryContext(ctx, `SELECT id, command, status, start_time, end_time, log_file, exit_code, args_json, error_message FROM tasks WHERE id LIKE ? ESCAPE '\' LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []*schemas.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, ErrTaskNotFound
	}
	return matches[0], nil
}

// Cleanup removes terminal tasks whose end time is older than maxAge, then,
// if maxCount is positive, removes the oldest rows beyond that count.
// Returns how many rows were deleted.
func (h *History) Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT id, start_time, end_time FROM tasks")
	if err != nil {
		return 0, err
	}
	type entry struct {
		id       string
		start    time.Time
		end      *time.Time
		terminal bool
	}
	var entries []entry
	for rows.Next() {
		var id, startText string
		var endText sql.NullString
		if err := rows.Scan(&id, &startText, &endText); err != nil {
			rows.Close()
			return 0, err
		}
		e := entry{id: id}
		e.start, _ = time.Parse(time.RFC3339Nano, startText)
		if endText.Valid {
			if end, err := time.Parse(time.RFC3339Nano, endText.String); err == nil {
				e.end = &end
				e.terminal = true
			}
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	doomed := map[string]bool{}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.terminal && e.end.Before(cutoff) {
			doomed[e.id] = true
		}
	}
	if maxCount > 0 {
		var kept []entry
		for _, e := range entries {
			if !doomed[e.id] {
				kept = append(kept, e)
			}
		}
		sort.Slice(kept, func(i, j int) bool {
			return kept[i].start.After(kept[j].start)
		})
		for _, e := range kept[min(maxCount, len(kept)):] {
			doomed[e.id] = true
		}
	}

	removed := 0
	for id := range doomed {
		if _, err := h.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (h *History) queryOne(ctx context.Context, query string, args ...any) (*schemas.Task, error) {
	row := h.db.QueryRowContext(ctx, query, args...)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(src scanner) (*schemas.Task, error) {
	var row historyRow
	var endTime, logFile, argsJSON, errorMessage sql.NullString
	if err := src.Scan(&row.ID, &row.Command, &row.Status, &row.StartTime, &endTime, &logFile, &row.ExitCode, &argsJSON, &errorMessage); err != nil {
		return nil, err
	}
	row.EndTime = endTime.String
	row.LogFile = logFile.String
	row.ArgsJSON = argsJSON.String
	row.ErrorMessage = errorMessage.String
	return fromRow(row)
}

func toRow(task *schemas.Task) (historyRow, error) {
	row := historyRow{
		ID:           task.ID,
		Command:      task.Command,
		Status:       string(task.Status),
		StartTime:    task.StartTime.UTC().Format(time.RFC3339Nano),
		LogFile:      task.LogFile,
		ErrorMessage: task.ErrorMessage,
	}
	if task.EndTime != nil {
		row.EndTime = task.EndTime.UTC().Format(time.RFC3339Nano)
	}
	if task.ExitCode != nil {
		row.ExitCode = sql.NullInt64{Int64: int64(*task.ExitCode), Valid: true}
	}
	if len(task.Args) > 0 {
		data, err := json.Marshal(task.Args)
		if err != nil {
			return historyRow{}, fmt.Errorf("failed to encode task args: %w", err)
		}
		row.ArgsJSON = string(data)
	}
	return row, nil
}

func fromRow(row historyRow) (*schemas.Task, error) {
	task := &schemas.Task{
		ID:           row.ID,
		Command:      row.Command,
		Status:       schemas.TaskStatus(row.Status),
		LogFile:      row.LogFile,
		ErrorMessage: row.ErrorMessage,
	}
	start, err := time.Parse(time.RFC3339Nano, row.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid start_time for task %s: %w", row.ID, err)
	}
	task.StartTime = start
	if row.EndTime != "" {
		end, err := time.Parse(time.RFC3339Nano, row.EndTime)
		if err != nil {
			return nil, fmt.Errorf("invalid end_time for task %s: %w", row.ID, err)
		}
		task.EndTime = &end
	}
	if row.ExitCode.Valid {
		code := int(row.ExitCode.Int64)
		task.ExitCode = &code
	}
	if row.ArgsJSON != "" {
		if err := json.Unmarshal([]byte(row.ArgsJSON), &task.Args); err != nil {
			return nil, fmt.Errorf("invalid args for task %s: %w", row.ID, err)
		}
	}
	return task, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
