package logfiles

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/taskherd/taskherd/internals/naming"
)

const DefaultMaxAge = 24 * time.Hour

// Manager owns the per-task log files under a single directory. Log files
// belong exclusively to the task that created them; the only cross-task
// operation is the cleanup sweep.
type Manager struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, logger: logger}
}

func (m *Manager) Dir() string {
	return m.dir
}

// NewLogPath returns a collision-free log path for a command. The nanosecond
// timestamp keeps back-to-back calls with identical command names distinct.
func (m *Manager) NewLogPath(command string) string {
	stamp := time.Now().UTC().Format("20060102-150405.000000000")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	name := fmt.Sprintf("%s_%s.log", naming.SanitizeCommandPrefix(command), stamp)
	return filepath.Join(m.dir, name)
}

func (m *Manager) EnsureDir() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}
	return nil
}

// Read returns log content. lines == 0 reads the whole file, a positive count
// reads the first n lines, a negative count the last n. A missing file
// surfaces as an os.ErrNotExist-compatible error.
func (m *Manager) Read(path string, lines int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if lines == 0 {
		return string(data), nil
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if lines > 0 {
		if lines < len(all) {
			all = all[:lines]
		}
	} else {
		n := -lines
		if n < len(all) {
			all = all[len(all)-n:]
		}
	}
	return strings.Join(all, "\n") + "\n", nil
}

// Cleanup deletes log files older than maxAge by modification time, then, if
// maxCount is positive, the oldest files beyond that count. Files that cannot
// be statted or removed are skipped so one bad file never aborts the sweep.
// Returns how many files were removed.
func (m *Manager) Cleanup(maxAge time.Duration, maxCount int) int {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read log dir", "dir", m.dir, "error", err)
		}
		return 0
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(m.dir, entry.Name()), modTime: info.ModTime()})
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	var survivors []logFile
	for _, file := range files {
		if file.modTime.Before(cutoff) {
			if err := os.Remove(file.path); err != nil {
				m.logger.Debug("failed to remove aged log", "path", file.path, "error", err)
				survivors = append(survivors, file)
				continue
			}
			removed++
			continue
		}
		survivors = append(survivors, file)
	}

	if maxCount > 0 && len(survivors) > maxCount {
		sort.Slice(survivors, func(i, j int) bool {
			return survivors[i].modTime.After(survivors[j].modTime)
		})
		for _, file := range survivors[maxCount:] {
			if err := os.Remove(file.path); err != nil {
				m.logger.Debug("failed to remove surplus log", "path", file.path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed
}
