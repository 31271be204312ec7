package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TempStatePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.json")
}

func TempHistoryPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "history.db")
}

func TempLogDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFileWithModTime creates a file and backdates its modification time,
// for exercising age-based cleanup.
func WriteFileWithModTime(t *testing.T, path string, content string, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
