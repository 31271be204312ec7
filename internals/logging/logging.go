package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/taskherd/taskherd/internals/assert"
)

// Init sets up the process-wide slog logger: tinted output on stderr (plain
// when stderr is not a terminal) mirrored into log.txt under the data dir.
// The returned file must stay open for the lifetime of the process.
func Init(dataDir string, level slog.Level) (*slog.Logger, *os.File) {
	logPath := filepath.Join(dataDir, "log.txt")
	err := os.MkdirAll(filepath.Dir(logPath), 0o755)
	assert.AssertNil(err, "[taskherd] Failed to initialize log directory")

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	assert.AssertNil(err, "[taskherd] Failed to open log file")

	logWriter := io.MultiWriter(os.Stderr, logFile)
	handler := tint.NewHandler(logWriter, &tint.Options{
		Level:   level,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})
	logger := slog.New(handler)

	slog.SetDefault(logger)
	return logger, logFile
}

// InitQuiet logs only to the data-dir file. The detached runner uses it so
// the child produces no terminal output of its own.
func InitQuiet(dataDir string, level slog.Level) (*slog.Logger, *os.File) {
	logPath := filepath.Join(dataDir, "log.txt")
	err := os.MkdirAll(filepath.Dir(logPath), 0o755)
	assert.AssertNil(err, "[taskherd] Failed to initialize log directory")

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	assert.AssertNil(err, "[taskherd] Failed to open log file")

	handler := tint.NewHandler(logFile, &tint.Options{Level: level, NoColor: true})
	logger := slog.New(handler)

	slog.SetDefault(logger)
	return logger, logFile
}
