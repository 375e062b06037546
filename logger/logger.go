// Package logger configures the process-wide slog logger for the client.
//
// Command output owns stdout, and the MCP server speaks its protocol there,
// so logs never go to stdout.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
)

// FileName is the log file created in the data directory.
const FileName = "client.log"

type Config struct {
	DataDir string
	DevMode bool
	// Level is debug, info, warn or error. Anything else means info.
	Level string
	// File overrides <DataDir>/client.log.
	File string
	// Format "json" selects the JSON handler; the default is text.
	Format string
}

// path returns where logs go, or "" for stderr. Dev mode logs to stderr
// unless a file is named explicitly.
func (c Config) path() string {
	switch {
	case c.File != "":
		return c.File
	case c.DevMode || c.DataDir == "":
		return ""
	default:
		return filepath.Join(c.DataDir, FileName)
	}
}

// Init installs the global logger and returns a func that closes the log
// file, if one was opened. A file that cannot be opened falls back to stderr.
func Init(cfg Config) (closeFn func()) {
	closeFn = func() {}
	var w io.Writer = os.Stderr

	if path := cfg.path(); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: logging to stderr: %v\n", err)
		} else {
			w = f
			closeFn = func() { f.Close() }
		}
	}

	slog.SetDefault(slog.New(newHandler(w, cfg)))
	return closeFn
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRequestLogger returns a logger stamped with a fresh uuid v7 requestId,
// one per outgoing API call.
func NewRequestLogger() *slog.Logger {
	return slog.With("requestId", uuid.Must(uuid.NewV7()).String())
}

// LogPanic logs a recovered panic value together with the goroutine stack.
func LogPanic(r any, msg string, args ...any) {
	args = append(args, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	slog.Error(msg, args...)
}
