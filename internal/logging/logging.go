package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Options controls where and how verbosely the daemon logs.
type Options struct {
	Level string // debug, info, warn, error
	// Stderr mirrors records to standard error, used by -debug.
	Stderr bool
	// KeepFiles is the number of daily log files retained, including today's.
	KeepFiles int
	// Dir overrides the state directory.
	Dir string
}

// Setup creates a slog.Logger that writes to a dated log file in the user
// state directory. The caller is responsible for closing the file.
func Setup(opts Options) (*slog.Logger, *os.File, error) {
	stateDir := opts.Dir
	if stateDir == "" {
		var err error
		stateDir, err = StateDir()
		if err != nil {
			return nil, nil, fmt.Errorf("state dir: %w", err)
		}
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, fmt.Sprintf("musicrpc-%s.log", time.Now().Format("20060102")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	if opts.KeepFiles > 0 {
		_ = Prune(stateDir, opts.KeepFiles)
	}

	var w io.Writer = f
	if opts.Stderr {
		w = io.MultiWriter(f, os.Stderr)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(handler), f, nil
}

// ParseLevel maps a config level name onto a slog level. Unknown names log at
// warn.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Prune removes the oldest musicrpc log files so that at most keep remain.
func Prune(dir string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, "musicrpc-*.log"))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	// dated names sort chronologically
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("remove %s: %w", filepath.Base(old), err)
		}
	}
	return nil
}

// StateDir returns the path to the musicrpc state directory
// (~/.config/musicrpc/state). Logs and the artwork cache live here.
func StateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "musicrpc", "state"), nil
}
