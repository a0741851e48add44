// Package logging builds the structured logger shared by the crawler
// and the control API. Output is JSON, to the console and optionally
// to a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 5
)

// Options controls where and how verbosely the logger writes.
type Options struct {
	Level      string // debug, info, warn or error
	FilePath   string // empty disables file output
	MaxSizeMB  int64  // rotation threshold, defaults to 100
	MaxBackups int    // rotated files to keep, defaults to 5
	Quiet      bool   // suppress console output
}

// New builds a JSON logger from opts. The returned closer releases the
// log file writer; it is a no-op when no file is configured.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	writers := make([]io.Writer, 0, 2)
	if !opts.Quiet {
		// Console output goes to stderr so one-shot commands keep
		// stdout for their result payload.
		writers = append(writers, os.Stderr)
	}

	closer := io.Closer(nopCloser{})
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = defaultMaxSizeMB
		}
		backups := opts.MaxBackups
		if backups <= 0 {
			backups = defaultMaxBackups
		}

		fw, err := newRotatingWriter(opts.FilePath, maxSize*1024*1024, backups)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, fw)
		closer = fw
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	out := writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	})
	return slog.New(handler), closer, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
