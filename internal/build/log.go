// Package build sets up process-wide logging.
package build

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nhle/inboxpilot/internal/model"
)

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the root logger from cfg. Output goes to console and,
// when cfg.Dir is set, also to a rotating file. The returned closer
// flushes the file.
func NewLogger(cfg model.LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out := console
	var closer io.Closer = nopCloser{}
	if cfg.Dir != "" {
		rot, err := NewRotatingLogWriter(cfg.Dir, cfg.MaxFiles, cfg.MaxSizeMB)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(console, rot)
		closer = rot
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(handler), closer, nil
}
