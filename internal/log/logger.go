// Package log implements structured logging using slog, plus the pattern
// logger used for human-readable event lines.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/buffwatch/internal/config"
)

// Init installs the process logger described by cfg: stdout, plus a rotated
// file when enabled. The returned func closes the file.
func Init(cfg config.LogConfig) (closeFn func() error, err error) {
	closeFn = func() error { return nil }
	out := io.Writer(os.Stdout)

	if cfg.Outputs.File.Enabled {
		file, err := newRotatingFile(cfg.Outputs.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = file.Close
	}

	handler, err := NewHandler(out, cfg)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	slog.SetDefault(slog.New(handler))
	return closeFn, nil
}

// NewHandler builds the slog handler selected by cfg.Format, writing to w.
// Debug level adds the source location to every record.
func NewHandler(w io.Writer, cfg config.LogConfig) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
}

// parseLevel accepts debug, info, warn (or warning) and error, in any case.
func parseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "error":
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return slog.LevelInfo, err
		}
		return level, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %q", s)
	}
}

// newRotatingFile opens the lumberjack writer for the file output.
func newRotatingFile(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
