// Package logger builds the slog loggers used by the relay's commands.
package logger

import (
    "fmt"
    "io"
    "log/slog"
    "os"
    "strings"
)

// Config holds logger configuration
type Config struct {
    Level string // DEBUG, INFO, WARN, ERROR
    Format string // text, json
    Output string // stdout, stderr, or file path
}

// ParseLevel convert a level name, in any case, into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
    switch strings.ToUpper(level) {
    case "DEBUG":
        return slog.LevelDebug, nil
    case "INFO", "":
        return slog.LevelInfo, nil
    case "WARN":
        return slog.LevelWarn, nil
    case "ERROR":
        return slog.LevelError, nil
    default:
        return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
    }
}

// NewWithWriter create a logger writing to `w`.
func NewWithWriter(w io.Writer, level, format string) (*slog.Logger, error) {
    lvl, err := ParseLevel(level)
    if err != nil {
        return nil, err
    }

    opts := &slog.HandlerOptions {
        Level: lvl,
    }

    switch strings.ToLower(format) {
    case "json":
        return slog.New(slog.NewJSONHandler(w, opts)), nil
    case "text", "":
        return slog.New(slog.NewTextHandler(w, opts)), nil
    default:
        return nil, fmt.Errorf("invalid log format %q", format)
    }
}

// New create a logger configured by `cfg`. The returned closer releases
// the log file, if any, and must be called once the logger isn't needed
// anymore.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
    var w io.Writer
    var closer io.Closer = nopCloser{}

    switch strings.ToLower(cfg.Output) {
    case "stdout", "":
        w = os.Stdout
    case "stderr":
        w = os.Stderr
    default:
        f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
        if err != nil {
            return nil, nil, fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
        }
        w = f
        closer = f
    }

    l, err := NewWithWriter(w, cfg.Level, cfg.Format)
    if err != nil {
        closer.Close()
        return nil, nil, err
    }

    return l, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error {
    return nil
}
