// Package logging provides the zerolog-backed logger shared by every
// roundtable component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/soyeahso/roundtable/internal/config"
)

// Logger is a zerolog logger that hands out component-scoped children.
type Logger struct {
	zl zerolog.Logger
}

// ParseLevel maps a config level to zerolog. "silent" disables output and
// anything unrecognised falls back to info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "silent" || s == "off" {
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func console(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// New logs to w at level. A nil w means human-readable output on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = console(os.Stderr)
	}
	return &Logger{
		zl: zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger(),
	}
}

// NewFromConfig builds the root logger for the logging section: stderr in
// the configured console style, plus JSON lines appended to cfg.File when
// set. The closer releases the file.
func NewFromConfig(cfg config.LoggingConfig, stderr io.Writer) (*Logger, io.Closer, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	out := stderr
	if cfg.ConsoleStyle != "json" {
		out = console(stderr)
	}
	if cfg.File == "" {
		return New(out, cfg.Level), closeFunc(func() error { return nil }), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	return New(zerolog.MultiLevelWriter(out, f), cfg.Level), f, nil
}

// Sub tags every entry with the owning component.
func (l *Logger) Sub(component string) *Logger {
	return l.With("subsystem", component)
}

// With adds a string field to every entry.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Level is the minimum level this logger emits.
func (l *Logger) Level() zerolog.Level { return l.zl.GetLevel() }

type closeFunc func() error

func (f closeFunc) Close() error { return f() }
