// Package logging builds the agent's zap logger: a human-readable console
// core plus, when a log file is configured, a JSON core written through a
// daily-rotated file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vitalis-app/telemetry-agent/internal/config"
)

// Logger is a zap logger whose level can be changed at runtime.
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel

	rotator *rotatelogs.RotateLogs
}

// ParseLevel maps a configured level name to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// New creates a logger from cfg. Console output goes to console, or stdout
// when console is nil.
func New(cfg config.LoggingConfig, console io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{Level: zap.NewAtomicLevelAt(lvl)}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(console), l.Level),
	}

	if cfg.File != "" {
		rotator, err := newRotator(cfg.File, cfg.MaxAge.Duration)
		if err != nil {
			return nil, err
		}
		l.rotator = rotator
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), l.Level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return l, nil
}

// newRotator writes to "<file>.YYYYMMDD", rotated daily, with file kept as a
// link to the current day.
func newRotator(file string, maxAge time.Duration) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(file),
		rotatelogs.WithRotationTime(24 * time.Hour),
	}
	if maxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(maxAge))
	} else {
		opts = append(opts, rotatelogs.WithMaxAge(-1))
	}
	rotator, err := rotatelogs.New(file+".%Y%m%d", opts...)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return rotator, nil
}

// SetLevel changes the level of every core.
func (l *Logger) SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	if l.Level.Level() != lvl {
		l.Level.SetLevel(lvl)
		l.Info("Log level changed", zap.Stringer("level", lvl))
	}
	return nil
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	err := l.Sync()
	// Syncing a terminal reports EINVAL or ENOTTY; nothing was lost.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = nil
	}
	if l.rotator != nil {
		err = errors.Join(err, l.rotator.Close())
	}
	return err
}
