// Package logging builds the process logger: a zap console core plus an
// optional rotating JSON file core.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File is the logical log file for RotatingWriter; "" or "-" disables it.
	File     string
	MaxBytes int64
	// Console receives human readable output. Defaults to os.Stderr so chat
	// output on stdout stays clean.
	Console io.Writer
}

// ParseLevel maps a config string onto a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
}

// New builds the logger. The returned close function syncs and releases the
// log file.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	atom := zap.NewAtomicLevelAt(level)

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(console), atom),
	}

	closeFn := func() error { return nil }
	if file := strings.TrimSpace(opts.File); file != "" && file != "-" {
		w, err := NewRotatingWriter(file, opts.MaxBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", file, err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(w), atom))
		closeFn = w.Close
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}
