// Package logger provides the process-wide structured logger.
//
// Uses zap with an AtomicLevel so the level can change at runtime.
// JSON format for production, console for development.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// base reports the caller's frame; components receive it through L.
	base *zap.Logger
	// wrapped skips one frame for the package-level helpers below.
	wrapped     *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
	nop         = zap.NewNop()
)

// Init initializes the global logger.
// level: debug, info, warn, error
// format: json or console
func Init(level, format string) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		var cfg zap.Config
		switch format {
		case "console":
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		default:
			cfg = zap.NewProductionConfig()
		}
		cfg.Level = atomicLevel

		logger, err := cfg.Build()
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		setLogger(logger)
	})
	return initErr
}

func setLogger(logger *zap.Logger) {
	base = logger
	wrapped = logger.WithOptions(zap.AddCallerSkip(1))
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// HTTPHandler exposes the level for runtime changes.
//
//	GET  /log/level                         returns the current level
//	PUT  /log/level -d '{"level":"debug"}'  changes it
func HTTPHandler() *zap.AtomicLevel {
	return &atomicLevel
}

// L returns the global logger for components that log on their own.
// Before Init it returns a no-op logger, so library code and tests can
// log unconditionally.
func L() *zap.Logger {
	if base == nil {
		return nop
	}
	return base
}

func w() *zap.Logger {
	if wrapped == nil {
		return nop
	}
	return wrapped
}

func Debug(msg string, fields ...zap.Field) {
	w().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	w().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	w().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	w().Error(msg, fields...)
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func Fatal(msg string, fields ...zap.Field) {
	w().Fatal(msg, fields...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	if base == nil {
		return nil
	}
	return base.Sync()
}
