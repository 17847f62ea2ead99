// Package logger provides leveled structured logging on top of zap.
// Until Init is called every call is a no-op, so library users that never
// configure logging see no output.
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// Init builds the process logger. level is one of debug, info, warn, error
// (default info); format is "json" or "console" (default console).
func Init(level string, format string) error {
	var lvl zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.ToLower(format) != "json" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.DisableStacktrace = true

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set replaces the process logger; tests use it with zaptest or observer cores.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// L returns the process logger.
func L() *zap.Logger {
	return global.Load()
}

func Debug(msg string, fields ...zap.Field) {
	global.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	global.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	global.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	global.Load().Error(msg, fields...)
}

// Sync flushes buffered entries.
func Sync() {
	_ = global.Load().Sync()
}
