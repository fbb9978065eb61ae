package log

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var base *zap.Logger

func init() {
	base = mustBuild(false)
}

func mustBuild(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("log: %v", err))
	}
	return l
}

// Init replaces the process logger. debug enables the console encoder at
// debug level.
func Init(debug bool) {
	base = mustBuild(debug)
}

// Logger returns the logger carried by ctx, falling back to the process
// logger.
func Logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return base
}

// With returns a context whose logger carries the given field.
func With(ctx context.Context, key string, value interface{}) context.Context {
	return context.WithValue(ctx, ctxKey{}, Logger(ctx).With(zap.Any(key, value)))
}

// Fatal logs with the process logger and exits.
func Fatal(msg string, fields ...zap.Field) {
	base.Fatal(msg, fields...)
}

// Sync flushes buffered entries, typically deferred from main.
func Sync() {
	_ = base.Sync()
}
