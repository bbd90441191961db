// Package log carries a *zap.SugaredLogger through context.Context, the
// same context-carried-logger convention used across this codebase's
// goroutines, backed directly by zap rather than a controller framework's
// logging wrapper.
package log

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

var fallback = zap.NewNop().Sugar()

// New builds the process-wide base logger: zap.NewDevelopment's
// human-readable output when development is true, zap.NewProduction's JSON
// otherwise. cmd/rk8s passes its --dev flag here.
func New(development bool) *zap.SugaredLogger {
	var base *zap.Logger
	var err error
	if development {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return fallback
	}
	return base.Sugar()
}

// Into stores l in ctx for downstream FromContext calls.
func Into(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stashed by Into, or a no-op logger if none
// was ever attached — a missing logger should never panic.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(contextKey{}).(*zap.SugaredLogger); ok && l != nil {
		return l
	}
	return fallback
}

// Named returns ctx with a child logger scoped under name, for attaching at
// the top of a goroutine or handler before doing any work.
func Named(ctx context.Context, name string) context.Context {
	return Into(ctx, FromContext(ctx).Named(name))
}

// With attaches structured fields to the logger carried by ctx.
func With(ctx context.Context, kv ...any) context.Context {
	return Into(ctx, FromContext(ctx).With(kv...))
}
