// Package injection provides a generic context.Context singleton slot per
// type, for carrying a shared component (a KV client, a cache, a dialer)
// down to wherever a handler needs it without threading extra parameters
// through every call site. No other package in this module imports it.
package injection

import (
	"context"
	"fmt"
	"reflect"
)

func contextKey[T any]() any {
	var zero T
	return reflect.TypeOf(&zero).Elem()
}

// Into stores elem as the singleton value of type T in ctx.
func Into[T any](ctx context.Context, elem T) context.Context {
	return context.WithValue(ctx, contextKey[T](), elem)
}

// From returns the singleton value of type T previously stored with Into.
// It panics if none was stored: a missing injection is a wiring bug, not a
// recoverable runtime condition.
func From[T any](ctx context.Context) T {
	v := ctx.Value(contextKey[T]())
	if v == nil {
		panic(fmt.Sprintf("injection: no value of type %s in context", reflect.TypeOf(new(T)).Elem()))
	}
	return v.(T)
}

// FromOrZero is From but returns the zero value instead of panicking, for
// call sites where the dependency is genuinely optional.
func FromOrZero[T any](ctx context.Context) T {
	v := ctx.Value(contextKey[T]())
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}
