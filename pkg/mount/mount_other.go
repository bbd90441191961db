//go:build !linux

package mount

import "github.com/rk8s-dev/rk8s/pkg/apis"

// Mount on non-Linux platforms fails fast: unshare(CLONE_NEWNS) and the
// overlay mount sequence have no portable equivalent, so this surfaces
// Unsupported rather than attempt a partial implementation.
func (e *Engine) Mount() error {
	return apis.WithKind(apis.ErrConfiguration, "mount", errUnsupported)
}

func (e *Engine) Unmount() error { return nil }

func (e *Engine) Mounted() bool { return false }

var errUnsupported = &unsupportedError{}

type unsupportedError struct{}

func (*unsupportedError) Error() string {
	return "mount engine requires Linux mount namespaces (Unsupported)"
}
