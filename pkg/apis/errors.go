package apis

import "fmt"

// ErrorKind is an abstract error taxonomy. It does not replace Go's error
// interface; it is attached to an error via WithKind so callers can branch
// on it with errors.As without each package inventing its own sentinel
// hierarchy.
type ErrorKind string

const (
	ErrConfiguration      ErrorKind = "Configuration"
	ErrResource            ErrorKind = "Resource"
	ErrTransport           ErrorKind = "Transport"
	ErrStateInconsistency  ErrorKind = "StateInconsistency"
	ErrFatal               ErrorKind = "Fatal"
)

// KindedError pairs one of the kinds above with an underlying cause.
type KindedError struct {
	Kind  ErrorKind
	Op    string
	Cause error
}

func (e *KindedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Cause)
}

func (e *KindedError) Unwrap() error { return e.Cause }

// WithKind wraps cause with a classification. A nil cause yields a nil error
// so callers can write `return WithKind(ErrResource, "op", err)` unconditionally.
func WithKind(kind ErrorKind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &KindedError{Kind: kind, Op: op, Cause: cause}
}
