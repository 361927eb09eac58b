// Package runerr defines the error taxonomy shared by the engine components.
//
// Every error the engine surfaces belongs to exactly one Kind. Callers match
// kinds with errors.Is against the exported sentinels:
//
//	if errors.Is(err, runerr.ErrConfiguration) { ... }
//
// Threshold failures are not errors; they are reported through the verdict.
package runerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindConfiguration covers invalid profiles, threshold expressions and
	// metric kind conflicts. Detected before a run starts.
	KindConfiguration Kind = iota + 1
	// KindSetup covers fixture loading and user setup failures.
	KindSetup
	// KindIteration covers any failure raised by an iteration body.
	KindIteration
	// KindTimeout is an iteration that exceeded its per-iteration timeout.
	KindTimeout
	// KindAborted is a run stopped early on request of an iteration or a
	// threshold with abortOnFail.
	KindAborted
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindSetup:
		return "setup"
	case KindIteration:
		return "iteration"
	case KindTimeout:
		return "timeout"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrSetup         = &Error{Kind: KindSetup}
	ErrIteration     = &Error{Kind: KindIteration}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrAborted       = &Error{Kind: KindAborted}
)

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first classified error in err's chain,
// or 0 when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Config wraps err as a configuration error.
func Config(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Configf builds a configuration error from a format string.
func Configf(op, format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Setup wraps err as a setup error.
func Setup(op string, err error) error {
	return &Error{Kind: KindSetup, Op: op, Err: err}
}

// Iteration wraps err as an iteration error.
func Iteration(err error) error {
	return &Error{Kind: KindIteration, Err: err}
}

// Timeout builds a timeout error for an iteration that ran longer than limit.
func Timeout(op string, err error) error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// Abort builds an abort error carrying the reason a run was stopped.
func Abort(reason string) error {
	return &Error{Kind: KindAborted, Op: reason}
}
