package isolation

import (
	"errors"
	"fmt"
)

// ErrUnavailable is matched by every failure the wrapper itself produces
// instead of running the unit of work to completion.
var ErrUnavailable = errors.New("dependency unavailable")

var (
	// ErrRejected is returned when the group's concurrency limit is reached.
	ErrRejected = fmt.Errorf("%w: concurrency limit reached", ErrUnavailable)
	// ErrTimeout is returned when the unit outlives the group's timeout.
	ErrTimeout = fmt.Errorf("%w: timed out", ErrUnavailable)
	// ErrCircuitOpen is returned while the group's circuit is open.
	ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrUnavailable)
)

// ErrCanceled is returned when the caller's own context ends before the
// unit does.  The dependency is not at fault, so it never trips a circuit
// and is reported separately from ErrTimeout.
var ErrCanceled = errors.New("caller canceled")

type canceled struct{ err error }

func (c canceled) Error() string   { return ErrCanceled.Error() + ": " + c.err.Error() }
func (c canceled) Unwrap() []error { return []error{ErrCanceled, c.err} }

// ErrPanic is returned when the unit panics.
var ErrPanic = errors.New("unit panicked")

// ErrBadRequest marks failures caused by the caller's input rather than
// the dependency.  They are returned as usual but never trip a circuit.
var ErrBadRequest = errors.New("bad request")

type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() []error { return []error{ErrBadRequest, b.err} }

// BadRequest wraps err so that it matches ErrBadRequest.
func BadRequest(err error) error {
	if err == nil {
		return nil
	}
	return badRequest{err: err}
}

// DependencyError is what a propagating call returns on failure.
type DependencyError struct {
	Group   Group
	Command string
	Err     error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Group, e.Command, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
