// Package errs defines the error taxonomy shared across the vector store,
// the HNSW index, and the persona memory manager.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per kind in the error-handling design. Callers should
// use errors.Is against these rather than comparing *OpError directly.
var (
	// ErrValidation means the input failed a shape or range check.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means no such VectorId / persona / conversation exists.
	ErrNotFound = errors.New("not found")

	// ErrCapacity means the buffer is full, or a persona is over its memory
	// cap and cleanup could not free enough slots.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrDimensionMismatch means a vector's length does not equal the
	// store's configured dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrPermission means the caller's api key lacks the needed scope.
	ErrPermission = errors.New("permission denied")

	// ErrRateLimited means the caller's quota is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrDependency means the embedding provider or metadata store failed.
	// Dependency failures may be transient; nothing in this module retries
	// them, so the first failure reaches the caller.
	ErrDependency = errors.New("dependency failure")

	// ErrInternal means an invariant was violated or the cause is unknown.
	// Callers encountering ErrInternal should log at error level.
	ErrInternal = errors.New("internal error")

	// ErrTimeout means a deadline passed before the operation completed.
	ErrTimeout = errors.New("operation timed out")
)

// OpError wraps a sentinel error with the operation name that produced it,
// following the same Op/Err/Unwrap/Is shape the teacher's root-level
// StoreError uses.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("personamemory: %v", e.Err)
	}
	return fmt.Sprintf("personamemory: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool { return errors.Is(e.Err, target) }

// Wrap annotates err with the operation that produced it. Wrap(op, nil)
// returns nil so it is safe to call unconditionally at a function's return
// site.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// IsKind reports whether err's chain contains kind, the errors.Is check
// callers at the wire boundary use to map an error onto an HTTP status.
func IsKind(err, kind error) bool {
	return errors.Is(err, kind)
}

// Validationf builds an ErrValidation-rooted error with a field-specific
// reason, matching the "detailed per-field reason" requirement for
// validation errors.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
