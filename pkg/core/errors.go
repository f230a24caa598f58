package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates an invalid configuration. It is the only
	// fatal error class: it is reported at construction and never at runtime.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	// Treated as transient: the affected item is skipped, never fatal.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrIndexUnavailable indicates that the persisted vector index
	// failed or timed out. Treated as transient.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrClosed indicates an operation on a closed memory system.
	ErrClosed = errors.New("memory system closed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{Op: "RecordExchange", Err: ErrEmbeddingFailed}
//	// Error() returns: "memory: RecordExchange: embedding generation failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message in the form "memory: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError wraps err with the operation name. Returns nil if err is nil,
// so it is safe on every return path.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{Op: op, Err: err}
}
