package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed horizons and tasks that cannot be scored.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage marks failures of the record store, reads or write-back.
	ErrStorage = errors.New("storage error")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storageErr keeps both the ErrStorage kind and the store's own error
// reachable through errors.Is.
type storageErr struct {
	op  string
	err error
}

func (e *storageErr) Error() string   { return fmt.Sprintf("%s: %s: %v", ErrStorage, e.op, e.err) }
func (e *storageErr) Unwrap() []error { return []error{ErrStorage, e.err} }

func storageError(op string, err error) error { return &storageErr{op: op, err: err} }
