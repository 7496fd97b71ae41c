package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed request input such as a bad token or
	// export path.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown token or exam id.
	ErrNotFound = errors.New("not found")
	// ErrSourceUnavailable marks a schedule source that could not be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("selection storage failure")
)

// ParseError describes one unusable row or date/time composition. It is
// never fatal: the offending item is skipped and processing continues.
type ParseError struct {
	// Row is the 1-based data row in the source (header excluded), or 0
	// when the error came from projecting an already loaded record.
	Row int
	// ExamID is set when the failing item is a loaded record.
	ExamID int
	// Input is the offending text.
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	switch {
	case e.Row > 0:
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	case e.Input != "":
		return fmt.Sprintf("exam %d: cannot parse %q: %v", e.ExamID, e.Input, e.Err)
	default:
		return fmt.Sprintf("exam %d: %v", e.ExamID, e.Err)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps a failure of the selection backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "selection store " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// NewStorageError wraps err for op, or returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
