package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// FormatError indicates a caller supplied a malformed filter value, such as a
// date that does not parse as RFC 3339.
type FormatError struct {
	Field string
	Value string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s value %q: expected RFC 3339 timestamp", e.Field, e.Value)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// NotFoundError wraps ErrNotFound with the offending identifier.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
