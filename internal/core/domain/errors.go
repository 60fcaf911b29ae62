package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a write targets an id that does not exist.
	ErrNotFound = errors.New("point not found")

	// ErrInvalidTimeOfDay is returned for hours that are not HH:MM or HH:MM:SS.
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
)

// StorageError wraps a failure from the persistence store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
