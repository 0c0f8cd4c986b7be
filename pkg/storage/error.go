package storage

import "errors"

// ErrNilRecord is returned when Put is called with a nil record.
var ErrNilRecord = errors.New("cannot store nil usage record")

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "usage record not found"
	}

	return "usage record not found: " + e.ID
}
