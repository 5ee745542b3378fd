package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation targets a pattern that does not exist.
	ErrNotFound = errors.New("pattern not found")
	// ErrInvalidGroup is returned when a merge group has fewer than two distinct ids.
	ErrInvalidGroup = errors.New("merge group needs at least two patterns")
)

// ItemError records the failure of one item in a batch. The batch carries on.
type ItemError struct {
	ID  int64  `json:"id"`
	Err string `json:"error"`
}

func itemError(id int64, err error) ItemError {
	return ItemError{ID: id, Err: err.Error()}
}

func (e ItemError) Error() string {
	return fmt.Sprintf("pattern %d: %s", e.ID, e.Err)
}
