package domain

import (
	"errors"
	"strings"
)

var (
	ErrItemNotFound  = errors.New("item not found")
	ErrTaskNotFound  = errors.New("task not found")
	ErrBatchNotFound = errors.New("batch not found")

	// ErrItemLocked is returned for items with an ingest in flight.
	ErrItemLocked = errors.New("item is locked by an ingest in progress")

	// ErrTaskUnavailable marks a task that cannot be loaded or decoded. It is never retried.
	ErrTaskUnavailable = errors.New("task unavailable")

	// ErrUnparseableDimensions is returned when the probe yields no width/height record.
	ErrUnparseableDimensions = errors.New("unparseable image dimensions")
)

// ValidationError collects the per-record problems of a rejected submission.
type ValidationError struct {
	Errors []string `json:"errors"`
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + strings.Join(e.Errors, "; ")
}
