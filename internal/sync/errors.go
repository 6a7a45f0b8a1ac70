package sync

import (
	"errors"
	"fmt"
)

// ErrDuplicatesFound is returned when an upload is refused because some of
// its records already exist in the store. Nothing is written.
var ErrDuplicatesFound = errors.New("records already exist in the store, nothing uploaded")

// FatalUploadError reports a batch that could not be written after the retry
// policy gave up, or whose dispatch was cancelled. Batches from earlier waves
// remain committed in the store.
type FatalUploadError struct {
	Collection string
	Action     string
	// Batch is the zero-based index of the failed batch.
	Batch int
	Err   error
}

func (e *FatalUploadError) Error() string {
	return fmt.Sprintf("%s batch %d in %s failed: %v", e.Action, e.Batch, e.Collection, e.Err)
}

func (e *FatalUploadError) Unwrap() error { return e.Err }
