package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress indicates another run holds the sync lock
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrRunNotFound indicates no run with the given id exists
	ErrRunNotFound = errors.New("sync run not found")
)

// ConflictError is returned when a run is triggered while another is active.
type ConflictError struct {
	ActiveRunID string
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync run %s is already in progress", e.ActiveRunID)
}

// Is implements errors.Is support
func (e *ConflictError) Is(target error) bool {
	return target == ErrSyncInProgress
}
