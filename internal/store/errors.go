package store

import "errors"

var (
	// ErrNotFound signals that the requested row or entry does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrIntegrity wraps unique and foreign key violations. Retrying the same
	// write will fail again.
	ErrIntegrity = errors.New("integrity violation")
	// ErrTransient wraps failures that may succeed on a later attempt, such
	// as a lost connection or a busy database.
	ErrTransient = errors.New("store temporarily unavailable")
)
