// Package store holds the sentinel errors shared by every persistence
// adapter and the constructor for the optional Redis client.
package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist for the given tenant.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned on a unique constraint violation.
	ErrConflict = errors.New("store: conflict")
)
