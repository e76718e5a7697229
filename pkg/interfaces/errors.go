package interfaces

import "errors"

// Shared sentinel errors that cross component boundaries.
var (
	ErrSessionNotFound = errors.New("session not found")
)
