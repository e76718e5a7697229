package session

import "errors"

var (
	ErrNoActiveSession      = errors.New("no active collaboration session")
	ErrSessionAlreadyJoined = errors.New("already in a collaboration session")
	ErrCoordinatorClosed    = errors.New("session coordinator is closed")
)
