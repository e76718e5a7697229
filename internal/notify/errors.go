package notify

import "errors"

var (
	// ErrNotificationNotFound is returned when dismissing or marking an
	// unknown notification ID.
	ErrNotificationNotFound = errors.New("notification not found")
)
