package types

import "errors"

var (
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidUserID    = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrEmptyPayload     = errors.New("envelope has no payload")
	ErrInvalidPayload   = errors.New("invalid JSON payload")
	ErrPayloadTooLarge  = errors.New("envelope payload exceeds 64KB limit")
	ErrMissingTimestamp = errors.New("envelope timestamp is required")
)
