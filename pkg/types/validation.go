package types

// MaxPayloadSize caps a single envelope payload at 64KB. Large code changes
// must be chunked by the editor layer before broadcasting.
const MaxPayloadSize = 64 * 1024

var validEventTypes = map[string]bool{
	EventUserJoined:          true,
	EventUserLeft:            true,
	EventChatMessage:         true,
	EventCursorUpdate:        true,
	EventCodeChange:          true,
	EventCommentAdded:        true,
	EventCommentUpdated:      true,
	EventCommentResolved:     true,
	EventProgressShared:      true,
	EventProgressCelebration: true,
	EventSessionUpdated:      true,
	EventUserTyping:          true,
	EventMessageReaction:     true,
	EventJoinSession:         true,
	EventLeaveSession:        true,
	EventSettingsUpdated:     true,
	EventPing:                true,
	EventPong:                true,
}

// IsValidEventType reports whether t is in the canonical event catalog.
func IsValidEventType(t string) bool {
	return validEventTypes[t]
}

// IsValidUserID enforces the same user ID format the relay accepts:
// 1-50 characters, alphanumeric plus underscore and hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) == 0 || len(userID) > 50 {
		return false
	}
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of an envelope before it is
// persisted or fanned out by the relay. Client-side dispatch is more lenient:
// unknown types are dropped there, not rejected.
func (e *Envelope) Validate() error {
	if !IsValidEventType(e.Type) {
		return ErrInvalidEventType
	}
	if e.UserID != "" && !IsValidUserID(e.UserID) {
		return ErrInvalidUserID
	}
	if len(e.Data) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}
