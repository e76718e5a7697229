package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type constants for Envelope.Type. The relay and every client-side
// consumer switch on these exact strings, so they must stay in sync with the
// server-side fan-out logic.
const (
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventChatMessage         = "chat_message"
	EventCursorUpdate        = "cursor_update"
	EventCodeChange          = "code_change"
	EventCommentAdded        = "comment_added"
	EventCommentUpdated      = "comment_updated"
	EventCommentResolved     = "comment_resolved"
	EventProgressShared      = "progress_shared"
	EventProgressCelebration = "progress_celebration"
	EventSessionUpdated      = "session_updated"
	EventUserTyping          = "user_typing"
	EventMessageReaction     = "message_reaction"
	EventJoinSession         = "join_session"
	EventLeaveSession        = "leave_session"
	EventSettingsUpdated     = "settings_updated"
	EventPing                = "ping"
	EventPong                = "pong"
)

// Envelope is the unit of wire transfer in both directions. Data stays raw
// until a consumer that knows the event type decodes it; a payload the local
// build does not understand must still round-trip through the relay intact.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// NewEnvelope builds an envelope with the payload marshaled and the timestamp
// set. Envelopes are treated as immutable once constructed.
func NewEnvelope(eventType string, payload interface{}) (*Envelope, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
		}
		data = b
	}
	return &Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodeData unmarshals the raw payload into v.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Position is a zero-based cursor location in a document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is an inclusive-start, exclusive-end text selection.
type SelectionRange struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// RemoteCursor is the tracked presence state for one peer. One record exists
// per currently-active peer; it is replaced atomically on every update.
type RemoteCursor struct {
	UserID     string          `json:"userId"`
	Username   string          `json:"username"`
	Color      string          `json:"color"`
	Position   Position        `json:"position"`
	Selection  *SelectionRange `json:"selection,omitempty"`
	LastUpdate time.Time       `json:"lastUpdate"`
}

// Participant is one member of a collaboration session roster.
type Participant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// SessionSettings are the server-controlled knobs for a session. Replaced
// wholesale on settings_updated, never merged field by field.
type SessionSettings struct {
	AllowChat        bool   `json:"allowChat"`
	AllowCursorShare bool   `json:"allowCursorShare"`
	MaxParticipants  int    `json:"maxParticipants"`
	Language         string `json:"language,omitempty"`
}

// CollaborationSession is the authoritative session record. The server owns
// it; session_updated envelopes replace the local copy wholesale.
type CollaborationSession struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Participants []Participant   `json:"participants"`
	Settings     SessionSettings `json:"settings"`
	Status       string          `json:"status"`
}

// SessionSpec is the client-supplied shape for creating a session.
type SessionSpec struct {
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Settings SessionSettings `json:"settings"`
}

// ReviewRequest asks a peer to review work done in the session.
type ReviewRequest struct {
	TaskID     string `json:"taskId"`
	ReviewerID string `json:"reviewerId"`
	Note       string `json:"note,omitempty"`
}

// ChatMessage is one entry in the session chat log.
type ChatMessage struct {
	ID        string              `json:"id"`
	SessionID string              `json:"sessionId"`
	UserID    string              `json:"userId"`
	Username  string              `json:"username"`
	Text      string              `json:"text"`
	ReplyTo   string              `json:"replyTo,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"` // emoji -> userIDs
	Timestamp time.Time           `json:"timestamp"`
}

// CodeComment is an inline review comment. Mutable only via the
// comment_updated / comment_resolved sub-events, which patch a single record.
type CodeComment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Text      string    `json:"text"`
	Resolved  bool      `json:"resolved"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressShare is a milestone announcement in the session.
type ProgressShare struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	TaskID     string    `json:"taskId,omitempty"`
	Milestone  string    `json:"milestone"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message,omitempty"`
	Celebrated bool      `json:"celebrated"`
	Timestamp  time.Time `json:"timestamp"`
}

// CodeChangePayload is the wire payload for code_change. Application is
// last-write-wins at the envelope layer; there is no operational transform.
type CodeChangePayload struct {
	File    string          `json:"file"`
	Range   *SelectionRange `json:"range,omitempty"`
	Text    string          `json:"text"`
	Version int             `json:"version"`
}

// CursorPayload is the wire payload for cursor_update.
type CursorPayload struct {
	Username  string          `json:"username"`
	Position  Position        `json:"position"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

// TypingPayload is the wire payload for user_typing.
type TypingPayload struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

// ReactionPayload is the wire payload for message_reaction.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// CommentRef is the wire payload for comment_resolved.
type CommentRef struct {
	CommentID string `json:"commentId"`
}

// CelebrationPayload is the wire payload for progress_celebration.
type CelebrationPayload struct {
	ProgressID string `json:"progressId"`
	Emoji      string `json:"emoji,omitempty"`
}

// PresencePayload is the wire payload for user_joined / user_left.
type PresencePayload struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// Priority tiers for notifications.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for floor comparisons. Unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Notification is an ephemeral user-facing alert derived from an envelope.
// Never persisted; low-priority notifications self-expire.
type Notification struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
