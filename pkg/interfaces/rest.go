package interfaces

import (
	"context"

	"studysync/pkg/types"
)

// SessionAPI is the REST collaborator for session lifecycle. Responses are
// authoritative snapshots; the session coordinator installs them wholesale.
type SessionAPI interface {
	CreateSession(ctx context.Context, spec types.SessionSpec) (*types.CollaborationSession, error)
	JoinSession(ctx context.Context, sessionID string) (*types.CollaborationSession, error)
	LeaveSession(ctx context.Context, sessionID string) error
	ListParticipants(ctx context.Context, sessionID string) ([]types.Participant, error)
	Invite(ctx context.Context, sessionID, userID string) error
}

// CommentAPI is the REST collaborator for review comments. The server assigns
// comment IDs; broadcasters publish the confirmed record, never a local draft.
type CommentAPI interface {
	CreateComment(ctx context.Context, sessionID string, comment types.CodeComment) (*types.CodeComment, error)
	UpdateComment(ctx context.Context, sessionID, commentID, text string) (*types.CodeComment, error)
	ResolveComment(ctx context.Context, sessionID, commentID string) error
	CreateReview(ctx context.Context, sessionID string, review types.ReviewRequest) (string, error)
}
