package streams

import (
	"context"
	"fmt"
	"log"
	"sync"

	"studysync/internal/config"
	"studysync/internal/router"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Comments manages inline review comments: REST-first persistence (the
// server assigns IDs), then a broadcast of the confirmed record. Remote
// comment_updated / comment_resolved events patch a single record in place.
type Comments struct {
	bus           *router.Router
	sessions      SessionSource
	api           interfaces.CommentAPI
	localUserID   string
	localUsername string

	mu        sync.Mutex
	log       *Log[types.CodeComment]
	onComment func(types.CodeComment)
	unsubs    []func()
}

// NewComments builds the comment broadcaster.
func NewComments(bus *router.Router, sessions SessionSource, api interfaces.CommentAPI, cfg *config.StreamsConfig, localUserID, localUsername string) *Comments {
	return &Comments{
		bus:           bus,
		sessions:      sessions,
		api:           api,
		localUserID:   localUserID,
		localUsername: localUsername,
		log:           NewLog[types.CodeComment](cfg.LogCapacity),
	}
}

// Start subscribes to inbound comment traffic.
func (c *Comments) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs,
		c.bus.Subscribe(types.EventCommentAdded, c.handleAdded),
		c.bus.Subscribe(types.EventCommentUpdated, c.handleUpdated),
		c.bus.Subscribe(types.EventCommentResolved, c.handleResolved),
	)
}

// OnComment registers the UI callback for comment changes.
func (c *Comments) OnComment(fn func(types.CodeComment)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComment = fn
}

// Add persists a comment through the collaborator, then broadcasts the
// confirmed record. On REST failure nothing is applied locally or published.
func (c *Comments) Add(ctx context.Context, file string, line int, text string) (*types.CodeComment, error) {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return nil, err
	}

	draft := types.CodeComment{
		SessionID: sessionID,
		UserID:    c.localUserID,
		Username:  c.localUsername,
		File:      file,
		Line:      line,
		Text:      text,
	}
	confirmed, err := c.api.CreateComment(ctx, sessionID, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	c.mu.Lock()
	c.log.Append(*confirmed)
	notify := c.notifyLocked(*confirmed)
	c.mu.Unlock()
	notify()

	c.publish(types.EventCommentAdded, sessionID, confirmed)
	return confirmed, nil
}

// Update replaces a comment's text through the collaborator and broadcasts
// the confirmed record.
func (c *Comments) Update(ctx context.Context, commentID, text string) (*types.CodeComment, error) {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return nil, err
	}

	confirmed, err := c.api.UpdateComment(ctx, sessionID, commentID, text)
	if err != nil {
		return nil, fmt.Errorf("failed to update comment %s: %w", commentID, err)
	}

	c.mu.Lock()
	c.patchLocked(*confirmed)
	notify := c.notifyLocked(*confirmed)
	c.mu.Unlock()
	notify()

	c.publish(types.EventCommentUpdated, sessionID, confirmed)
	return confirmed, nil
}

// Resolve marks a comment resolved through the collaborator and broadcasts
// the resolution.
func (c *Comments) Resolve(ctx context.Context, commentID string) error {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return err
	}

	if err := c.api.ResolveComment(ctx, sessionID, commentID); err != nil {
		return fmt.Errorf("failed to resolve comment %s: %w", commentID, err)
	}

	c.mu.Lock()
	c.resolveLocked(commentID)
	c.mu.Unlock()

	c.publish(types.EventCommentResolved, sessionID, types.CommentRef{CommentID: commentID})
	return nil
}

// RequestReview opens a review with the collaborator and returns its ID.
func (c *Comments) RequestReview(ctx context.Context, review types.ReviewRequest) (string, error) {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return "", err
	}
	id, err := c.api.CreateReview(ctx, sessionID, review)
	if err != nil {
		return "", fmt.Errorf("failed to create review: %w", err)
	}
	return id, nil
}

// Comments returns the capped log, oldest first.
func (c *Comments) Comments() []types.CodeComment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Items()
}

// Close unsubscribes from the router.
func (c *Comments) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Comments) publish(eventType, sessionID string, payload interface{}) {
	env, err := types.NewEnvelope(eventType, payload)
	if err != nil {
		return
	}
	env.UserID = c.localUserID
	env.SessionID = sessionID
	if err := c.bus.Publish(env); err != nil {
		log.Printf("Failed to publish %s: %v", eventType, err)
	}
}

func (c *Comments) handleAdded(env *types.Envelope) {
	if env.UserID == c.localUserID {
		return
	}
	var comment types.CodeComment
	if err := env.DecodeData(&comment); err != nil {
		log.Printf("Dropping comment_added with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	c.log.Append(comment)
	notify := c.notifyLocked(comment)
	c.mu.Unlock()
	notify()
}

func (c *Comments) handleUpdated(env *types.Envelope) {
	if env.UserID == c.localUserID {
		return
	}
	var comment types.CodeComment
	if err := env.DecodeData(&comment); err != nil {
		log.Printf("Dropping comment_updated with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	c.patchLocked(comment)
	notify := c.notifyLocked(comment)
	c.mu.Unlock()
	notify()
}

func (c *Comments) handleResolved(env *types.Envelope) {
	if env.UserID == c.localUserID {
		return
	}
	var ref types.CommentRef
	if err := env.DecodeData(&ref); err != nil {
		log.Printf("Dropping comment_resolved with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	c.resolveLocked(ref.CommentID)
	c.mu.Unlock()
}

func (c *Comments) patchLocked(comment types.CodeComment) {
	patched := c.log.Patch(
		func(existing types.CodeComment) bool { return existing.ID == comment.ID },
		func(existing *types.CodeComment) { *existing = comment },
	)
	if !patched {
		c.log.Append(comment)
	}
}

func (c *Comments) resolveLocked(commentID string) {
	c.log.Patch(
		func(existing types.CodeComment) bool { return existing.ID == commentID },
		func(existing *types.CodeComment) { existing.Resolved = true },
	)
}

func (c *Comments) notifyLocked(comment types.CodeComment) func() {
	fn := c.onComment
	if fn == nil {
		return func() {}
	}
	return func() { fn(comment) }
}
