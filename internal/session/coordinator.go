package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"studysync/internal/router"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Coordinator tracks the locally-joined collaboration session and mediates
// the join/leave lifecycle between the REST collaborator and the event
// router. It is the sole owner of the current-session record: a session
// exists exactly while the user has successfully joined or created one and
// has not left or been disconnected without recovery.
type Coordinator struct {
	api         interfaces.SessionAPI
	bus         *router.Router
	localUserID string

	mu      sync.RWMutex
	current *types.CollaborationSession
	closed  bool
	unsubs  []func()
}

// NewCoordinator wires a coordinator to the REST collaborator and the router.
func NewCoordinator(api interfaces.SessionAPI, bus *router.Router, localUserID string) *Coordinator {
	return &Coordinator{
		api:         api,
		bus:         bus,
		localUserID: localUserID,
	}
}

// Start subscribes to the session control events. Call once before use.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs,
		c.bus.Subscribe(types.EventSessionUpdated, c.handleSessionUpdated),
		c.bus.Subscribe(types.EventSettingsUpdated, c.handleSettingsUpdated),
		c.bus.Subscribe(types.EventUserJoined, c.handleUserJoined),
		c.bus.Subscribe(types.EventUserLeft, c.handleUserLeft),
	)
}

// Create asks the collaborator for a new session, installs the authoritative
// record, and announces interest on the wire. On REST failure no local state
// changes and no envelope is published.
func (c *Coordinator) Create(ctx context.Context, spec types.SessionSpec) (*types.CollaborationSession, error) {
	if err := c.ensureJoinable(); err != nil {
		return nil, err
	}

	session, err := c.api.CreateSession(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return c.install(session)
}

// Join fetches the authoritative record for an existing session, installs it,
// and announces interest on the wire.
func (c *Coordinator) Join(ctx context.Context, sessionID string) (*types.CollaborationSession, error) {
	if err := c.ensureJoinable(); err != nil {
		return nil, err
	}

	session, err := c.api.JoinSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to join session %s: %w", sessionID, err)
	}

	return c.install(session)
}

// Leave reverses Join: announce departure on the wire, tell the collaborator,
// then clear local state. A REST failure propagates and leaves the local
// session in place so the caller can retry.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.RLock()
	if c.current == nil {
		c.mu.RUnlock()
		return ErrNoActiveSession
	}
	sessionID := c.current.ID
	c.mu.RUnlock()

	c.publishControl(types.EventLeaveSession, sessionID)

	if err := c.api.LeaveSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to leave session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	log.Printf("Left session: id=%s", sessionID)
	return nil
}

// Current returns a copy of the current session, or nil when none is joined.
func (c *Coordinator) Current() *types.CollaborationSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	session := *c.current
	session.Participants = append([]types.Participant(nil), c.current.Participants...)
	return &session
}

// RequireSessionID returns the active session ID or fails fast, so stream
// operations without a session never reach the network.
func (c *Coordinator) RequireSessionID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return "", ErrNoActiveSession
	}
	return c.current.ID, nil
}

// Reset drops the current session without any wire or REST traffic. Used when
// the connection is lost for good.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Close unsubscribes from the router and clears state.
func (c *Coordinator) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.current = nil
	c.closed = true
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Coordinator) ensureJoinable() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	if c.current != nil {
		return ErrSessionAlreadyJoined
	}
	return nil
}

func (c *Coordinator) install(session *types.CollaborationSession) (*types.CollaborationSession, error) {
	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	c.publishControl(types.EventJoinSession, session.ID)
	log.Printf("Session active: id=%s type=%s participants=%d",
		session.ID, session.Type, len(session.Participants))
	return c.Current(), nil
}

func (c *Coordinator) publishControl(eventType, sessionID string) {
	env, err := types.NewEnvelope(eventType, nil)
	if err != nil {
		return
	}
	env.UserID = c.localUserID
	env.SessionID = sessionID
	if err := c.bus.Publish(env); err != nil {
		log.Printf("Failed to publish %s: %v", eventType, err)
	}
}

// handleSessionUpdated installs the server's session record wholesale. No
// field-level merge happens here on purpose: the server copy wins completely.
func (c *Coordinator) handleSessionUpdated(env *types.Envelope) {
	var session types.CollaborationSession
	if err := env.DecodeData(&session); err != nil {
		log.Printf("Dropping session_updated with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != session.ID {
		return
	}
	c.current = &session
}

// handleSettingsUpdated swaps the settings block, again wholesale.
func (c *Coordinator) handleSettingsUpdated(env *types.Envelope) {
	var settings types.SessionSettings
	if err := env.DecodeData(&settings); err != nil {
		log.Printf("Dropping settings_updated with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || (env.SessionID != "" && env.SessionID != c.current.ID) {
		return
	}
	c.current.Settings = settings
}

func (c *Coordinator) handleUserJoined(env *types.Envelope) {
	if env.UserID == "" || env.UserID == c.localUserID {
		return
	}
	var payload types.PresencePayload
	if err := env.DecodeData(&payload); err != nil {
		log.Printf("Dropping user_joined with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || (env.SessionID != "" && env.SessionID != c.current.ID) {
		return
	}
	for _, p := range c.current.Participants {
		if p.UserID == env.UserID {
			return
		}
	}
	c.current.Participants = append(c.current.Participants, types.Participant{
		UserID:   env.UserID,
		Username: payload.Username,
		Role:     payload.Role,
		JoinedAt: env.Timestamp,
	})
	log.Printf("Participant joined: user=%s session=%s", env.UserID, c.current.ID)
}

func (c *Coordinator) handleUserLeft(env *types.Envelope) {
	if env.UserID == "" || env.UserID == c.localUserID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || (env.SessionID != "" && env.SessionID != c.current.ID) {
		return
	}
	participants := c.current.Participants
	for i, p := range participants {
		if p.UserID == env.UserID {
			c.current.Participants = append(participants[:i:i], participants[i+1:]...)
			log.Printf("Participant left: user=%s session=%s", env.UserID, c.current.ID)
			return
		}
	}
}
