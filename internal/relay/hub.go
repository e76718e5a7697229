package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"studysync/pkg/types"
)

// peerLink is the hub's view of a connected peer. Satisfied by *Peer; tests
// substitute in-memory links.
type peerLink interface {
	UserID() string
	Username() string
	SessionID() string
	SetSessionID(string)
	Deliver([]byte) error
	Close() error
}

type inboundFrame struct {
	peer peerLink
	data []byte
}

// Hub owns the session membership tables and fans inbound envelopes out to
// every member of the sender's session, sender included; clients drop their
// own echoes. A single goroutine processes registration, deregistration, and
// messages, so the tables need no locking.
type Hub struct {
	store *Store // nil disables history persistence

	inbound    chan inboundFrame
	register   chan peerLink
	unregister chan peerLink
	shutdown   chan struct{}

	mu      sync.RWMutex
	running bool

	// Owned exclusively by the run goroutine.
	peers    map[string]peerLink            // userID -> link
	sessions map[string]map[string]peerLink // sessionID -> userID -> link
}

// NewHub builds a hub. A nil store turns history persistence off.
func NewHub(store *Store) *Hub {
	return &Hub{
		store:      store,
		inbound:    make(chan inboundFrame, 1000),
		register:   make(chan peerLink, 100),
		unregister: make(chan peerLink, 100),
		shutdown:   make(chan struct{}),
		peers:      make(map[string]peerLink),
		sessions:   make(map[string]map[string]peerLink),
	}
}

// Start launches the processing goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	go h.run(ctx)
	return nil
}

// Stop shuts the processing goroutine down.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Register queues a freshly-upgraded peer.
func (h *Hub) Register(p peerLink) error {
	return h.enqueue(func() error {
		select {
		case h.register <- p:
			return nil
		default:
			return ErrChannelFull
		}
	})
}

// Unregister queues a peer for removal, typically after a read error.
func (h *Hub) Unregister(p peerLink) error {
	return h.enqueue(func() error {
		select {
		case h.unregister <- p:
			return nil
		default:
			return ErrChannelFull
		}
	})
}

// Inbound queues one raw frame read from a peer.
func (h *Hub) Inbound(p peerLink, data []byte) error {
	return h.enqueue(func() error {
		select {
		case h.inbound <- inboundFrame{peer: p, data: data}:
			return nil
		default:
			return ErrChannelFull
		}
	})
}

func (h *Hub) enqueue(send func() error) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}
	return send()
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Relay hub stopped")

	for {
		select {
		case frame := <-h.inbound:
			h.handleFrame(frame.peer, frame.data)
		case p := <-h.register:
			h.handleRegister(p)
		case p := <-h.unregister:
			h.handleUnregister(p)
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleRegister(p peerLink) {
	userID := p.UserID()
	if old, ok := h.peers[userID]; ok {
		// Same identity reconnecting; the stale link loses.
		h.dropFromSession(old)
		_ = old.Close()
	}
	h.peers[userID] = p
	log.Printf("Peer connected: user=%s", userID)
}

func (h *Hub) handleUnregister(p peerLink) {
	userID := p.UserID()
	if current, ok := h.peers[userID]; !ok || current != p {
		return // a newer link for this user already took over
	}
	delete(h.peers, userID)
	sessionID := p.SessionID()
	h.dropFromSession(p)
	_ = p.Close()
	if sessionID != "" {
		h.announcePresence(types.EventUserLeft, sessionID, p)
	}
	log.Printf("Peer disconnected: user=%s session=%s", userID, sessionID)
}

func (h *Hub) handleFrame(p peerLink, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Dropping malformed frame from %s: %v", p.UserID(), err)
		return
	}

	// The relay, not the sender, is authoritative for attribution.
	env.UserID = p.UserID()
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	switch env.Type {
	case types.EventPing:
		h.replyPong(p)
	case types.EventJoinSession:
		h.handleJoin(p, env.SessionID)
	case types.EventLeaveSession:
		h.handleLeave(p)
	default:
		h.relayToSession(p, &env)
	}
}

func (h *Hub) replyPong(p peerLink) {
	pong, err := types.NewEnvelope(types.EventPong, nil)
	if err != nil {
		return
	}
	data, err := json.Marshal(pong)
	if err != nil {
		return
	}
	if err := p.Deliver(data); err != nil {
		log.Printf("Pong delivery to %s failed: %v", p.UserID(), err)
	}
}

func (h *Hub) handleJoin(p peerLink, sessionID string) {
	if sessionID == "" {
		log.Printf("Dropping join_session without a session ID from %s", p.UserID())
		return
	}
	h.dropFromSession(p)
	p.SetSessionID(sessionID)

	members, ok := h.sessions[sessionID]
	if !ok {
		members = make(map[string]peerLink)
		h.sessions[sessionID] = members
	}
	members[p.UserID()] = p

	h.announcePresence(types.EventUserJoined, sessionID, p)
	log.Printf("Peer joined session: user=%s session=%s members=%d",
		p.UserID(), sessionID, len(members))
}

func (h *Hub) handleLeave(p peerLink) {
	sessionID := p.SessionID()
	if sessionID == "" {
		return
	}
	h.dropFromSession(p)
	p.SetSessionID("")
	h.announcePresence(types.EventUserLeft, sessionID, p)
	log.Printf("Peer left session: user=%s session=%s", p.UserID(), sessionID)
}

// relayToSession persists and fans a data envelope out to every member of the
// sender's session, the sender included.
func (h *Hub) relayToSession(p peerLink, env *types.Envelope) {
	sessionID := p.SessionID()
	if sessionID == "" {
		log.Printf("Dropping %s from %s: not in a session", env.Type, p.UserID())
		return
	}
	env.SessionID = sessionID

	if h.store != nil && env.Type == types.EventChatMessage {
		if err := h.store.Save(env); err != nil {
			log.Printf("History persist failed for %s: %v", env.Type, err)
		}
	}

	h.broadcast(sessionID, env)
}

// announcePresence synthesizes a user_joined / user_left envelope for one
// peer and broadcasts it to the session.
func (h *Hub) announcePresence(eventType, sessionID string, p peerLink) {
	env, err := types.NewEnvelope(eventType, types.PresencePayload{Username: p.Username()})
	if err != nil {
		return
	}
	env.UserID = p.UserID()
	env.SessionID = sessionID
	h.broadcast(sessionID, env)
}

func (h *Hub) broadcast(sessionID string, env *types.Envelope) {
	members := h.sessions[sessionID]
	if len(members) == 0 {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to encode %s for broadcast: %v", env.Type, err)
		return
	}
	for userID, member := range members {
		if err := member.Deliver(data); err != nil {
			log.Printf("Delivery to %s failed: %v", userID, err)
		}
	}
}

func (h *Hub) dropFromSession(p peerLink) {
	sessionID := p.SessionID()
	if sessionID == "" {
		return
	}
	if members, ok := h.sessions[sessionID]; ok {
		delete(members, p.UserID())
		if len(members) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}
