package streams

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"studysync/internal/config"
	"studysync/internal/router"
	"studysync/pkg/types"
)

// SessionSource answers which session is active; every broadcaster fails
// fast through it before touching the wire.
type SessionSource interface {
	RequireSessionID() (string, error)
}

// Chat broadcasts chat messages, reactions, and typing indicators for the
// active session and keeps a capped local message log. Sent messages are
// appended at publish time; the matching self-echo from the transport is
// discarded so a message is never applied twice.
type Chat struct {
	bus           *router.Router
	sessions      SessionSource
	localUserID   string
	localUsername string

	mu        sync.Mutex
	log       *Log[types.ChatMessage]
	onMessage func(types.ChatMessage)
	onTyping  func(userID, username string, active bool)
	unsubs    []func()
}

// NewChat builds the chat broadcaster.
func NewChat(bus *router.Router, sessions SessionSource, cfg *config.StreamsConfig, localUserID, localUsername string) *Chat {
	return &Chat{
		bus:           bus,
		sessions:      sessions,
		localUserID:   localUserID,
		localUsername: localUsername,
		log:           NewLog[types.ChatMessage](cfg.LogCapacity),
	}
}

// Start subscribes to inbound chat traffic.
func (c *Chat) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs,
		c.bus.Subscribe(types.EventChatMessage, c.handleMessage),
		c.bus.Subscribe(types.EventMessageReaction, c.handleReaction),
		c.bus.Subscribe(types.EventUserTyping, c.handleTyping),
	)
}

// OnMessage registers the UI callback for newly-arrived messages, local and
// remote alike.
func (c *Chat) OnMessage(fn func(types.ChatMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnTyping registers the UI callback for peer typing indicators.
func (c *Chat) OnTyping(fn func(userID, username string, active bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTyping = fn
}

// Send publishes a chat message to the session. Fails fast with no network
// traffic when no session is active.
func (c *Chat) Send(text string) (types.ChatMessage, error) {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return types.ChatMessage{}, err
	}

	message := types.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    c.localUserID,
		Username:  c.localUsername,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}

	env, err := types.NewEnvelope(types.EventChatMessage, message)
	if err != nil {
		return types.ChatMessage{}, err
	}
	env.UserID = c.localUserID
	env.SessionID = sessionID
	if err := c.bus.Publish(env); err != nil {
		return types.ChatMessage{}, err
	}

	c.mu.Lock()
	c.log.Append(message)
	notify := c.notifyMessageLocked(message)
	c.mu.Unlock()
	notify()
	return message, nil
}

// React toggles on a reaction to a message and broadcasts it.
func (c *Chat) React(messageID, emoji string) error {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return err
	}

	env, err := types.NewEnvelope(types.EventMessageReaction, types.ReactionPayload{
		MessageID: messageID,
		Emoji:     emoji,
	})
	if err != nil {
		return err
	}
	env.UserID = c.localUserID
	env.SessionID = sessionID
	if err := c.bus.Publish(env); err != nil {
		return err
	}

	c.mu.Lock()
	c.applyReactionLocked(messageID, emoji, c.localUserID)
	c.mu.Unlock()
	return nil
}

// SetTyping broadcasts the local typing indicator. No local state changes.
func (c *Chat) SetTyping(active bool) error {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return err
	}

	env, err := types.NewEnvelope(types.EventUserTyping, types.TypingPayload{
		Username: c.localUsername,
		Active:   active,
	})
	if err != nil {
		return err
	}
	env.UserID = c.localUserID
	env.SessionID = sessionID
	return c.bus.Publish(env)
}

// Messages returns the capped log, oldest first.
func (c *Chat) Messages() []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Items()
}

// Close unsubscribes from the router.
func (c *Chat) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Chat) handleMessage(env *types.Envelope) {
	if env.UserID == c.localUserID {
		return // self-echo: already applied at send time
	}
	var message types.ChatMessage
	if err := env.DecodeData(&message); err != nil {
		log.Printf("Dropping chat_message with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	c.log.Append(message)
	notify := c.notifyMessageLocked(message)
	c.mu.Unlock()
	notify()
}

func (c *Chat) handleReaction(env *types.Envelope) {
	if env.UserID == c.localUserID {
		return
	}
	var payload types.ReactionPayload
	if err := env.DecodeData(&payload); err != nil {
		log.Printf("Dropping message_reaction with bad payload: %v", err)
		return
	}

	c.mu.Lock()
	c.applyReactionLocked(payload.MessageID, payload.Emoji, env.UserID)
	c.mu.Unlock()
}

func (c *Chat) handleTyping(env *types.Envelope) {
	if env.UserID == c.localUserID {
		return
	}
	var payload types.TypingPayload
	if err := env.DecodeData(&payload); err != nil {
		return
	}

	c.mu.Lock()
	fn := c.onTyping
	c.mu.Unlock()
	if fn != nil {
		fn(env.UserID, payload.Username, payload.Active)
	}
}

// applyReactionLocked patches a single message record in place.
func (c *Chat) applyReactionLocked(messageID, emoji, userID string) {
	c.log.Patch(
		func(m types.ChatMessage) bool { return m.ID == messageID },
		func(m *types.ChatMessage) {
			if m.Reactions == nil {
				m.Reactions = make(map[string][]string)
			}
			for _, existing := range m.Reactions[emoji] {
				if existing == userID {
					return
				}
			}
			m.Reactions[emoji] = append(m.Reactions[emoji], userID)
		},
	)
}

func (c *Chat) notifyMessageLocked(message types.ChatMessage) func() {
	fn := c.onMessage
	if fn == nil {
		return func() {}
	}
	return func() { fn(message) }
}
