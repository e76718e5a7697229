package streams

import (
	"log"
	"sync"
	"time"

	"studysync/internal/config"
	"studysync/internal/router"
	"studysync/pkg/types"
)

// RemoteChange is a peer's code change as received from the wire.
type RemoteChange struct {
	UserID     string
	Change     types.CodeChangePayload
	ReceivedAt time.Time
}

// Code broadcasts editor changes. Outbound changes are fire-and-forget: the
// local editor already holds the text, so nothing is appended at send time
// and the only replay suppression is dropping envelopes authored by self.
// Application of remote changes is last-write-wins; there is no merge.
type Code struct {
	bus         *router.Router
	sessions    SessionSource
	localUserID string

	mu       sync.Mutex
	log      *Log[RemoteChange]
	onChange func(RemoteChange)
	unsubs   []func()
}

// NewCode builds the code-change broadcaster.
func NewCode(bus *router.Router, sessions SessionSource, cfg *config.StreamsConfig, localUserID string) *Code {
	return &Code{
		bus:         bus,
		sessions:    sessions,
		localUserID: localUserID,
		log:         NewLog[RemoteChange](cfg.LogCapacity),
	}
}

// Start subscribes to inbound code changes.
func (c *Code) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs,
		c.bus.Subscribe(types.EventCodeChange, c.handleChange),
	)
}

// OnChange registers the editor callback for remote changes.
func (c *Code) OnChange(fn func(RemoteChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Broadcast publishes a local change to the session.
func (c *Code) Broadcast(change types.CodeChangePayload) error {
	sessionID, err := c.sessions.RequireSessionID()
	if err != nil {
		return err
	}

	env, err := types.NewEnvelope(types.EventCodeChange, change)
	if err != nil {
		return err
	}
	env.UserID = c.localUserID
	env.SessionID = sessionID
	return c.bus.Publish(env)
}

// Changes returns recently received remote changes, oldest first.
func (c *Code) Changes() []RemoteChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Items()
}

// Close unsubscribes from the router.
func (c *Code) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Code) handleChange(env *types.Envelope) {
	if env.UserID == c.localUserID {
		return // self-echo: the local editor already applied this
	}
	var payload types.CodeChangePayload
	if err := env.DecodeData(&payload); err != nil {
		log.Printf("Dropping code_change with bad payload: %v", err)
		return
	}

	change := RemoteChange{
		UserID:     env.UserID,
		Change:     payload,
		ReceivedAt: time.Now(),
	}

	c.mu.Lock()
	c.log.Append(change)
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(change)
	}
}
