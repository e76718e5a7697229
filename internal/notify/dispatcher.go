package notify

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"studysync/internal/config"
	"studysync/internal/router"
	"studysync/pkg/types"
)

// priorityFor maps event types to notification tiers. Events not listed here
// never produce a notification.
func priorityFor(eventType string) (types.Priority, bool) {
	switch eventType {
	case types.EventCommentAdded:
		return types.PriorityHigh, true
	case types.EventChatMessage, types.EventCommentUpdated, types.EventCommentResolved, types.EventProgressShared:
		return types.PriorityMedium, true
	case types.EventUserJoined, types.EventUserLeft, types.EventMessageReaction, types.EventProgressCelebration:
		return types.PriorityLow, true
	default:
		return "", false
	}
}

// Dispatcher converts inbound envelopes into user-facing notifications. It
// observes the same event stream the broadcasters consume but never mutates
// session or cursor state. Low-priority notifications self-expire; everything
// else stays until dismissed or marked read.
type Dispatcher struct {
	bus         *router.Router
	localUserID string
	lowExpiry   time.Duration

	mu            sync.Mutex
	notifications map[string]*types.Notification
	timers        map[string]*time.Timer
	disabled      map[string]bool
	floor         types.Priority
	onNotify      func(types.Notification)
	unsubs        []func()
	closed        bool
}

// NewDispatcher builds the dispatcher. The priority floor starts at low, so
// every mapped event type is surfaced until the caller raises it.
func NewDispatcher(bus *router.Router, cfg *config.NotifyConfig, localUserID string) *Dispatcher {
	return &Dispatcher{
		bus:           bus,
		localUserID:   localUserID,
		lowExpiry:     cfg.LowPriorityExpiry,
		notifications: make(map[string]*types.Notification),
		timers:        make(map[string]*time.Timer),
		disabled:      make(map[string]bool),
		floor:         types.PriorityLow,
	}
}

// Start subscribes to every event type that maps to a notification.
func (d *Dispatcher) Start() {
	watched := []string{
		types.EventUserJoined,
		types.EventUserLeft,
		types.EventChatMessage,
		types.EventMessageReaction,
		types.EventCommentAdded,
		types.EventCommentUpdated,
		types.EventCommentResolved,
		types.EventProgressShared,
		types.EventProgressCelebration,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, eventType := range watched {
		d.unsubs = append(d.unsubs, d.bus.Subscribe(eventType, d.handle))
	}
}

// OnNotify registers the UI callback for newly-created notifications.
func (d *Dispatcher) OnNotify(fn func(types.Notification)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onNotify = fn
}

// SetEnabled toggles notifications for one event type.
func (d *Dispatcher) SetEnabled(eventType string, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enabled {
		delete(d.disabled, eventType)
	} else {
		d.disabled[eventType] = true
	}
}

// SetPriorityFloor suppresses every notification ranked below the floor.
func (d *Dispatcher) SetPriorityFloor(floor types.Priority) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.floor = floor
}

// Dismiss removes a notification and cancels its expiry timer.
func (d *Dispatcher) Dismiss(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.notifications[id]; !ok {
		return ErrNotificationNotFound
	}
	d.removeLocked(id)
	return nil
}

// MarkRead flags a notification as read without removing it.
func (d *Dispatcher) MarkRead(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Read = true
	return nil
}

// List returns the live notifications, oldest first.
func (d *Dispatcher) List() []types.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Notification, 0, len(d.notifications))
	for _, n := range d.notifications {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close cancels every expiry timer, drops all notifications, and
// unsubscribes from the router.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for id := range d.notifications {
		d.removeLocked(id)
	}
	unsubs := d.unsubs
	d.unsubs = nil
	d.closed = true
	d.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (d *Dispatcher) handle(env *types.Envelope) {
	if env.UserID == d.localUserID {
		return
	}
	priority, ok := priorityFor(env.Type)
	if !ok {
		return
	}

	title, body := render(env)

	d.mu.Lock()
	if d.closed || d.disabled[env.Type] || priority.Rank() < d.floor.Rank() {
		d.mu.Unlock()
		return
	}

	n := &types.Notification{
		ID:        uuid.New().String(),
		EventType: env.Type,
		Title:     title,
		Body:      body,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	d.notifications[n.ID] = n
	if priority == types.PriorityLow && d.lowExpiry > 0 {
		id := n.ID
		d.timers[id] = time.AfterFunc(d.lowExpiry, func() { d.expire(id) })
	}
	fn := d.onNotify
	snapshot := *n
	d.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (d *Dispatcher) expire(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(id)
}

// removeLocked drops one notification and stops its timer if any.
func (d *Dispatcher) removeLocked(id string) {
	if timer, ok := d.timers[id]; ok {
		timer.Stop()
		delete(d.timers, id)
	}
	delete(d.notifications, id)
}

// render derives a human-readable title and body from the envelope payload.
// A payload that fails to decode still produces a generic notification; the
// router has already guaranteed the envelope itself is well-formed.
func render(env *types.Envelope) (title, body string) {
	switch env.Type {
	case types.EventUserJoined:
		var p types.PresencePayload
		if err := env.DecodeData(&p); err == nil && p.Username != "" {
			return fmt.Sprintf("%s joined the session", p.Username), ""
		}
		return "A participant joined the session", ""
	case types.EventUserLeft:
		var p types.PresencePayload
		if err := env.DecodeData(&p); err == nil && p.Username != "" {
			return fmt.Sprintf("%s left the session", p.Username), ""
		}
		return "A participant left the session", ""
	case types.EventChatMessage:
		var m types.ChatMessage
		if err := env.DecodeData(&m); err == nil {
			return fmt.Sprintf("New message from %s", m.Username), m.Text
		}
	case types.EventMessageReaction:
		var r types.ReactionPayload
		if err := env.DecodeData(&r); err == nil {
			return "New reaction", r.Emoji
		}
	case types.EventCommentAdded:
		var c types.CodeComment
		if err := env.DecodeData(&c); err == nil {
			return fmt.Sprintf("%s commented on %s:%d", c.Username, c.File, c.Line), c.Text
		}
	case types.EventCommentUpdated:
		var c types.CodeComment
		if err := env.DecodeData(&c); err == nil {
			return fmt.Sprintf("%s edited a comment on %s:%d", c.Username, c.File, c.Line), c.Text
		}
	case types.EventCommentResolved:
		return "Comment resolved", ""
	case types.EventProgressShared:
		var s types.ProgressShare
		if err := env.DecodeData(&s); err == nil {
			return fmt.Sprintf("%s reached a milestone", s.Username), s.Milestone
		}
	case types.EventProgressCelebration:
		return "Someone celebrated your progress", ""
	}
	log.Printf("Rendering generic notification for %s", env.Type)
	return "Session activity", ""
}
