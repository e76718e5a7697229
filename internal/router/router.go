package router

import (
	"encoding/json"
	"log"
	"sync"

	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Handler receives one inbound envelope. Handlers for a type run in
// registration order; a failing handler never blocks the others.
type Handler func(env *types.Envelope)

type subscription struct {
	id      uint64
	handler Handler
}

// Router is the typed publish/subscribe multiplexer on top of the connection
// manager. Inbound frames are demultiplexed by envelope type and fanned out
// to subscribers; outbound envelopes are forwarded to the sender, which
// queues them when disconnected. The router is the sole owner of the
// subscription table.
type Router struct {
	sender interfaces.EnvelopeSender

	mu     sync.Mutex
	subs   map[string][]subscription
	nextID uint64
	closed bool
}

// NewRouter creates a router that publishes through the given sender.
func NewRouter(sender interfaces.EnvelopeSender) *Router {
	return &Router{
		sender: sender,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers a handler for an event type and returns its
// unsubscribe function. Unsubscribe is idempotent and remains safe to call
// after the router has been torn down.
func (r *Router) Subscribe(eventType string, handler Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if !r.closed {
		r.subs[eventType] = append(r.subs[eventType], subscription{id: id, handler: handler})
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return
		}
		entries := r.subs[eventType]
		for i, sub := range entries {
			if sub.id == id {
				r.subs[eventType] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(r.subs[eventType]) == 0 {
			delete(r.subs, eventType)
		}
	}
}

// Publish forwards an envelope to the connection manager for transmission.
// Delivery is not guaranteed beyond the sender's in-memory queue.
func (r *Router) Publish(env *types.Envelope) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	r.mu.Unlock()
	return r.sender.Send(env)
}

// Dispatch parses one raw inbound frame and fans it out. Malformed frames
// are dropped with a log line and never reach subscribers; heartbeat
// ping/pong envelopes are swallowed here; unknown event types are dropped
// silently so server-added types do not break older clients.
func (r *Router) Dispatch(data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Dropping malformed inbound frame: %v", err)
		return
	}
	if env.Type == types.EventPing || env.Type == types.EventPong {
		return
	}
	if !types.IsValidEventType(env.Type) {
		return
	}

	r.mu.Lock()
	entries := r.subs[env.Type]
	handlers := make([]Handler, len(entries))
	for i, sub := range entries {
		handlers[i] = sub.handler
	}
	r.mu.Unlock()

	for _, handler := range handlers {
		r.invoke(handler, &env)
	}
}

// invoke isolates one handler so a panic cannot take down dispatch for the
// remaining subscribers.
func (r *Router) invoke(handler Handler, env *types.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Subscriber panicked on %s envelope: %v", env.Type, rec)
		}
	}()
	handler(env)
}

// Close drops the subscription table. Outstanding unsubscribe functions
// become no-ops.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.subs = make(map[string][]subscription)
}
