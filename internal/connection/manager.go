package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"studysync/internal/config"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Manager owns the single bidirectional transport and its reconnect state
// machine. It is the sole owner of the transport handle; all other components
// interact with the wire through Send and the inbound message handler.
//
// Lifecycle: Connect moves Disconnected -> Connecting and, on success,
// Connected. Abnormal closes and failed dials schedule a backoff retry
// (Reconnecting) until MaxReconnectAttempts is exceeded, which is fatal and
// requires an explicit Connect call to recover. Disconnect is terminal by
// intent and never auto-reconnects.
type Manager struct {
	cfg    config.ConnectionConfig
	dialer interfaces.Dialer

	mu             sync.Mutex
	state          State
	attempts       int
	lastErr        error
	connectedAt    time.Time
	disconnectedAt time.Time
	transport      interfaces.Transport
	queue          [][]byte
	gen            uint64 // transport epoch; invalidates stale loops and timers
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	onMessage func([]byte)
	stateSubs []func(StateChange)
}

// NewManager creates a manager for the given endpoint configuration. A nil
// dialer selects the gorilla/websocket dialer.
func NewManager(cfg *config.ConnectionConfig, dialer interfaces.Dialer) *Manager {
	if dialer == nil {
		dialer = &WebsocketDialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	return &Manager{
		cfg:    *cfg,
		dialer: dialer,
		state:  StateDisconnected,
	}
}

// OnMessage sets the inbound frame handler. Frames are delivered one at a
// time from the read loop, in transport order. Must be set before Connect.
func (m *Manager) OnMessage(handler func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = handler
}

// OnStateChange registers a state observer. Observers run synchronously after
// each transition, outside the manager lock.
func (m *Manager) OnStateChange(fn func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateSubs = append(m.stateSubs, fn)
}

// Connect opens the transport. It blocks until the first dial attempt
// resolves: nil means Connected; an error means the attempt failed and, if
// attempts remain, a backoff retry has been scheduled in the background.
// Calling Connect after a fatal failure is the manual reconnect path and
// resets the attempt counter.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.attempts = 0
	m.lastErr = nil
	gen := m.gen
	note := m.transitionLocked(StateConnecting, nil)
	m.mu.Unlock()
	note()

	return m.dialAndInstall(ctx, gen)
}

// Disconnect tears the connection down intentionally: cancels all timers,
// closes the transport, and transitions to Disconnected with no retry.
// Queued outbound messages are retained for a future Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	t := m.transport
	m.transport = nil
	m.disconnectedAt = time.Now()
	note := m.transitionLocked(StateDisconnected, nil)
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			log.Printf("Transport close failed: %v", err)
		}
	}
	note()
	return nil
}

// Send transmits the envelope immediately when Connected; otherwise the
// encoded frame joins the outbound queue and is flushed FIFO on the next
// successful connect. A frame whose write fails is re-queued, not dropped.
func (m *Manager) Send(env *types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
	}

	m.mu.Lock()
	if m.state == StateConnected && m.transport != nil {
		writeErr := m.transport.WriteMessage(data)
		if writeErr != nil {
			m.queue = append(m.queue, data)
			m.mu.Unlock()
			return fmt.Errorf("write failed, message queued: %w", writeErr)
		}
		m.mu.Unlock()
		return nil
	}
	m.queue = append(m.queue, data)
	m.mu.Unlock()
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns a snapshot for status indicators.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{
		State:     m.state,
		Attempts:  m.attempts,
		LastError: m.lastErr,
	}
	if !m.connectedAt.IsZero() {
		info.ConnectedAt = m.connectedAt.UnixMilli()
	}
	if !m.disconnectedAt.IsZero() {
		info.DisconnectedAt = m.disconnectedAt.UnixMilli()
	}
	return info
}

// QueuedCount reports how many outbound frames are waiting for a connection.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) dialAndInstall(ctx context.Context, gen uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	t, err := m.dialer.Dial(dialCtx, m.cfg.Endpoint, m.cfg.Subprotocols)
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		m.handleFailure(gen, err)
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		// Disconnected while the dial was in flight.
		m.mu.Unlock()
		_ = t.Close()
		return ErrManagerClosed
	}
	m.gen++
	liveGen := m.gen
	m.transport = t
	m.attempts = 0
	m.lastErr = nil
	m.connectedAt = time.Now()
	stop := make(chan struct{})
	m.heartbeatStop = stop
	note := m.transitionLocked(StateConnected, nil)
	go m.readLoop(t, liveGen)
	go m.heartbeatLoop(liveGen, stop)
	m.flushQueueLocked()
	m.mu.Unlock()
	note()

	log.Printf("Connected: endpoint=%s", m.cfg.Endpoint)
	return nil
}

// readLoop drains the transport and hands frames to the message handler in
// arrival order. Runs until the transport fails or is closed.
func (m *Manager) readLoop(t interfaces.Transport, gen uint64) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		m.mu.Lock()
		handler := m.onMessage
		m.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

// handleReadError processes an abnormal transport close. Intentional
// disconnects have already bumped the epoch, so their read errors are stale
// and ignored here.
func (m *Manager) handleReadError(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopHeartbeatLocked()
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	m.disconnectedAt = time.Now()
	note := m.failureLocked(err)
	m.mu.Unlock()
	note()
}

// handleFailure processes a failed dial attempt.
func (m *Manager) handleFailure(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	note := m.failureLocked(err)
	m.mu.Unlock()
	note()
}

// failureLocked increments the attempt counter and either schedules a backoff
// retry or, past the attempt budget, goes fatal. Attempts only increment
// here, on failed or abnormal connections; clean connects reset the counter.
func (m *Manager) failureLocked(err error) func() {
	m.lastErr = err
	m.attempts++

	if m.attempts > m.cfg.MaxReconnectAttempts {
		fatal := fmt.Errorf("%w (%d): %v", ErrMaxAttemptsReached, m.cfg.MaxReconnectAttempts, err)
		m.lastErr = fatal
		log.Printf("Connection failed permanently: attempts=%d err=%v", m.attempts-1, err)
		return m.transitionLocked(StateDisconnected, fatal)
	}

	delay := backoffDelay(m.cfg.BaseDelay, m.cfg.CapDelay, m.attempts)
	gen := m.gen
	m.reconnectTimer = time.AfterFunc(delay, func() { m.reattempt(gen) })
	log.Printf("Connection lost, retrying: attempt=%d delay=%s err=%v", m.attempts, delay, err)
	return m.transitionLocked(StateReconnecting, err)
}

// reattempt fires when the backoff timer elapses.
func (m *Manager) reattempt(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	note := m.transitionLocked(StateConnecting, nil)
	m.mu.Unlock()
	note()

	_ = m.dialAndInstall(context.Background(), gen)
}

// heartbeatLoop sends a ping envelope on a fixed interval while connected.
// Matching pong replies are swallowed by the event router, never surfaced.
func (m *Manager) heartbeatLoop(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writePing(gen)
		case <-stop:
			return
		}
	}
}

func (m *Manager) writePing(gen uint64) {
	ping, err := types.NewEnvelope(types.EventPing, nil)
	if err != nil {
		return
	}
	data, err := json.Marshal(ping)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state != StateConnected || m.transport == nil {
		return
	}
	if writeErr := m.transport.WriteMessage(data); writeErr != nil {
		log.Printf("Heartbeat write failed: %v", writeErr)
	}
}

// flushQueueLocked delivers queued frames in strict FIFO order. New sends are
// blocked on the manager lock until the flush completes, so nothing overtakes
// the queue.
func (m *Manager) flushQueueLocked() {
	if len(m.queue) == 0 || m.transport == nil {
		return
	}
	queued := m.queue
	for i, frame := range queued {
		if err := m.transport.WriteMessage(frame); err != nil {
			m.queue = queued[i:]
			log.Printf("Queue flush interrupted: delivered=%d remaining=%d err=%v", i, len(m.queue), err)
			return
		}
	}
	m.queue = nil
	log.Printf("Flushed %d queued messages", len(queued))
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// transitionLocked swaps the state and returns a closure that notifies
// observers. Callers invoke it after releasing the lock so observers can call
// back into the manager.
func (m *Manager) transitionLocked(next State, err error) func() {
	if m.state == next && err == nil {
		return func() {}
	}
	change := StateChange{Old: m.state, New: next, Err: err, Attempts: m.attempts}
	m.state = next
	subs := make([]func(StateChange), len(m.stateSubs))
	copy(subs, m.stateSubs)
	return func() {
		for _, fn := range subs {
			fn(change)
		}
	}
}

// backoffDelay computes min(base * 2^(attempt-1), cap) with overflow guards.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := uint(attempt - 1)
	if shift > 30 {
		return cap
	}
	delay := base << shift
	if delay <= 0 || delay > cap {
		return cap
	}
	return delay
}
