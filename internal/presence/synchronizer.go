package presence

import (
	"log"
	"sort"
	"sync"
	"time"

	"studysync/internal/config"
	"studysync/internal/debounce"
	"studysync/internal/router"
	"studysync/pkg/types"
)

// SessionSource answers which session is active. Satisfied by the session
// coordinator; stubbed in tests.
type SessionSource interface {
	RequireSessionID() (string, error)
}

// Synchronizer maintains one RemoteCursor record per active peer and owns
// that table exclusively. Locally-generated position updates are debounced
// (trailing edge, one consistent policy) before publishing so movement bursts
// do not flood the wire. A background sweep evicts peers whose cursor was not
// refreshed within the staleness window; this is the only path that removes
// cursors of peers whose user_left event was lost.
type Synchronizer struct {
	bus           *router.Router
	sessions      SessionSource
	localUserID   string
	localUsername string
	debouncer     *debounce.Debouncer
	staleAfter    time.Duration
	sweepEvery    time.Duration

	mu        sync.Mutex
	cursors   map[string]*types.RemoteCursor
	pending   *types.CursorPayload
	onChange  func([]types.RemoteCursor)
	unsubs    []func()
	sweepStop chan struct{}
	closed    bool
}

// NewSynchronizer builds a synchronizer from the presence configuration.
func NewSynchronizer(bus *router.Router, sessions SessionSource, cfg *config.PresenceConfig, localUserID, localUsername string) *Synchronizer {
	return &Synchronizer{
		bus:           bus,
		sessions:      sessions,
		localUserID:   localUserID,
		localUsername: localUsername,
		debouncer:     debounce.New(cfg.DebounceInterval),
		staleAfter:    cfg.StaleAfter,
		sweepEvery:    cfg.SweepInterval,
		cursors:       make(map[string]*types.RemoteCursor),
	}
}

// Start subscribes to cursor traffic and launches the staleness sweep.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(types.EventCursorUpdate, s.handleCursorUpdate),
		s.bus.Subscribe(types.EventUserLeft, s.handleUserLeft),
	)
	stop := make(chan struct{})
	s.sweepStop = stop
	s.mu.Unlock()

	go s.sweepLoop(stop)
}

// OnCursorsChanged registers the UI callback invoked with a fresh snapshot
// whenever the cursor table changes.
func (s *Synchronizer) OnCursorsChanged(fn func([]types.RemoteCursor)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// UpdateLocalCursor records the local position and schedules a debounced
// publish. Fails fast when no session is active; nothing reaches the wire.
func (s *Synchronizer) UpdateLocalCursor(pos types.Position, selection *types.SelectionRange) error {
	if _, err := s.sessions.RequireSessionID(); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending = &types.CursorPayload{
		Username:  s.localUsername,
		Position:  pos,
		Selection: selection,
	}
	s.mu.Unlock()

	s.debouncer.Do(s.publishPending)
	return nil
}

// Cursors returns the tracked peers sorted by user ID.
func (s *Synchronizer) Cursors() []types.RemoteCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close cancels the debouncer and sweep, unsubscribes, and clears every
// remote cursor so no decoration survives teardown.
func (s *Synchronizer) Close() {
	s.debouncer.Cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.cursors = make(map[string]*types.RemoteCursor)
	notify := s.notifyLocked()
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	notify()
}

// Reset drops all remote cursors without tearing the synchronizer down. Used
// when the connection is lost for good.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.cursors = make(map[string]*types.RemoteCursor)
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Synchronizer) publishPending() {
	sessionID, err := s.sessions.RequireSessionID()
	if err != nil {
		return
	}

	s.mu.Lock()
	payload := s.pending
	s.pending = nil
	s.mu.Unlock()
	if payload == nil {
		return
	}

	env, err := types.NewEnvelope(types.EventCursorUpdate, payload)
	if err != nil {
		return
	}
	env.UserID = s.localUserID
	env.SessionID = sessionID
	if err := s.bus.Publish(env); err != nil {
		log.Printf("Failed to publish cursor update: %v", err)
	}
}

// handleCursorUpdate upserts the peer's record. The old record is replaced
// atomically: readers of a snapshot never see two entries for one peer.
func (s *Synchronizer) handleCursorUpdate(env *types.Envelope) {
	if env.UserID == "" || env.UserID == s.localUserID {
		return
	}
	var payload types.CursorPayload
	if err := env.DecodeData(&payload); err != nil {
		log.Printf("Dropping cursor_update with bad payload: %v", err)
		return
	}

	s.mu.Lock()
	s.cursors[env.UserID] = &types.RemoteCursor{
		UserID:     env.UserID,
		Username:   payload.Username,
		Color:      ColorFor(env.UserID),
		Position:   payload.Position,
		Selection:  payload.Selection,
		LastUpdate: time.Now(),
	}
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Synchronizer) handleUserLeft(env *types.Envelope) {
	if env.UserID == "" || env.UserID == s.localUserID {
		return
	}

	s.mu.Lock()
	if _, tracked := s.cursors[env.UserID]; !tracked {
		s.mu.Unlock()
		return
	}
	delete(s.cursors, env.UserID)
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Synchronizer) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepStale(time.Now())
		case <-stop:
			return
		}
	}
}

// sweepStale evicts cursors past the staleness window. Runs regardless of
// whether user_left events arrive.
func (s *Synchronizer) sweepStale(now time.Time) {
	s.mu.Lock()
	evicted := 0
	for userID, cursor := range s.cursors {
		if now.Sub(cursor.LastUpdate) > s.staleAfter {
			delete(s.cursors, userID)
			evicted++
			log.Printf("Evicted stale cursor: user=%s", userID)
		}
	}
	var notify func()
	if evicted > 0 {
		notify = s.notifyLocked()
	}
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (s *Synchronizer) snapshotLocked() []types.RemoteCursor {
	out := make([]types.RemoteCursor, 0, len(s.cursors))
	for _, cursor := range s.cursors {
		out = append(out, *cursor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Synchronizer) notifyLocked() func() {
	fn := s.onChange
	if fn == nil {
		return func() {}
	}
	snapshot := s.snapshotLocked()
	return func() { fn(snapshot) }
}
