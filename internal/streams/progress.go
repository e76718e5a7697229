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

// Progress broadcasts milestone announcements and celebrations and keeps a
// capped local log of shares seen in the session.
type Progress struct {
	bus           *router.Router
	sessions      SessionSource
	localUserID   string
	localUsername string

	mu            sync.Mutex
	log           *Log[types.ProgressShare]
	onShare       func(types.ProgressShare)
	onCelebration func(progressID, fromUserID string)
	unsubs        []func()
}

// NewProgress builds the progress broadcaster.
func NewProgress(bus *router.Router, sessions SessionSource, cfg *config.StreamsConfig, localUserID, localUsername string) *Progress {
	return &Progress{
		bus:           bus,
		sessions:      sessions,
		localUserID:   localUserID,
		localUsername: localUsername,
		log:           NewLog[types.ProgressShare](cfg.LogCapacity),
	}
}

// Start subscribes to inbound progress traffic.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubs = append(p.unsubs,
		p.bus.Subscribe(types.EventProgressShared, p.handleShared),
		p.bus.Subscribe(types.EventProgressCelebration, p.handleCelebration),
	)
}

// OnShare registers the UI callback for incoming shares.
func (p *Progress) OnShare(fn func(types.ProgressShare)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onShare = fn
}

// OnCelebration registers the UI callback for celebrations.
func (p *Progress) OnCelebration(fn func(progressID, fromUserID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCelebration = fn
}

// Share announces a milestone to the session.
func (p *Progress) Share(taskID, milestone string, percent int, message string) (types.ProgressShare, error) {
	sessionID, err := p.sessions.RequireSessionID()
	if err != nil {
		return types.ProgressShare{}, err
	}

	share := types.ProgressShare{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    p.localUserID,
		Username:  p.localUsername,
		TaskID:    taskID,
		Milestone: milestone,
		Percent:   percent,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	env, err := types.NewEnvelope(types.EventProgressShared, share)
	if err != nil {
		return types.ProgressShare{}, err
	}
	env.UserID = p.localUserID
	env.SessionID = sessionID
	if err := p.bus.Publish(env); err != nil {
		return types.ProgressShare{}, err
	}

	p.mu.Lock()
	p.log.Append(share)
	notify := p.notifyShareLocked(share)
	p.mu.Unlock()
	notify()
	return share, nil
}

// Celebrate reacts to a peer's progress share.
func (p *Progress) Celebrate(progressID string) error {
	sessionID, err := p.sessions.RequireSessionID()
	if err != nil {
		return err
	}

	env, err := types.NewEnvelope(types.EventProgressCelebration, types.CelebrationPayload{
		ProgressID: progressID,
	})
	if err != nil {
		return err
	}
	env.UserID = p.localUserID
	env.SessionID = sessionID
	if err := p.bus.Publish(env); err != nil {
		return err
	}

	p.mu.Lock()
	p.celebrateLocked(progressID)
	p.mu.Unlock()
	return nil
}

// Shares returns the capped log, oldest first.
func (p *Progress) Shares() []types.ProgressShare {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.Items()
}

// Close unsubscribes from the router.
func (p *Progress) Close() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (p *Progress) handleShared(env *types.Envelope) {
	if env.UserID == p.localUserID {
		return // self-echo: already applied at share time
	}
	var share types.ProgressShare
	if err := env.DecodeData(&share); err != nil {
		log.Printf("Dropping progress_shared with bad payload: %v", err)
		return
	}

	p.mu.Lock()
	p.log.Append(share)
	notify := p.notifyShareLocked(share)
	p.mu.Unlock()
	notify()
}

func (p *Progress) handleCelebration(env *types.Envelope) {
	if env.UserID == p.localUserID {
		return
	}
	var payload types.CelebrationPayload
	if err := env.DecodeData(&payload); err != nil {
		log.Printf("Dropping progress_celebration with bad payload: %v", err)
		return
	}

	p.mu.Lock()
	p.celebrateLocked(payload.ProgressID)
	fn := p.onCelebration
	p.mu.Unlock()
	if fn != nil {
		fn(payload.ProgressID, env.UserID)
	}
}

// celebrateLocked patches a single share record in place.
func (p *Progress) celebrateLocked(progressID string) {
	p.log.Patch(
		func(share types.ProgressShare) bool { return share.ID == progressID },
		func(share *types.ProgressShare) { share.Celebrated = true },
	)
}

func (p *Progress) notifyShareLocked(share types.ProgressShare) func() {
	fn := p.onShare
	if fn == nil {
		return func() {}
	}
	return func() { fn(share) }
}
