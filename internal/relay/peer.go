package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	peerSendBuffer = 100
	peerWriteWait  = 5 * time.Second
)

// Peer wraps one websocket connection on the relay side. All writes funnel
// through a single writer goroutine so frames never interleave; the session
// assignment arrives later, on the peer's join_session envelope.
type Peer struct {
	conn    *websocket.Conn
	writeCh chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once

	mu        sync.RWMutex
	userID    string
	username  string
	sessionID string
}

// NewPeer wraps an upgraded connection and starts its writer goroutine.
func NewPeer(conn *websocket.Conn, userID, username string) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		conn:     conn,
		writeCh:  make(chan []byte, peerSendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		userID:   userID,
		username: username,
	}
	go p.writeLoop()
	return p
}

func (p *Peer) writeLoop() {
	for {
		select {
		case data := <-p.writeCh:
			if err := p.conn.SetWriteDeadline(time.Now().Add(peerWriteWait)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Deliver queues one frame for the writer goroutine. A peer that cannot keep
// up within the write window is reported slow rather than blocking the hub.
func (p *Peer) Deliver(data []byte) error {
	select {
	case <-p.ctx.Done():
		return ErrPeerClosed
	default:
	}

	select {
	case p.writeCh <- data:
		return nil
	case <-time.After(peerWriteWait):
		return ErrWriteTimeout
	case <-p.ctx.Done():
		return ErrPeerClosed
	}
}

// Read blocks for the next inbound frame.
func (p *Peer) Read() ([]byte, error) {
	_, data, err := p.conn.ReadMessage()
	return data, err
}

// Close stops the writer goroutine and closes the underlying connection.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.conn.Close()
	})
	return err
}

func (p *Peer) UserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

func (p *Peer) Username() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username
}

func (p *Peer) SessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionID
}

func (p *Peer) SetSessionID(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
}
