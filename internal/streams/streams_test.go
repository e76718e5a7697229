package streams

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"studysync/internal/config"
	"studysync/internal/router"
	"studysync/internal/session"
	"studysync/pkg/types"
)

type stubSession struct {
	sessionID string
}

func (s *stubSession) RequireSessionID() (string, error) {
	if s.sessionID == "" {
		return "", session.ErrNoActiveSession
	}
	return s.sessionID, nil
}

type captureSender struct {
	mu   sync.Mutex
	sent []*types.Envelope
}

func (s *captureSender) Send(env *types.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *captureSender) byType(eventType string) []*types.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Envelope
	for _, env := range s.sent {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testStreamsConfig() *config.StreamsConfig {
	return &config.StreamsConfig{LogCapacity: 50}
}

// dispatch marshals an envelope and pushes it through the router the way an
// inbound frame would arrive from the transport.
func dispatch(t *testing.T, bus *router.Router, eventType, userID string, payload interface{}) {
	t.Helper()
	env, err := types.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	env.UserID = userID
	env.SessionID = "sess-1"
	data, err := json.Marshal(env)
	require.NoError(t, err)
	bus.Dispatch(data)
}
