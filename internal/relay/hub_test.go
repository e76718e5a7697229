package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/pkg/types"
)

type fakeLink struct {
	mu        sync.Mutex
	userID    string
	username  string
	sessionID string
	delivered [][]byte
	closed    bool
}

func newFakeLink(userID, username string) *fakeLink {
	return &fakeLink{userID: userID, username: username}
}

func (f *fakeLink) UserID() string   { return f.userID }
func (f *fakeLink) Username() string { return f.username }

func (f *fakeLink) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

func (f *fakeLink) SetSessionID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = id
}

func (f *fakeLink) Deliver(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, data)
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// received decodes everything delivered so far, filtered by event type.
func (f *fakeLink) received(t *testing.T, eventType string) []*types.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Envelope
	for _, data := range f.delivered {
		var env types.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == eventType {
			out = append(out, &env)
		}
	}
	return out
}

func newTestHub(t *testing.T, store *Store) *Hub {
	t.Helper()
	h := NewHub(store)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func send(t *testing.T, h *Hub, link *fakeLink, eventType, sessionID string, payload interface{}) {
	t.Helper()
	env, err := types.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	env.SessionID = sessionID
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, h.Inbound(link, data))
}

func joinSession(t *testing.T, h *Hub, link *fakeLink, sessionID string) {
	t.Helper()
	require.NoError(t, h.Register(link))
	send(t, h, link, types.EventJoinSession, sessionID, nil)
	require.Eventually(t, func() bool {
		return link.SessionID() == sessionID
	}, time.Second, time.Millisecond)
}

func TestJoinAnnouncesPresence(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	ben := newFakeLink("ben", "Ben")
	joinSession(t, h, ana, "sess-1")
	joinSession(t, h, ben, "sess-1")

	require.Eventually(t, func() bool {
		return len(ana.received(t, types.EventUserJoined)) >= 2
	}, time.Second, time.Millisecond)

	joins := ana.received(t, types.EventUserJoined)
	assert.Equal(t, "ana", joins[0].UserID)
	assert.Equal(t, "ben", joins[1].UserID)
	var presence types.PresencePayload
	require.NoError(t, joins[1].DecodeData(&presence))
	assert.Equal(t, "Ben", presence.Username)
}

func TestChatFansOutToAllMembersIncludingSender(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	ben := newFakeLink("ben", "Ben")
	joinSession(t, h, ana, "sess-1")
	joinSession(t, h, ben, "sess-1")

	send(t, h, ana, types.EventChatMessage, "sess-1", types.ChatMessage{ID: "m-1", Text: "hi"})

	for _, link := range []*fakeLink{ana, ben} {
		require.Eventually(t, func() bool {
			return len(link.received(t, types.EventChatMessage)) == 1
		}, time.Second, time.Millisecond)
	}
	echoed := ana.received(t, types.EventChatMessage)[0]
	assert.Equal(t, "ana", echoed.UserID, "sender echo carries the author ID for client-side dropping")
}

func TestRelayOverridesSenderAttribution(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	ben := newFakeLink("ben", "Ben")
	joinSession(t, h, ana, "sess-1")
	joinSession(t, h, ben, "sess-1")

	// The envelope claims to come from someone else.
	env, err := types.NewEnvelope(types.EventChatMessage, types.ChatMessage{ID: "m-1", Text: "spoofed"})
	require.NoError(t, err)
	env.UserID = "ben"
	env.SessionID = "sess-1"
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, h.Inbound(ana, data))

	require.Eventually(t, func() bool {
		return len(ben.received(t, types.EventChatMessage)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "ana", ben.received(t, types.EventChatMessage)[0].UserID)
}

func TestPingGetsPongOnlyToSender(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	ben := newFakeLink("ben", "Ben")
	joinSession(t, h, ana, "sess-1")
	joinSession(t, h, ben, "sess-1")

	send(t, h, ana, types.EventPing, "", nil)

	require.Eventually(t, func() bool {
		return len(ana.received(t, types.EventPong)) == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, ben.received(t, types.EventPong))
}

func TestFrameWithoutSessionIsDropped(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	require.NoError(t, h.Register(ana))

	send(t, h, ana, types.EventChatMessage, "", types.ChatMessage{ID: "m-1", Text: "void"})

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, ana.received(t, types.EventChatMessage))
}

func TestLeaveSessionAnnouncesAndStopsDelivery(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	ben := newFakeLink("ben", "Ben")
	joinSession(t, h, ana, "sess-1")
	joinSession(t, h, ben, "sess-1")

	send(t, h, ben, types.EventLeaveSession, "sess-1", nil)
	require.Eventually(t, func() bool {
		return len(ana.received(t, types.EventUserLeft)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "ben", ana.received(t, types.EventUserLeft)[0].UserID)

	// Ben no longer receives session traffic.
	before := len(ben.received(t, types.EventChatMessage))
	send(t, h, ana, types.EventChatMessage, "sess-1", types.ChatMessage{ID: "m-2", Text: "bye"})
	require.Eventually(t, func() bool {
		return len(ana.received(t, types.EventChatMessage)) == 1
	}, time.Second, time.Millisecond)
	assert.Len(t, ben.received(t, types.EventChatMessage), before)
}

func TestUnregisterAnnouncesUserLeft(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	ben := newFakeLink("ben", "Ben")
	joinSession(t, h, ana, "sess-1")
	joinSession(t, h, ben, "sess-1")

	require.NoError(t, h.Unregister(ben))

	require.Eventually(t, func() bool {
		return len(ana.received(t, types.EventUserLeft)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "ben", ana.received(t, types.EventUserLeft)[0].UserID)
	assert.True(t, ben.isClosed())
}

func TestReconnectingPeerReplacesStaleLink(t *testing.T) {
	h := newTestHub(t, nil)

	stale := newFakeLink("ana", "Ana")
	joinSession(t, h, stale, "sess-1")

	fresh := newFakeLink("ana", "Ana")
	require.NoError(t, h.Register(fresh))

	require.Eventually(t, stale.isClosed, time.Second, time.Millisecond)
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	h := newTestHub(t, nil)

	ana := newFakeLink("ana", "Ana")
	joinSession(t, h, ana, "sess-1")

	require.NoError(t, h.Inbound(ana, []byte("{not json")))

	// The hub keeps working afterwards.
	send(t, h, ana, types.EventChatMessage, "sess-1", types.ChatMessage{ID: "m-1", Text: "still alive"})
	require.Eventually(t, func() bool {
		return len(ana.received(t, types.EventChatMessage)) == 1
	}, time.Second, time.Millisecond)
}

func TestChatHistoryIsPersisted(t *testing.T) {
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := newTestHub(t, store)
	ana := newFakeLink("ana", "Ana")
	joinSession(t, h, ana, "sess-1")

	send(t, h, ana, types.EventChatMessage, "sess-1", types.ChatMessage{ID: "m-1", Text: "for the record"})

	require.Eventually(t, func() bool {
		history, err := store.Recent("sess-1", 10)
		return err == nil && len(history) == 1
	}, time.Second, 5*time.Millisecond)

	history, err := store.Recent("sess-1", 10)
	require.NoError(t, err)
	assert.Equal(t, "ana", history[0].UserID)
	var msg types.ChatMessage
	require.NoError(t, history[0].DecodeData(&msg))
	assert.Equal(t, "for the record", msg.Text)
}
