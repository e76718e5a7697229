package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/router"
	"studysync/pkg/types"
)

// mockSessionAPI implements interfaces.SessionAPI with behavior toggles.
type mockSessionAPI struct {
	mu sync.Mutex

	session     *types.CollaborationSession
	leaveCalled int

	shouldFailCreate bool
	shouldFailJoin   bool
	shouldFailLeave  bool
}

func (m *mockSessionAPI) CreateSession(ctx context.Context, spec types.SessionSpec) (*types.CollaborationSession, error) {
	if m.shouldFailCreate {
		return nil, errors.New("collaborator create failed")
	}
	m.session = &types.CollaborationSession{
		ID:     "sess-1",
		Type:   spec.Type,
		Title:  spec.Title,
		Status: "active",
		Participants: []types.Participant{
			{UserID: "local-user", Username: "me", Role: "student"},
		},
	}
	return m.session, nil
}

func (m *mockSessionAPI) JoinSession(ctx context.Context, sessionID string) (*types.CollaborationSession, error) {
	if m.shouldFailJoin {
		return nil, errors.New("collaborator join failed")
	}
	m.session = &types.CollaborationSession{
		ID:     sessionID,
		Type:   "study_group",
		Title:  "Existing session",
		Status: "active",
		Participants: []types.Participant{
			{UserID: "peer-1", Username: "ana", Role: "student"},
			{UserID: "local-user", Username: "me", Role: "student"},
		},
	}
	return m.session, nil
}

func (m *mockSessionAPI) LeaveSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailLeave {
		return errors.New("collaborator leave failed")
	}
	m.leaveCalled++
	return nil
}

func (m *mockSessionAPI) ListParticipants(ctx context.Context, sessionID string) ([]types.Participant, error) {
	return nil, nil
}

func (m *mockSessionAPI) Invite(ctx context.Context, sessionID, userID string) error {
	return nil
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

func newTestCoordinator(t *testing.T) (*Coordinator, *mockSessionAPI, *captureSender, *router.Router) {
	t.Helper()
	api := &mockSessionAPI{}
	sender := &captureSender{}
	bus := router.NewRouter(sender)
	c := NewCoordinator(api, bus, "local-user")
	c.Start()
	t.Cleanup(c.Close)
	return c, api, sender, bus
}

func dispatch(t *testing.T, bus *router.Router, eventType, userID, sessionID string, payload interface{}) {
	t.Helper()
	env, err := types.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	env.UserID = userID
	env.SessionID = sessionID
	env.Timestamp = time.Now().UTC()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	bus.Dispatch(data)
}

func TestCreateInstallsSessionAndAnnounces(t *testing.T) {
	c, _, sender, _ := newTestCoordinator(t)

	session, err := c.Create(context.Background(), types.SessionSpec{
		Type:  "pair_programming",
		Title: "Recursion kata",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)

	current := c.Current()
	require.NotNil(t, current)
	assert.Equal(t, "Recursion kata", current.Title)

	joins := sender.byType(types.EventJoinSession)
	require.Len(t, joins, 1)
	assert.Equal(t, "sess-1", joins[0].SessionID)
	assert.Equal(t, "local-user", joins[0].UserID)
}

func TestCreateFailureLeavesNoState(t *testing.T) {
	c, api, sender, _ := newTestCoordinator(t)
	api.shouldFailCreate = true

	_, err := c.Create(context.Background(), types.SessionSpec{Type: "study_group"})
	require.Error(t, err)
	assert.Nil(t, c.Current())
	assert.Empty(t, sender.byType(types.EventJoinSession))
}

func TestJoinFailureLeavesNoState(t *testing.T) {
	c, api, sender, _ := newTestCoordinator(t)
	api.shouldFailJoin = true

	_, err := c.Join(context.Background(), "sess-9")
	require.Error(t, err)
	assert.Nil(t, c.Current())
	assert.Empty(t, sender.byType(types.EventJoinSession))
}

func TestJoinWhileJoinedFails(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	_, err = c.Join(context.Background(), "sess-2")
	assert.ErrorIs(t, err, ErrSessionAlreadyJoined)
}

func TestLeavePublishesCallsRESTAndClears(t *testing.T) {
	c, api, sender, _ := newTestCoordinator(t)
	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	require.NoError(t, c.Leave(context.Background()))

	leaves := sender.byType(types.EventLeaveSession)
	require.Len(t, leaves, 1)
	assert.Equal(t, "sess-1", leaves[0].SessionID)
	assert.Equal(t, 1, api.leaveCalled)
	assert.Nil(t, c.Current())
}

func TestLeaveRESTFailureKeepsSession(t *testing.T) {
	c, api, _, _ := newTestCoordinator(t)
	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	api.shouldFailLeave = true
	require.Error(t, c.Leave(context.Background()))
	assert.NotNil(t, c.Current(), "failed leave keeps local session for retry")
}

func TestLeaveWithoutSession(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	assert.ErrorIs(t, c.Leave(context.Background()), ErrNoActiveSession)
}

func TestRequireSessionID(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	_, err := c.RequireSessionID()
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	id, err := c.RequireSessionID()
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
}

func TestSessionUpdatedReplacesWholesale(t *testing.T) {
	c, _, _, bus := newTestCoordinator(t)
	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	replacement := types.CollaborationSession{
		ID:     "sess-1",
		Type:   "code_review",
		Title:  "Renamed by server",
		Status: "active",
		Participants: []types.Participant{
			{UserID: "peer-7", Username: "zoe", Role: "mentor"},
		},
		Settings: types.SessionSettings{AllowChat: true, MaxParticipants: 3},
	}
	dispatch(t, bus, types.EventSessionUpdated, "server", "sess-1", replacement)

	current := c.Current()
	require.NotNil(t, current)
	assert.Equal(t, "Renamed by server", current.Title)
	assert.Equal(t, "code_review", current.Type)
	// Wholesale replacement: the old roster is gone, not merged.
	require.Len(t, current.Participants, 1)
	assert.Equal(t, "peer-7", current.Participants[0].UserID)
	assert.Equal(t, 3, current.Settings.MaxParticipants)
}

func TestSessionUpdatedForOtherSessionIgnored(t *testing.T) {
	c, _, _, bus := newTestCoordinator(t)
	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	other := types.CollaborationSession{ID: "sess-2", Title: "Not ours"}
	dispatch(t, bus, types.EventSessionUpdated, "server", "sess-2", other)

	assert.Equal(t, "Existing session", c.Current().Title)
}

func TestRosterFollowsPresenceEvents(t *testing.T) {
	c, _, _, bus := newTestCoordinator(t)
	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, c.Current().Participants, 2)

	dispatch(t, bus, types.EventUserJoined, "peer-2", "sess-1",
		types.PresencePayload{Username: "carl", Role: "student"})
	assert.Len(t, c.Current().Participants, 3)

	// Duplicate join is a no-op.
	dispatch(t, bus, types.EventUserJoined, "peer-2", "sess-1",
		types.PresencePayload{Username: "carl", Role: "student"})
	assert.Len(t, c.Current().Participants, 3)

	// Self-echo is ignored.
	dispatch(t, bus, types.EventUserJoined, "local-user", "sess-1",
		types.PresencePayload{Username: "me"})
	assert.Len(t, c.Current().Participants, 3)

	dispatch(t, bus, types.EventUserLeft, "peer-1", "sess-1", nil)
	participants := c.Current().Participants
	assert.Len(t, participants, 2)
	for _, p := range participants {
		assert.NotEqual(t, "peer-1", p.UserID)
	}
}

func TestSettingsUpdatedReplacesSettings(t *testing.T) {
	c, _, _, bus := newTestCoordinator(t)
	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	dispatch(t, bus, types.EventSettingsUpdated, "server", "sess-1",
		types.SessionSettings{AllowChat: false, AllowCursorShare: true, MaxParticipants: 8})

	settings := c.Current().Settings
	assert.False(t, settings.AllowChat)
	assert.True(t, settings.AllowCursorShare)
	assert.Equal(t, 8, settings.MaxParticipants)
}

func TestCloseClearsStateAndUnsubscribes(t *testing.T) {
	api := &mockSessionAPI{}
	sender := &captureSender{}
	bus := router.NewRouter(sender)
	c := NewCoordinator(api, bus, "local-user")
	c.Start()

	_, err := c.Join(context.Background(), "sess-1")
	require.NoError(t, err)

	c.Close()
	assert.Nil(t, c.Current())

	// Events after Close must not resurrect state.
	dispatch(t, bus, types.EventSessionUpdated, "server", "sess-1",
		types.CollaborationSession{ID: "sess-1", Title: "ghost"})
	assert.Nil(t, c.Current())

	_, err = c.Join(context.Background(), "sess-2")
	assert.ErrorIs(t, err, ErrCoordinatorClosed)
}
