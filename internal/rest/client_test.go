package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/config"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(&config.RESTConfig{
		BaseURL:   server.URL,
		Timeout:   2 * time.Second,
		AuthToken: "token-abc",
	})
}

func TestCreateSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))

		var spec types.SessionSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, "pair_programming", spec.Type)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"session": types.CollaborationSession{
				ID:     "sess-1",
				Type:   spec.Type,
				Title:  spec.Title,
				Status: "active",
			},
		})
	})

	session, err := client.CreateSession(context.Background(), types.SessionSpec{
		Type:  "pair_programming",
		Title: "Graph homework",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, "active", session.Status)
}

func TestJoinSessionNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "no such session"}`, http.StatusNotFound)
	})

	_, err := client.JoinSession(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestLeaveSession(t *testing.T) {
	var called bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/sessions/sess-1/leave", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.LeaveSession(context.Background(), "sess-1"))
	assert.True(t, called)
}

func TestServerErrorSurfacesMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "session is full"})
	})

	_, err := client.JoinSession(context.Background(), "sess-1")
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "session is full")
}

func TestEmptySessionRecordRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	})

	_, err := client.CreateSession(context.Background(), types.SessionSpec{Type: "study_group"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestListParticipants(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-1/participants", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"participants": []types.Participant{
				{UserID: "u1", Username: "ana", Role: "student"},
				{UserID: "u2", Username: "ben", Role: "mentor"},
			},
		})
	})

	participants, err := client.ListParticipants(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "ana", participants[0].Username)
}

func TestCommentLifecycle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sessions/sess-1/comments":
			var c types.CodeComment
			require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
			c.ID = "comment-1" // server assigns the ID
			json.NewEncoder(w).Encode(map[string]interface{}{"comment": c})
		case r.Method == http.MethodPatch && r.URL.Path == "/sessions/sess-1/comments/comment-1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"comment": types.CodeComment{ID: "comment-1", Text: "updated"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/sessions/sess-1/comments/comment-1/resolve":
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, `{"error": "unexpected request"}`, http.StatusBadRequest)
		}
	})

	ctx := context.Background()
	created, err := client.CreateComment(ctx, "sess-1", types.CodeComment{Text: "off by one", Line: 12})
	require.NoError(t, err)
	assert.Equal(t, "comment-1", created.ID)

	updated, err := client.UpdateComment(ctx, "sess-1", "comment-1", "updated")
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Text)

	require.NoError(t, client.ResolveComment(ctx, "sess-1", "comment-1"))
}

func TestCreateReview(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-1/reviews", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "review-9"})
	})

	id, err := client.CreateReview(context.Background(), "sess-1", types.ReviewRequest{
		TaskID:     "task-3",
		ReviewerID: "u2",
	})
	require.NoError(t, err)
	assert.Equal(t, "review-9", id)
}
