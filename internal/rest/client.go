package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"studysync/internal/config"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Client is the plain request/response collaborator for session lifecycle and
// comment CRUD. The collaboration core treats its responses as authoritative
// snapshots only; no state is cached here.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a REST client from configuration.
func NewClient(cfg *config.RESTConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.AuthToken,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

var _ interfaces.SessionAPI = (*Client)(nil)
var _ interfaces.CommentAPI = (*Client)(nil)

type sessionResponse struct {
	Session *types.CollaborationSession `json:"session"`
}

type participantsResponse struct {
	Participants []types.Participant `json:"participants"`
}

type commentResponse struct {
	Comment *types.CodeComment `json:"comment"`
}

type reviewResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateSession asks the collaborator to create a session and returns the
// authoritative record.
func (c *Client) CreateSession(ctx context.Context, spec types.SessionSpec) (*types.CollaborationSession, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", spec, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, ErrEmptyResponse
	}
	return resp.Session, nil
}

// JoinSession registers the caller in an existing session and returns the
// authoritative record including the current roster.
func (c *Client) JoinSession(ctx context.Context, sessionID string) (*types.CollaborationSession, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/join", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, ErrEmptyResponse
	}
	return resp.Session, nil
}

// LeaveSession removes the caller from the session roster.
func (c *Client) LeaveSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/leave", nil, nil)
}

// ListParticipants returns the current roster snapshot.
func (c *Client) ListParticipants(ctx context.Context, sessionID string) ([]types.Participant, error) {
	var resp participantsResponse
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/participants", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

// Invite asks the collaborator to invite a user into the session.
func (c *Client) Invite(ctx context.Context, sessionID, userID string) error {
	body := map[string]string{"userId": userID}
	return c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/invitations", body, nil)
}

// CreateComment persists a comment; the server assigns its ID.
func (c *Client) CreateComment(ctx context.Context, sessionID string, comment types.CodeComment) (*types.CodeComment, error) {
	var resp commentResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/comments", comment, &resp); err != nil {
		return nil, err
	}
	if resp.Comment == nil {
		return nil, ErrEmptyResponse
	}
	return resp.Comment, nil
}

// UpdateComment replaces a comment's text.
func (c *Client) UpdateComment(ctx context.Context, sessionID, commentID, text string) (*types.CodeComment, error) {
	body := map[string]string{"text": text}
	var resp commentResponse
	if err := c.do(ctx, http.MethodPatch, "/sessions/"+sessionID+"/comments/"+commentID, body, &resp); err != nil {
		return nil, err
	}
	if resp.Comment == nil {
		return nil, ErrEmptyResponse
	}
	return resp.Comment, nil
}

// ResolveComment marks a comment resolved.
func (c *Client) ResolveComment(ctx context.Context, sessionID, commentID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/comments/"+commentID+"/resolve", nil, nil)
}

// CreateReview opens a review and returns its server-assigned ID.
func (c *Client) CreateReview(ctx context.Context, sessionID string, review types.ReviewRequest) (string, error) {
	var resp reviewResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/reviews", review, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// do executes one JSON request. Non-2xx responses become errors carrying the
// server's error message; 404 maps to the shared not-found sentinel.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, interfaces.ErrSessionNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %w: %s (status %d)", method, path, ErrRequestFailed, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %w (status %d)", method, path, ErrRequestFailed, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}
