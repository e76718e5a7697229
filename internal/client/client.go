package client

import (
	"context"
	"fmt"
	"log"

	"studysync/internal/config"
	"studysync/internal/connection"
	"studysync/internal/notify"
	"studysync/internal/presence"
	"studysync/internal/rest"
	"studysync/internal/router"
	"studysync/internal/session"
	"studysync/internal/streams"
	"studysync/pkg/types"
)

// Client assembles the collaboration core: one connection manager, one event
// router, and the session, presence, stream, and notification components on
// top of them. The wiring mirrors the data flow end to end: UI call ->
// broadcaster -> router publish -> manager send, and inbound frame -> manager
// read loop -> router dispatch -> subscribed components.
type Client struct {
	cfg *config.Config

	conn     *connection.Manager
	bus      *router.Router
	sessions *session.Coordinator
	cursors  *presence.Synchronizer
	chat     *streams.Chat
	code     *streams.Code
	comments *streams.Comments
	progress *streams.Progress
	notifier *notify.Dispatcher
}

// New builds a client for one user identity. The configuration must already
// be validated.
func New(cfg *config.Config, userID, username string) (*Client, error) {
	if !types.IsValidUserID(userID) {
		return nil, fmt.Errorf("invalid user ID %q", userID)
	}

	api := rest.NewClient(cfg.REST)
	conn := connection.NewManager(cfg.Connection, nil)
	bus := router.NewRouter(conn)
	sessions := session.NewCoordinator(api, bus, userID)

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		bus:      bus,
		sessions: sessions,
		cursors:  presence.NewSynchronizer(bus, sessions, cfg.Presence, userID, username),
		chat:     streams.NewChat(bus, sessions, cfg.Streams, userID, username),
		code:     streams.NewCode(bus, sessions, cfg.Streams, userID),
		comments: streams.NewComments(bus, sessions, api, cfg.Streams, userID, username),
		progress: streams.NewProgress(bus, sessions, cfg.Streams, userID, username),
		notifier: notify.NewDispatcher(bus, cfg.Notify, userID),
	}

	conn.OnMessage(bus.Dispatch)
	conn.OnStateChange(c.handleStateChange)

	sessions.Start()
	c.cursors.Start()
	c.chat.Start()
	c.code.Start()
	c.comments.Start()
	c.progress.Start()
	c.notifier.Start()

	return c, nil
}

// Connect opens the transport. Blocks until the first dial resolves.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Close tears everything down: leaves the wire, cancels every timer, and
// drops all per-session state.
func (c *Client) Close() error {
	err := c.conn.Disconnect()
	c.notifier.Close()
	c.progress.Close()
	c.comments.Close()
	c.code.Close()
	c.chat.Close()
	c.cursors.Close()
	c.sessions.Close()
	c.bus.Close()
	return err
}

// ConnectionInfo returns the status snapshot for a UI indicator.
func (c *Client) ConnectionInfo() connection.Info {
	return c.conn.Info()
}

// OnStateChange registers a connection state observer.
func (c *Client) OnStateChange(fn func(connection.StateChange)) {
	c.conn.OnStateChange(fn)
}

// Sessions exposes the session lifecycle.
func (c *Client) Sessions() *session.Coordinator { return c.sessions }

// Cursors exposes presence and remote cursor state.
func (c *Client) Cursors() *presence.Synchronizer { return c.cursors }

// Chat exposes the chat broadcaster.
func (c *Client) Chat() *streams.Chat { return c.chat }

// Code exposes the code-change broadcaster.
func (c *Client) Code() *streams.Code { return c.code }

// Comments exposes the review-comment broadcaster.
func (c *Client) Comments() *streams.Comments { return c.comments }

// Progress exposes the progress broadcaster.
func (c *Client) Progress() *streams.Progress { return c.progress }

// Notifications exposes the notification dispatcher.
func (c *Client) Notifications() *notify.Dispatcher { return c.notifier }

// handleStateChange reacts to fatal disconnects: the session record and every
// remote cursor decoration are per-connection state and must not survive a
// connection that will not recover on its own.
func (c *Client) handleStateChange(change connection.StateChange) {
	if change.New == connection.StateDisconnected && change.Err != nil {
		log.Printf("Connection failed permanently, clearing session state: %v", change.Err)
		c.sessions.Reset()
		c.cursors.Reset()
	}
}
