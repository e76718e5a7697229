package relay

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"studysync/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dev harness: peers connect from anywhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades websocket requests and pumps frames into the hub. Identity
// arrives as query parameters; there is no credential check in the dev relay.
type Handler struct {
	hub *Hub
}

// NewHandler builds the websocket endpoint handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles GET /ws?user_id=...&username=....
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidUserID(userID) {
		http.Error(w, "missing or invalid user_id", http.StatusBadRequest)
		return
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = userID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade failed for %s: %v", userID, err)
		return
	}

	peer := NewPeer(conn, userID, username)
	if err := h.hub.Register(peer); err != nil {
		log.Printf("Registration failed for %s: %v", userID, err)
		_ = peer.Close()
		return
	}

	go h.readPump(peer)
}

// readPump drains one peer until its transport fails, then unregisters it.
func (h *Handler) readPump(peer *Peer) {
	defer func() {
		if err := h.hub.Unregister(peer); err != nil {
			_ = peer.Close()
		}
	}()

	for {
		data, err := peer.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Peer read failed: user=%s err=%v", peer.UserID(), err)
			}
			return
		}
		if len(data) > types.MaxPayloadSize {
			log.Printf("Dropping oversized frame from %s: %d bytes", peer.UserID(), len(data))
			continue
		}
		if err := h.hub.Inbound(peer, data); err != nil {
			log.Printf("Inbound queue rejected frame from %s: %v", peer.UserID(), err)
		}
	}
}
