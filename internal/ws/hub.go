package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dicelobby/backend/internal/monitoring"
)

// Hub tracks the open sockets of every session and fans frames out to
// them. Clients register on upgrade and unregister when either pump
// exits; the hub never reaches into a connection directly, it only feeds
// per-client send buffers.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	set := h.sessions[c.sessionID]
	if set == nil {
		set = make(map[*Client]bool)
		h.sessions[c.sessionID] = set
	}
	set[c] = true
	h.mu.Unlock()
	monitoring.WSConnections.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.sessions[c.sessionID]
	if ok && set[c] {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.sessionID)
		}
		monitoring.WSConnections.Dec()
	}
	h.mu.Unlock()
}

// Connected reports whether a player holds at least one open socket in a
// session. Wired into the catalog as its connectivity check.
func (h *Hub) Connected(sessionID, playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.sessions[sessionID] {
		if c.playerID == playerID {
			return true
		}
	}
	return false
}

// ConnectionCount reports the number of open sockets across all sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// HasSubscribers reports whether any socket is open in a session.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// Broadcast queues a frame to every socket in a session. A client whose
// send buffer is full is dropped rather than allowed to stall the room.
func (h *Hub) Broadcast(sessionID string, frame []byte) {
	h.broadcast(sessionID, frame, nil)
}

// BroadcastExcept queues a frame to every socket in a session but the
// sender's own.
func (h *Hub) BroadcastExcept(sessionID string, frame []byte, except *Client) {
	h.broadcast(sessionID, frame, except)
}

func (h *Hub) broadcast(sessionID string, frame []byte, except *Client) {
	// Snapshot under the read lock, deliver outside it: a slow client's
	// closeSlow path re-enters the hub lock.
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
	monitoring.WSBroadcasts.Inc()
}

// ClosePlayer closes every socket a player holds in a session. Used when
// a player leaves so their stale sockets do not linger in the room.
func (h *Hub) ClosePlayer(sessionID, playerID string) {
	h.mu.RLock()
	targets := make([]*Client, 0, 1)
	for c := range h.sessions[sessionID] {
		if c.playerID == playerID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.closeWith(websocket.CloseNormalClosure, "left_session")
	}
}

// CloseSession closes every socket of a destroyed session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.closeWith(CloseSessionGone, "session_closed")
	}
	if len(targets) > 0 {
		slog.Info("closed session sockets", "sessionId", sessionID, "count", len(targets))
	}
}
