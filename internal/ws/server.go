package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dicelobby/backend/internal/catalog"
	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
	"github.com/dicelobby/backend/internal/monitoring"
	"github.com/dicelobby/backend/internal/records"
	"github.com/dicelobby/backend/internal/vault"
)

// Server authenticates upgrades and dispatches inbound frames into the
// catalog's serialization domain.
type Server struct {
	hub       *Hub
	catalog   *catalog.Catalog
	vault     *vault.Vault
	eng       *engine.Engine
	upgrader  websocket.Upgrader
	onConnect func(sessionID string)
}

func NewServer(hub *Hub, cat *catalog.Catalog, v *vault.Vault, eng *engine.Engine) *Server {
	return &Server{
		hub:     hub,
		catalog: cat,
		vault:   v,
		eng:     eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Game clients connect from arbitrary webviews; tokens, not
			// origins, are the credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetOnConnect installs a hook run after each accepted socket, once the
// client is registered. The scheduler uses it to re-arm timers that were
// parked while the room had no audience.
func (s *Server) SetOnConnect(fn func(sessionID string)) {
	s.onConnect = fn
}

// ServeHTTP upgrades the socket, then authenticates with the query-string
// credentials. Rejections arrive as application close codes so the client
// can tell a bad token from a dead room.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	sessionID := q.Get("session")
	playerID := q.Get("playerId")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	rejected := func(code int, reason string) {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
	}

	if token == "" || sessionID == "" || playerID == "" {
		rejected(CloseBadRequest, "missing_parameters")
		return
	}

	rec, err := s.vault.Authorize(token, playerID, sessionID)
	if err != nil {
		if errors.Is(err, vault.ErrForbidden) {
			rejected(CloseForbidden, "forbidden")
		} else {
			rejected(CloseUnauthorized, "unauthorized")
		}
		return
	}

	view, err := s.catalog.View(sessionID)
	if err != nil {
		rejected(CloseSessionGone, "session_gone")
		return
	}
	if _, ok := view.Participants[playerID]; !ok {
		rejected(CloseForbidden, "not_a_participant")
		return
	}

	c := newClient(s.hub, s, conn, sessionID, playerID)
	s.hub.register(c)
	c.armExpiry(rec.ExpiresAt)
	go c.writePump()
	go c.readPump()

	// The joining socket gets the authoritative state; the rest of the
	// room hears about the arrival.
	c.enqueue(SessionStateFrame(view))
	if view.TurnState != nil && view.TurnState.ActiveTurnPlayerID != "" {
		c.enqueue(TurnStartFrame(sessionID, view.TurnState))
	}
	name := ""
	if p := view.Participants[playerID]; p != nil {
		name = p.DisplayName
	}
	s.hub.BroadcastExcept(sessionID, PresenceFrame(TypePlayerJoined, sessionID, playerID, name, false), c)
	if s.onConnect != nil {
		s.onConnect(sessionID)
	}
	slog.Info("socket connected", "sessionId", sessionID, "playerId", playerID)
}

type inboundFrame map[string]json.RawMessage

func (f inboundFrame) str(key string) string {
	var out string
	if raw, ok := f[key]; ok {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// handleMessage dispatches one inbound text frame. Invalid frames earn an
// error frame plus a full resync; they never kill the socket.
func (s *Server) handleMessage(c *Client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.enqueue(ErrorFrame(CodeBadRequest, "malformed_message", 0))
		return
	}
	msgType := frame.str("type")
	monitoring.WSMessages.WithLabelValues(msgType).Inc()

	switch msgType {
	case TypePing:
		c.enqueue(PongFrame())

	case TypeReady:
		s.handleReady(c, frame)

	case TypeTurnAction:
		s.handleTurnAction(c, frame)

	case TypeTurnEnd:
		s.handleTurnEnd(c)

	default:
		if passthroughTypes[msgType] {
			s.handlePassthrough(c, msgType, frame)
			return
		}
		c.enqueue(ErrorFrame(CodeBadRequest, "unknown_message_type", 0))
	}
}

func (s *Server) handleReady(c *Client, frame inboundFrame) {
	ready := true
	if raw, ok := frame["isReady"]; ok {
		_ = json.Unmarshal(raw, &ready)
	}
	if err := s.catalog.SetReady(c.sessionID, c.playerID, ready); err != nil {
		s.rejectAndResync(c, err, CodeConflict)
		return
	}
	s.hub.Broadcast(c.sessionID, PresenceFrame(TypePlayerReady, c.sessionID, c.playerID, "", ready))
}

func (s *Server) handleTurnAction(c *Client, frame inboundFrame) {
	action := frame.str("action")
	payload, ok := frame["payload"]
	if !ok {
		payload = json.RawMessage("{}")
	}

	// Action frames go out inside the update callback, while the catalog
	// lock still holds. The catalog fires its change hook right after the
	// lock drops, so this is what keeps turn_action ahead of the
	// session_state and turn_start frames describing the result.
	switch action {
	case "roll":
		var req engine.RollRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			c.enqueue(ErrorFrame(CodeTurnInvalidRoll, engine.ReasonInvalidRollPayload, 0))
			s.resync(c)
			return
		}
		err := s.catalog.Update(c.sessionID, func(sess *core.Session) error {
			roll, err := s.eng.ApplyRoll(sess, c.playerID, &req)
			if err != nil {
				return err
			}
			s.hub.Broadcast(c.sessionID, RollActionFrame(c.sessionID, c.playerID, roll, SourcePlayer))
			return nil
		})
		if err != nil {
			s.rejectAndResync(c, err, CodeTurnInvalidRoll)
		}

	case "score":
		var req engine.ScoreRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			c.enqueue(ErrorFrame(CodeTurnInvalidScore, engine.ReasonMissingSelectedDice, 0))
			s.resync(c)
			return
		}
		err := s.catalog.Update(c.sessionID, func(sess *core.Session) error {
			score, err := s.eng.ApplyScore(sess, c.playerID, &req)
			if err != nil {
				return err
			}
			s.hub.Broadcast(c.sessionID, ScoreActionFrame(c.sessionID, c.playerID, score, SourcePlayer))
			return nil
		})
		if err != nil {
			s.rejectAndResync(c, err, CodeTurnInvalidScore)
		}

	default:
		c.enqueue(ErrorFrame(CodeBadRequest, "unknown_turn_action", 0))
		s.resync(c)
	}
}

func (s *Server) handleTurnEnd(c *Client) {
	err := s.catalog.Update(c.sessionID, func(sess *core.Session) error {
		adv, err := s.eng.EndTurn(sess, c.playerID)
		if err != nil {
			return err
		}
		// turn_end must land before the change hook announces the next
		// turn, so it goes out under the catalog lock.
		s.hub.Broadcast(c.sessionID, TurnEndFrame(c.sessionID, adv, SourcePlayer))
		if adv.SessionComplete {
			s.hub.Broadcast(c.sessionID, SessionCompleteFrame(c.sessionID, engine.Standings(sess)))
		}
		return nil
	})
	if err != nil {
		s.rejectAndResync(c, err, CodeTurnEndInvalid)
	}
}

// handlePassthrough relays decorative client messages. Chat-bearing
// notifications run through the conduct filter first.
func (s *Server) handlePassthrough(c *Client, msgType string, frame inboundFrame) {
	if !s.catalog.IsParticipant(c.sessionID, c.playerID) {
		c.enqueue(ErrorFrame(CodeForbidden, "not_a_participant", 0))
		return
	}
	if msgType == TypeNotification {
		if flagged, _ := records.EvaluateChatConduct(frame.str("message")); flagged {
			c.enqueue(ErrorFrame(CodeBadRequest, "message_flagged", 0))
			return
		}
	}
	delete(frame, "type")
	delete(frame, "sessionId")
	delete(frame, "playerId")
	delete(frame, "sourcePlayerId")
	delete(frame, "source")
	delete(frame, "timestamp")
	s.hub.BroadcastExcept(c.sessionID, PassthroughFrame(msgType, c.sessionID, c.playerID, frame), c)
}

// rejectAndResync maps a catalog or engine rejection to an error frame,
// then resyncs the client with authoritative state. Engine rejections
// carry the caller's per-action code; catalog failures map by status.
func (s *Server) rejectAndResync(c *Client, err error, engCode string) {
	var engErr *engine.Error
	var catErr *catalog.Error
	switch {
	case errors.As(err, &engErr):
		c.enqueue(ErrorFrame(engCode, engErr.Reason, engErr.Expected))
	case errors.As(err, &catErr):
		c.enqueue(ErrorFrame(catalogCode(catErr.Status), catErr.Reason, 0))
	default:
		c.enqueue(ErrorFrame(CodeInternalError, "internal_error", 0))
	}
	s.resync(c)
}

// catalogCode maps a catalog error's HTTP status to a frame code.
func catalogCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusGone:
		return CodeSessionGone
	default:
		return CodeInternalError
	}
}

// resync pushes a fresh session_state (and turn_start when a turn is
// live) so a confused client can rebuild its view.
func (s *Server) resync(c *Client) {
	view, err := s.catalog.View(c.sessionID)
	if err != nil {
		c.closeWith(CloseSessionGone, "session_gone")
		return
	}
	c.enqueue(SessionStateFrame(view))
	if view.TurnState != nil && view.TurnState.ActiveTurnPlayerID != "" {
		c.enqueue(TurnStartFrame(c.sessionID, view.TurnState))
	}
}
