package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dicelobby/backend/internal/catalog"
	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/vault"
)

// sessionEnvelope is the create/join response: the session view plus the
// caller's fresh credentials and socket URL.
type sessionEnvelope struct {
	SessionID      string          `json:"sessionId"`
	RoomCode       string          `json:"roomCode"`
	RoomKind       core.RoomKind   `json:"roomKind"`
	GameDifficulty core.Difficulty `json:"gameDifficulty"`
	WSURL          string          `json:"wsUrl"`
	Auth           *vault.Bundle   `json:"auth"`
	Session        *core.Session   `json:"session"`
}

func (s *Server) envelope(sess *core.Session, playerID string, bundle *vault.Bundle) *sessionEnvelope {
	base := s.cfg.WSBaseURL
	if base == "" {
		base = "/"
	}
	q := url.Values{}
	q.Set("session", sess.SessionID)
	q.Set("playerId", playerID)
	q.Set("token", bundle.AccessToken)
	return &sessionEnvelope{
		SessionID:      sess.SessionID,
		RoomCode:       sess.RoomCode,
		RoomKind:       sess.RoomKind,
		GameDifficulty: sess.GameDifficulty,
		WSURL:          fmt.Sprintf("%s?%s", base, q.Encode()),
		Auth:           bundle,
		Session:        sess,
	}
}

type joinBody struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		joinBody
		RoomCode       string          `json:"roomCode"`
		GameDifficulty core.Difficulty `json:"gameDifficulty"`
		MaxBots        *int            `json:"maxBots"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.PlayerID) == "" {
		writeError(w, http.StatusBadRequest, "missing_player_id")
		return
	}

	sess, err := s.catalog.CreateSession(catalog.CreateParams{
		PlayerID:    body.PlayerID,
		DisplayName: body.DisplayName,
		RoomCode:    body.RoomCode,
		Difficulty:  body.GameDifficulty,
		MaxBots:     body.MaxBots,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	bundle, err := s.vault.IssueBundle(body.PlayerID, sess.SessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.envelope(sess, body.PlayerID, bundle))
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.catalog.ListRooms(queryLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleJoinByCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var body joinBody
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.PlayerID) == "" {
		writeError(w, http.StatusBadRequest, "missing_player_id")
		return
	}

	sess, err := s.catalog.JoinByRoomCode(code, catalog.JoinParams{
		PlayerID:    body.PlayerID,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	bundle, err := s.vault.IssueBundle(body.PlayerID, sess.SessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.envelope(sess, body.PlayerID, bundle))
}

func (s *Server) handleJoinByID(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	var body joinBody
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.PlayerID) == "" {
		writeError(w, http.StatusBadRequest, "missing_player_id")
		return
	}

	sess, err := s.catalog.JoinBySessionID(sessionID, catalog.JoinParams{
		PlayerID:    body.PlayerID,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	bundle, err := s.vault.IssueBundle(body.PlayerID, sess.SessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.envelope(sess, body.PlayerID, bundle))
}

// handleHeartbeat refreshes liveness. This is the one session route that
// demands the session bearer: heartbeats are what keep rooms alive, so
// they must come from the credential holder.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	var body struct {
		PlayerID string `json:"playerId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if _, err := s.vault.Authorize(bearerToken(r), body.PlayerID, sessionID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.catalog.Heartbeat(sessionID, body.PlayerID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	var body struct {
		PlayerID string `json:"playerId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "missing_player_id")
		return
	}
	if err := s.catalog.Leave(sessionID, body.PlayerID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.playerLeft != nil {
		s.playerLeft(sessionID, body.PlayerID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessionAuthRefresh reissues a token pair for a participant that
// lost its credentials (page reload). Knowing the session id and a live
// participant id is the proof of membership here; the socket upgrade
// still validates the fresh token.
func (s *Server) handleSessionAuthRefresh(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	var body struct {
		PlayerID string `json:"playerId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "missing_player_id")
		return
	}
	if !s.catalog.IsParticipant(sessionID, body.PlayerID) {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}
	bundle, err := s.vault.IssueBundle(body.PlayerID, sessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
