package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dicelobby/backend/internal/core"
)

// handleProfileGet reads a player profile. The session bearer is optional;
// when present it must belong to the requested player.
func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["id"]
	if token := bearerToken(r); token != "" {
		if _, err := s.vault.Authorize(token, playerID, ""); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	profile, ok := s.catalog.GetProfile(playerID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleProfilePut(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["id"]
	if token := bearerToken(r); token != "" {
		if _, err := s.vault.Authorize(token, playerID, ""); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	var profile core.PlayerProfile
	if !decodeBody(w, r, &profile) {
		return
	}
	s.catalog.PutProfile(playerID, profile)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type logEntryBody struct {
	ID      string         `json:"id"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
	TS      int64          `json:"ts"`
}

type logRejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// handleLogsBatch appends client log lines, accepting and rejecting
// per entry so one bad line never sinks the batch.
func (s *Server) handleLogsBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entries []logEntryBody `json:"entries"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "empty_batch")
		return
	}

	accepted := 0
	var rejected []logRejection
	for i, e := range body.Entries {
		reason := s.gameLog.Append(&core.GameLogEntry{
			ID:        e.ID,
			Level:     e.Level,
			Message:   e.Message,
			Context:   e.Context,
			Timestamp: e.TS,
		})
		if reason == "" {
			accepted++
		} else {
			rejected = append(rejected, logRejection{Index: i, Reason: reason})
		}
	}
	if accepted > 0 && s.requestSave != nil {
		s.requestSave()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	})
}

// handleScoreSubmit records a finished game. Requires a non-anonymous
// identity; the displayed name is always the uid's stored choice, never
// what the submission claims.
func (s *Server) handleScoreSubmit(w http.ResponseWriter, r *http.Request) {
	claims := s.requireIdentity(w, r)
	if claims == nil {
		return
	}
	if claims.IsAnonymous {
		writeError(w, http.StatusForbidden, "anonymous_not_allowed")
		return
	}

	var body struct {
		Score      int    `json:"score"`
		DurationMs int64  `json:"durationMs"`
		Rolls      int    `json:"rolls"`
		Difficulty string `json:"difficulty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	name := ""
	if p := s.catalog.GetFirebasePlayer(claims.UID); p != nil {
		name = p.DisplayName
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing_display_name")
		return
	}

	entry := &core.LeaderboardEntry{
		UID:         claims.UID,
		DisplayName: name,
		Score:       body.Score,
		DurationMs:  body.DurationMs,
		Rolls:       body.Rolls,
		Difficulty:  body.Difficulty,
	}
	if reason := s.leaderboard.Submit(entry); reason != "" {
		writeError(w, http.StatusBadRequest, reason)
		return
	}
	if s.requestSave != nil {
		s.requestSave()
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	if limit == 0 || limit > s.cfg.LeaderboardCap {
		limit = s.cfg.LeaderboardCap
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.leaderboard.Top(limit),
	})
}
