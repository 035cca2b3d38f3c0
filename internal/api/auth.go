package api

import (
	"net/http"
	"strings"

	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/identity"
)

// handleTokenRefresh rotates a session token pair. The presented refresh
// token is single-use; a replay gets 401.
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}
	bundle, err := s.vault.Refresh(body.RefreshToken)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// requireIdentity verifies the identity bearer and upserts the uid's
// profile. Writes the failure response itself and returns nil on failure.
func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) *identity.Claims {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		reason := identity.Reason(err)
		status := http.StatusUnauthorized
		if reason == identity.ReasonLookupUnavailable {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, reason)
		return nil
	}
	s.catalog.UpsertFirebasePlayer(&core.FirebasePlayer{
		UID:         claims.UID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		IsAnonymous: claims.IsAnonymous,
		Provider:    claims.Provider,
	})
	return claims
}

func (s *Server) handleAuthMeGet(w http.ResponseWriter, r *http.Request) {
	claims := s.requireIdentity(w, r)
	if claims == nil {
		return
	}
	player := s.catalog.GetFirebasePlayer(claims.UID)
	writeJSON(w, http.StatusOK, player)
}

// handleAuthMePut updates the uid's chosen display name, the one the
// leaderboard uses regardless of what score submissions claim.
func (s *Server) handleAuthMePut(w http.ResponseWriter, r *http.Request) {
	claims := s.requireIdentity(w, r)
	if claims == nil {
		return
	}
	var body struct {
		DisplayName string `json:"displayName"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	name := strings.TrimSpace(body.DisplayName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing_display_name")
		return
	}
	player := s.catalog.SetFirebaseDisplayName(claims.UID, name)
	writeJSON(w, http.StatusOK, player)
}
