// Package api is the HTTP surface: session lifecycle, token refresh,
// identity-backed profile and leaderboard endpoints, and the log intake.
// Handlers translate between JSON and the catalog/vault/records layers;
// no game rules live here.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dicelobby/backend/internal/catalog"
	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/engine"
	"github.com/dicelobby/backend/internal/identity"
	"github.com/dicelobby/backend/internal/middleware"
	"github.com/dicelobby/backend/internal/records"
	"github.com/dicelobby/backend/internal/vault"
)

// Server wires the mux router over the domain components.
type Server struct {
	cfg         *config.Config
	catalog     *catalog.Catalog
	vault       *vault.Vault
	verifier    *identity.Verifier
	gameLog     *records.GameLog
	leaderboard *records.Leaderboard
	limiter     *middleware.RateLimiter
	wsHandler   http.Handler
	metrics     http.Handler
	connections func() int
	requestSave func()
	playerLeft  func(sessionID, playerID string)
	started     time.Time
	logger      *log.Logger
}

// Deps are the constructor inputs; every field is required except Metrics.
type Deps struct {
	Config      *config.Config
	Catalog     *catalog.Catalog
	Vault       *vault.Vault
	Verifier    *identity.Verifier
	GameLog     *records.GameLog
	Leaderboard *records.Leaderboard
	WSHandler   http.Handler
	Metrics     http.Handler
	Connections func() int
	// RequestSave schedules a snapshot save for mutations that bypass
	// the catalog (log intake, leaderboard submissions).
	RequestSave func()
	// PlayerLeft runs after a successful leave so the fan-out layer can
	// announce the departure and drop the player's sockets.
	PlayerLeft func(sessionID, playerID string)
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:         d.Config,
		catalog:     d.Catalog,
		vault:       d.Vault,
		verifier:    d.Verifier,
		gameLog:     d.GameLog,
		leaderboard: d.Leaderboard,
		limiter:     middleware.NewRateLimiter(d.Config.RateLimitPerMinute),
		wsHandler:   d.WSHandler,
		metrics:     d.Metrics,
		connections: d.Connections,
		requestSave: d.RequestSave,
		playerLeft:  d.PlayerLeft,
		started:     time.Now(),
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Close stops the rate limiter's cleanup loop.
func (s *Server) Close() {
	s.limiter.Stop()
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recover)
	r.Use(middleware.CORS)
	r.Use(middleware.Metrics)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimit(s.limiter))

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/auth/token/refresh", s.handleTokenRefresh).Methods("POST")
	api.HandleFunc("/auth/me", s.handleAuthMeGet).Methods("GET")
	api.HandleFunc("/auth/me", s.handleAuthMePut).Methods("PUT")

	api.HandleFunc("/players/{id}/profile", s.handleProfileGet).Methods("GET")
	api.HandleFunc("/players/{id}/profile", s.handleProfilePut).Methods("PUT")

	api.HandleFunc("/logs/batch", s.handleLogsBatch).Methods("POST")

	api.HandleFunc("/leaderboard/scores", s.handleScoreSubmit).Methods("POST")
	api.HandleFunc("/leaderboard/global", s.handleLeaderboard).Methods("GET")

	api.HandleFunc("/multiplayer/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/multiplayer/rooms", s.handleListRooms).Methods("GET")
	api.HandleFunc("/multiplayer/rooms/{code}/join", s.handleJoinByCode).Methods("POST")
	api.HandleFunc("/multiplayer/sessions/{id}/join", s.handleJoinByID).Methods("POST")
	api.HandleFunc("/multiplayer/sessions/{id}/heartbeat", s.handleHeartbeat).Methods("POST")
	api.HandleFunc("/multiplayer/sessions/{id}/leave", s.handleLeave).Methods("POST")
	api.HandleFunc("/multiplayer/sessions/{id}/auth/refresh", s.handleSessionAuthRefresh).Methods("POST")

	// Socket upgrades happen at the root path; clients dial ws://host/?session=...
	r.Handle("/", s.wsHandler)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// writeJSON emits a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform {error, reason} failure shape.
func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{
		"error":  http.StatusText(status),
		"reason": reason,
	})
}

// writeDomainError maps catalog, vault, and engine rejections onto HTTP.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var catErr *catalog.Error
	var engErr *engine.Error
	switch {
	case errors.As(err, &catErr):
		writeError(w, catErr.Status, catErr.Reason)
	case errors.As(err, &engErr):
		writeError(w, http.StatusConflict, engErr.Reason)
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, vault.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		s.logger.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// decodeBody parses a JSON request body into dst, rejecting unknown noise
// by size rather than schema.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body")
		return false
	}
	return true
}

// bearerToken pulls the Authorization bearer value, empty when absent.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// queryLimit parses a ?limit= parameter, zero when absent or junk.
func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conns := 0
	if s.connections != nil {
		conns = s.connections()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    s.catalog.SessionCount(),
		"players":     s.catalog.PlayerCount(),
		"connections": conns,
		"uptimeSec":   int64(time.Since(s.started).Seconds()),
	})
}
