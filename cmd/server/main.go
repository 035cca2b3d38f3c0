// Command server runs the dice room backend: HTTP API, WebSocket fan-out,
// bot/timeout scheduler, and the persisted state snapshot.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dicelobby/backend/internal/api"
	"github.com/dicelobby/backend/internal/catalog"
	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
	"github.com/dicelobby/backend/internal/identity"
	"github.com/dicelobby/backend/internal/monitoring"
	"github.com/dicelobby/backend/internal/records"
	"github.com/dicelobby/backend/internal/scheduler"
	"github.com/dicelobby/backend/internal/store"
	"github.com/dicelobby/backend/internal/vault"
	"github.com/dicelobby/backend/internal/ws"
)

const cleanupInterval = time.Minute

func main() {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Fatalf("open store (%s): %v", cfg.StoreBackend, err)
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), cfg.StoreCallTimeout)
	state, err := st.Load(loadCtx)
	cancel()
	if err != nil {
		logger.Fatalf("load snapshot: %v", err)
	}
	logger.Printf("loaded snapshot: %d sessions, %d players, backend=%s",
		len(state.MultiplayerSessions), len(state.Players), cfg.StoreBackend)

	eng := engine.New(cfg.TurnTimeout)
	cat := catalog.New(cfg, eng)
	tokens := vault.New(cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	verifier := identity.New(cfg)
	gameLog := records.NewGameLog(cfg.GameLogCap)
	leaderboard := records.NewLeaderboard(cfg.LeaderboardCap)

	cat.Import(state)
	tokens.Import(state.AccessTokens, state.RefreshTokens)
	gameLog.Import(state.GameLogs)
	leaderboard.Import(state.LeaderboardScores)

	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, cat, tokens, eng)
	sched := scheduler.New(cfg, cat, eng, hub)
	// A connect into a parked room must revive its timers.
	wsServer.SetOnConnect(func(sessionID string) { sched.Sync(sessionID) })
	saveQueue := store.NewSaveQueue(st, cfg.SaveDebounce, cfg.StoreCallTimeout)

	buildSnapshot := func() *core.State {
		snap := core.NewState()
		cat.Export(snap)
		snap.AccessTokens, snap.RefreshTokens = tokens.Export()
		snap.GameLogs = gameLog.Export()
		snap.LeaderboardScores = leaderboard.Export()
		return snap
	}
	requestSave := func() { saveQueue.Enqueue(buildSnapshot()) }

	cat.SetConnectivity(hub.Connected)
	cat.SetOnChange(func(sessionIDs ...string) {
		for _, id := range sessionIDs {
			view, err := cat.View(id)
			if err != nil {
				hub.CloseSession(id)
				sched.Drop(id)
				continue
			}
			hub.Broadcast(id, ws.SessionStateFrame(view))
		}
		sched.Sync(sessionIDs...)
		monitoring.LiveSessions.Set(float64(cat.SessionCount()))
		requestSave()
	})

	// Restore the public room inventory and arm timers for whatever the
	// snapshot brought back.
	cat.Reconcile()
	sched.Sync(cat.SessionIDs()...)
	monitoring.LiveSessions.Set(float64(cat.SessionCount()))

	apiServer := api.NewServer(api.Deps{
		Config:      cfg,
		Catalog:     cat,
		Vault:       tokens,
		Verifier:    verifier,
		GameLog:     gameLog,
		Leaderboard: leaderboard,
		WSHandler:   wsServer,
		Metrics:     promhttp.Handler(),
		Connections: hub.ConnectionCount,
		RequestSave: requestSave,
		PlayerLeft: func(sessionID, playerID string) {
			hub.Broadcast(sessionID, ws.PresenceFrame(ws.TypePlayerLeft, sessionID, playerID, "", false))
			hub.ClosePlayer(sessionID, playerID)
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stopCleanup := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := cat.CleanupExpired()
				if n := len(removed); n > 0 {
					monitoring.SessionsExpired.Add(float64(n))
					for _, id := range removed {
						hub.CloseSession(id)
						sched.Drop(id)
					}
				}
				if swept := tokens.SweepExpired(); swept > 0 {
					logger.Printf("swept %d expired token(s)", swept)
				}
				monitoring.LiveSessions.Set(float64(cat.SessionCount()))
				requestSave()
			case <-stopCleanup:
				return
			}
		}
	}()

	go func() {
		logger.Printf("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	close(stopCleanup)
	sched.Close()
	apiServer.Close()

	// Final synchronous snapshot so nothing played in the last debounce
	// window is lost.
	saveQueue.Enqueue(buildSnapshot())
	saveQueue.Close()
	if err := st.Close(); err != nil {
		logger.Printf("close store: %v", err)
	}
	logger.Println("bye")
}
