// Package scheduler drives everything time-based in a session: the turn
// deadline and its warning, bot turns, and the ambient flavor feed. It
// holds session ids and timers only; all game state is read and mutated
// through the catalog's serialization domain.
package scheduler

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/dicelobby/backend/internal/catalog"
	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
	"github.com/dicelobby/backend/internal/monitoring"
	"github.com/dicelobby/backend/internal/ws"
)

// Sender is the outbound half of the fan-out layer.
type Sender interface {
	Broadcast(sessionID string, frame []byte)
	HasSubscribers(sessionID string) bool
	Connected(sessionID, playerID string) bool
}

// sessionTimers is the armed timer set for one session. All fields are
// guarded by the scheduler mutex.
type sessionTimers struct {
	key     engine.TurnKey
	warning *time.Timer
	timeout *time.Timer
	bot     *time.Timer
	flavor  *time.Timer
}

func (t *sessionTimers) stopTurn() {
	if t.warning != nil {
		t.warning.Stop()
		t.warning = nil
	}
	if t.timeout != nil {
		t.timeout.Stop()
		t.timeout = nil
	}
	if t.bot != nil {
		t.bot.Stop()
		t.bot = nil
	}
}

func (t *sessionTimers) stopAll() {
	t.stopTurn()
	if t.flavor != nil {
		t.flavor.Stop()
		t.flavor = nil
	}
}

// Scheduler arms one timer set per live session.
type Scheduler struct {
	cfg    *config.Config
	cat    *catalog.Catalog
	eng    *engine.Engine
	sender Sender

	mu     sync.Mutex
	timers map[string]*sessionTimers
	closed bool

	logger *log.Logger
}

func New(cfg *config.Config, cat *catalog.Catalog, eng *engine.Engine, sender Sender) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		cat:    cat,
		eng:    eng,
		sender: sender,
		timers: make(map[string]*sessionTimers),
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

// Sync re-derives the timer set of each named session from its current
// turn state. Idempotent per turn: a session whose turn key is unchanged
// keeps its armed timers untouched.
func (s *Scheduler) Sync(sessionIDs ...string) {
	for _, id := range sessionIDs {
		s.syncOne(id)
	}
}

func (s *Scheduler) syncOne(sessionID string) {
	view, err := s.cat.View(sessionID)
	if err != nil {
		s.Drop(sessionID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	t := s.timers[sessionID]
	if t == nil {
		t = &sessionTimers{}
		s.timers[sessionID] = t
	}
	s.armFlavorLocked(sessionID, t, view)

	ts := view.TurnState
	if ts == nil || ts.ActiveTurnPlayerID == "" {
		if t.key != (engine.TurnKey{}) {
			t.stopTurn()
			t.key = engine.TurnKey{}
		}
		return
	}

	key := engine.KeyOf(ts)
	if key == t.key {
		// Same turn. Slots parked while the room had no sockets get armed
		// now, against the deadline the view just refreshed.
		if s.sender.HasSubscribers(sessionID) {
			s.armTurnLocked(sessionID, t, view, key)
		}
		return
	}
	t.stopTurn()
	t.key = key

	s.sender.Broadcast(sessionID, ws.TurnStartFrame(sessionID, ts))

	if s.sender.HasSubscribers(sessionID) {
		s.armTurnLocked(sessionID, t, view, key)
	}
}

// armTurnLocked fills the empty timer slots of the current turn. The
// deadline pair only runs for rooms with a real rotation (two or more in
// the order); bot steps only run while someone is watching. An empty room
// parks its turn until the next connect re-syncs it.
func (s *Scheduler) armTurnLocked(sessionID string, t *sessionTimers, view *core.Session, key engine.TurnKey) {
	ts := view.TurnState
	if ts.TurnExpiresAt > 0 && len(ts.Order) >= 2 {
		if t.warning == nil {
			warnAt := time.Until(time.UnixMilli(ts.TurnExpiresAt - s.cfg.TurnTimeoutWarning.Milliseconds()))
			if warnAt < 0 {
				warnAt = 0
			}
			t.warning = time.AfterFunc(warnAt, func() { s.fireWarning(sessionID, key) })
		}
		if t.timeout == nil {
			expireAt := time.Until(time.UnixMilli(ts.TurnExpiresAt))
			if expireAt < 0 {
				expireAt = 0
			}
			t.timeout = time.AfterFunc(expireAt, func() { s.fireTimeout(sessionID, key) })
		}
	}

	if t.bot == nil {
		if p := view.Participants[ts.ActiveTurnPlayerID]; p != nil && p.IsBot {
			delay := s.botDelay(p.BotProfile, view.GameDifficulty)
			t.bot = time.AfterFunc(delay, func() { s.runBotTurn(sessionID, key) })
		}
	}
}

func (s *Scheduler) fireWarning(sessionID string, key engine.TurnKey) {
	view, err := s.cat.View(sessionID)
	if err != nil || view.TurnState == nil || engine.KeyOf(view.TurnState) != key {
		return
	}
	if !s.sender.HasSubscribers(sessionID) {
		s.parkTurnSlot(sessionID, key, true, false)
		return
	}
	ts := view.TurnState
	s.sender.Broadcast(sessionID, ws.TurnTimeoutWarningFrame(sessionID, ts.ActiveTurnPlayerID, ts.TurnExpiresAt))
}

func (s *Scheduler) fireTimeout(sessionID string, key engine.TurnKey) {
	if !s.sender.HasSubscribers(sessionID) {
		// An empty room never auto-advances. Park the deadline pair so
		// the next connect re-arms against the refreshed deadline.
		s.parkTurnSlot(sessionID, key, true, true)
		return
	}

	var adv *engine.TurnAdvance
	err := s.cat.Update(sessionID, func(sess *core.Session) error {
		if sess.TurnState == nil || engine.KeyOf(sess.TurnState) != key {
			return errStale
		}
		var err error
		adv, err = s.eng.AutoAdvance(sess)
		if err != nil {
			return err
		}
		// The advance frames go out under the catalog lock so they land
		// before the change hook announces the next turn.
		s.sender.Broadcast(sessionID, ws.TurnAutoAdvancedFrame(sessionID, ws.SourceTimeoutAuto, adv))
		s.sender.Broadcast(sessionID, ws.TurnEndFrame(sessionID, adv, ws.SourceTimeoutAuto))
		if adv.SessionComplete {
			s.sender.Broadcast(sessionID, ws.SessionCompleteFrame(sessionID, engine.Standings(sess)))
		}
		return nil
	})
	if err != nil {
		return
	}

	monitoring.TurnTimeouts.Inc()
	s.logger.Printf("turn timeout session=%s player=%s", sessionID, adv.PreviousPlayerID)
}

// parkTurnSlot clears fired timer slots for a still-current turn so a
// later sync can arm them again.
func (s *Scheduler) parkTurnSlot(sessionID string, key engine.TurnKey, warning, timeout bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.timers[sessionID]
	if t == nil || t.key != key {
		return
	}
	if warning {
		t.warning = nil
	}
	if timeout {
		t.timeout = nil
	}
}

// Drop cancels every timer of a destroyed session.
func (s *Scheduler) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.stopAll()
		delete(s.timers, sessionID)
	}
}

// Close cancels all timers. No callbacks fire after Close returns, though
// callbacks already in flight may still complete.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.stopAll()
		delete(s.timers, id)
	}
}

// errStale marks a timer callback that lost the race against a newer turn.
var errStale = &staleError{}

type staleError struct{}

func (*staleError) Error() string { return "stale turn key" }

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
