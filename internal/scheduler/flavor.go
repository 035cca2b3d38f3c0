package scheduler

import (
	"math/rand"
	"time"

	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/ws"
)

// Flavor cadence. Each firing re-arms itself with a fresh draw.
const (
	flavorMinInterval = 4500 * time.Millisecond
	flavorMaxInterval = 9 * time.Second
)

var (
	flavorNotifications = []string{
		"eyes the dice suspiciously",
		"is counting on their fingers",
		"mutters something about probability",
		"taps the table impatiently",
		"polishes a lucky die",
		"hums an off-key victory tune",
	}
	flavorUpdates = []string{
		"table_wobble",
		"dice_shuffle",
		"ambient_cheer",
		"candle_flicker",
	}
	flavorChaos = []string{
		"gravity_flip",
		"dice_swap",
		"table_quake",
	}
)

// armFlavorLocked keeps the ambient feed running for sessions with bots.
// The timer survives across turns; it is dropped with the session.
func (s *Scheduler) armFlavorLocked(sessionID string, t *sessionTimers, view *core.Session) {
	if view.BotCount() == 0 {
		if t.flavor != nil {
			t.flavor.Stop()
			t.flavor = nil
		}
		return
	}
	if t.flavor != nil {
		return
	}
	t.flavor = time.AfterFunc(randomBetween(flavorMinInterval, flavorMaxInterval), func() {
		s.fireFlavor(sessionID)
	})
}

// fireFlavor emits one ambient frame attributed to a random bot, then
// re-arms. Rooms nobody is watching stay silent but keep the timer so the
// feed resumes when someone connects.
func (s *Scheduler) fireFlavor(sessionID string) {
	view, err := s.cat.View(sessionID)
	if err != nil {
		s.Drop(sessionID)
		return
	}

	if s.sender.HasSubscribers(sessionID) {
		connected := func(playerID string) bool {
			return s.sender.Connected(sessionID, playerID)
		}
		if frame := buildFlavor(sessionID, view, connected); frame != nil {
			s.sender.Broadcast(sessionID, frame)
		}
	}

	s.mu.Lock()
	if !s.closed {
		if t := s.timers[sessionID]; t != nil {
			t.flavor = time.AfterFunc(randomBetween(flavorMinInterval, flavorMaxInterval), func() {
				s.fireFlavor(sessionID)
			})
		}
	}
	s.mu.Unlock()
}

// buildFlavor draws the frame kind: mostly notifications, sometimes a
// visual update, rarely a chaos attack. Each one pairs a random bot with
// a random connected human target; disconnected humans are never the
// mark. No connected human, no frame.
func buildFlavor(sessionID string, view *core.Session, connected func(playerID string) bool) []byte {
	var bots, humans []*core.Participant
	for _, p := range view.Participants {
		if p.IsBot {
			bots = append(bots, p)
		} else if connected(p.PlayerID) {
			humans = append(humans, p)
		}
	}
	if len(bots) == 0 || len(humans) == 0 {
		return nil
	}
	bot := bots[rand.Intn(len(bots))]

	fields := map[string]any{
		"targetPlayerId": humans[rand.Intn(len(humans))].PlayerID,
	}

	switch n := rand.Intn(10); {
	case n < 6:
		fields["message"] = flavorNotifications[rand.Intn(len(flavorNotifications))]
		fields["displayName"] = bot.DisplayName
		return ws.FlavorFrame(ws.TypeNotification, sessionID, bot.PlayerID, fields)
	case n < 9:
		fields["event"] = flavorUpdates[rand.Intn(len(flavorUpdates))]
		return ws.FlavorFrame(ws.TypeGameUpdate, sessionID, bot.PlayerID, fields)
	default:
		fields["effect"] = flavorChaos[rand.Intn(len(flavorChaos))]
		return ws.FlavorFrame(ws.TypeChaosAttack, sessionID, bot.PlayerID, fields)
	}
}
