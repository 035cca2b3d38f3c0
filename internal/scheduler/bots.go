package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
	"github.com/dicelobby/backend/internal/monitoring"
	"github.com/dicelobby/backend/internal/ws"
)

// Bots roll plain d6 dice, at most this many per roll.
const botRollDice = 6
const botMaxDicePerRoll = 5

// botDelay draws the pause before a bot's next move. Profiles set the
// tempo; difficulty scales it so hard games feel snappier.
func (s *Scheduler) botDelay(profile core.BotProfile, diff core.Difficulty) time.Duration {
	var lo, hi time.Duration
	switch profile {
	case core.BotCautious:
		lo, hi = 2300*time.Millisecond, 4200*time.Millisecond
	case core.BotAggressive:
		lo, hi = 900*time.Millisecond, 2200*time.Millisecond
	default:
		lo, hi = 1400*time.Millisecond, 3000*time.Millisecond
	}
	d := randomBetween(lo, hi)
	switch diff {
	case core.DifficultyHard:
		d = d * 8 / 10
	case core.DifficultyEasy:
		d = d * 12 / 10
	}
	return d
}

// armBotStep schedules the next step of a bot turn, replacing any pending
// one so Drop and Close can always cancel the chain.
func (s *Scheduler) armBotStep(sessionID string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	t := s.timers[sessionID]
	if t == nil {
		return
	}
	if t.bot != nil {
		t.bot.Stop()
	}
	t.bot = time.AfterFunc(delay, fn)
}

// runBotTurn plays a bot's whole turn: roll, then score, then end, with a
// profile-paced pause between each step. Every step revalidates the turn
// key so a human action or timeout racing ahead cancels the rest.
func (s *Scheduler) runBotTurn(sessionID string, key engine.TurnKey) {
	var roll *core.RollSnapshot
	var profile core.BotProfile
	var difficulty core.Difficulty
	err := s.cat.Update(sessionID, func(sess *core.Session) error {
		ts := sess.TurnState
		if ts == nil || engine.KeyOf(ts) != key {
			return errStale
		}
		p := sess.Participants[ts.ActiveTurnPlayerID]
		if p == nil || !p.IsBot {
			return errStale
		}
		profile = p.BotProfile
		difficulty = sess.GameDifficulty

		n := p.RemainingDice
		if n > botMaxDicePerRoll {
			n = botMaxDicePerRoll
		}
		if n <= 0 {
			return errStale
		}
		req := &engine.RollRequest{RollIndex: ts.TurnNumber, Dice: make([]engine.RollDie, n)}
		for i := range req.Dice {
			req.Dice[i] = engine.RollDie{
				DieID: fmt.Sprintf("d%d-%s", botRollDice, uuid.NewString()[:8]),
				Sides: botRollDice,
			}
		}
		var err error
		roll, err = s.eng.ApplyRoll(sess, key.ActivePlayerID, req)
		if err != nil {
			return err
		}
		s.sender.Broadcast(sessionID, ws.RollActionFrame(sessionID, key.ActivePlayerID, roll, ws.SourceBotAuto))
		return nil
	})
	if err != nil {
		return
	}

	monitoring.BotTurns.WithLabelValues(string(profile)).Inc()

	selected := pickBotDice(profile, roll.Dice)
	s.armBotStep(sessionID, s.botDelay(profile, difficulty), func() {
		s.botScore(sessionID, key, roll, selected, profile, difficulty)
	})
}

func (s *Scheduler) botScore(sessionID string, key engine.TurnKey, roll *core.RollSnapshot, selected []core.Die, profile core.BotProfile, difficulty core.Difficulty) {
	points := 0
	ids := make([]string, len(selected))
	for i, d := range selected {
		ids[i] = d.DieID
		points += d.Sides - d.Value
	}

	err := s.cat.Update(sessionID, func(sess *core.Session) error {
		if sess.TurnState == nil || engine.KeyOf(sess.TurnState) != key {
			return errStale
		}
		score, err := s.eng.ApplyScore(sess, key.ActivePlayerID, &engine.ScoreRequest{
			SelectedDiceIDs: ids,
			Points:          points,
			RollServerID:    roll.ServerRollID,
		})
		if err != nil {
			return err
		}
		s.sender.Broadcast(sessionID, ws.ScoreActionFrame(sessionID, key.ActivePlayerID, score, ws.SourceBotAuto))
		return nil
	})
	if err != nil {
		return
	}

	s.armBotStep(sessionID, s.botDelay(profile, difficulty), func() {
		s.botEnd(sessionID, key)
	})
}

func (s *Scheduler) botEnd(sessionID string, key engine.TurnKey) {
	_ = s.cat.Update(sessionID, func(sess *core.Session) error {
		ts := sess.TurnState
		if ts == nil || ts.ActiveTurnPlayerID != key.ActivePlayerID || ts.Phase != core.PhaseReadyToEnd {
			return errStale
		}
		adv, err := s.eng.EndTurn(sess, key.ActivePlayerID)
		if err != nil {
			return err
		}
		// turn_end before the change hook's turn_start for the next player.
		s.sender.Broadcast(sessionID, ws.TurnEndFrame(sessionID, adv, ws.SourceBotAuto))
		if adv.SessionComplete {
			s.sender.Broadcast(sessionID, ws.SessionCompleteFrame(sessionID, engine.Standings(sess)))
		}
		return nil
	})
}

// pickBotDice applies the profile's keep rule. Every profile falls back to
// the single best die so a turn always makes progress.
func pickBotDice(profile core.BotProfile, dice []core.Die) []core.Die {
	sorted := append([]core.Die(nil), dice...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sides-sorted[i].Value > sorted[j].Sides-sorted[j].Value
	})

	var keep []core.Die
	switch profile {
	case core.BotCautious:
		// Keep the better half, rounded up.
		keep = sorted[:(len(sorted)+1)/2]
	case core.BotAggressive:
		for _, d := range sorted {
			if d.Sides-d.Value > 0 {
				keep = append(keep, d)
			}
		}
	default:
		for _, d := range sorted {
			if d.Value*2 <= d.Sides {
				keep = append(keep, d)
			}
		}
	}
	if len(keep) == 0 {
		keep = sorted[:1]
	}
	return keep
}
