// Package engine implements the per-session turn state machine: canonical
// turn-state reconciliation, server-side roll generation, score validation,
// and turn advancement. Callers hold the catalog lock; nothing in this
// package locks or blocks.
package engine

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dicelobby/backend/internal/core"
)

// Validation reason codes carried to clients as {code, reason} pairs.
const (
	ReasonInvalidRollPayload   = "invalid_roll_payload"
	ReasonInvalidRollDieID     = "invalid_roll_die_id"
	ReasonRollDieSidesMismatch = "roll_die_sides_mismatch"
	ReasonMissingSelectedDice  = "missing_selected_dice"
	ReasonDuplicateSelectedDie = "duplicate_selected_die"
	ReasonUnknownSelectedDie   = "unknown_selected_die"
	ReasonScoreRollMismatch    = "score_roll_mismatch"
	ReasonScorePointsMismatch  = "score_points_mismatch"
	ReasonNotActivePlayer      = "not_active_player"
	ReasonInvalidPhase         = "invalid_phase"
	ReasonNoActiveTurn         = "no_active_turn"
)

// Error is a turn-action rejection. Expected carries the correct value for
// mismatch reasons (zero otherwise). Never fatal; the client gets an error
// frame plus a resync.
type Error struct {
	Reason   string `json:"reason"`
	Expected int    `json:"expected,omitempty"`
}

func (e *Error) Error() string { return e.Reason }

func reject(reason string) *Error { return &Error{Reason: reason} }

// TurnKey identifies a specific turn for scheduler de-duplication.
type TurnKey struct {
	ActivePlayerID string
	Round          int
	TurnNumber     int
}

// KeyOf derives the turn key of a session's current turn state.
func KeyOf(ts *core.TurnState) TurnKey {
	if ts == nil {
		return TurnKey{}
	}
	return TurnKey{
		ActivePlayerID: ts.ActiveTurnPlayerID,
		Round:          ts.Round,
		TurnNumber:     ts.TurnNumber,
	}
}

// TurnAdvance describes the outcome of ending a turn.
type TurnAdvance struct {
	PreviousPlayerID string
	NextPlayerID     string
	Round            int
	TurnNumber       int
	SessionComplete  bool
}

// Engine holds the turn-timeout policy; everything else is per-call.
type Engine struct {
	turnTimeout time.Duration
}

func New(turnTimeout time.Duration) *Engine {
	return &Engine{turnTimeout: turnTimeout}
}

// EnsureTurnState reconciles a session's turn state with its participants.
// It is idempotent: calling it twice with no intervening change leaves the
// state byte-identical (UpdatedAt included). Called before every read and
// after every mutation.
func (e *Engine) EnsureTurnState(s *core.Session) *core.TurnState {
	now := core.NowMs()
	changed := false

	ts := s.TurnState
	if ts == nil {
		ts = &core.TurnState{
			Round:         1,
			TurnNumber:    1,
			Phase:         core.PhaseAwaitRoll,
			TurnTimeoutMs: e.turnTimeout.Milliseconds(),
			UpdatedAt:     now,
		}
		s.TurnState = ts
		changed = true
	}
	if ts.TurnTimeoutMs == 0 {
		ts.TurnTimeoutMs = e.turnTimeout.Milliseconds()
		changed = true
	}

	// Non-complete participants in join order. A completed player stays
	// visible only while the turn is in ready_to_end, so the turn_end
	// message can still name them.
	present := make(map[string]bool, len(s.Participants))
	var joinOrder []string
	for _, p := range s.OrderedParticipants() {
		keep := !p.IsComplete
		if !keep && ts.Phase == core.PhaseReadyToEnd && ts.ActiveTurnPlayerID == p.PlayerID {
			keep = true
		}
		if keep {
			present[p.PlayerID] = true
			joinOrder = append(joinOrder, p.PlayerID)
		}
	}

	// Merge: prior ordering wins for survivors, newcomers append.
	var order []string
	seen := make(map[string]bool, len(joinOrder))
	for _, id := range ts.Order {
		if present[id] && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for _, id := range joinOrder {
		if !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	if !sameOrder(ts.Order, order) {
		ts.Order = order
		changed = true
	}

	if len(order) == 0 || !s.AllHumansReady() {
		if ts.ActiveTurnPlayerID != "" || ts.LastRollSnapshot != nil ||
			ts.LastScoreSummary != nil || ts.TurnExpiresAt != 0 || ts.StartedBy != "" {
			ts.ActiveTurnPlayerID = ""
			ts.LastRollSnapshot = nil
			ts.LastScoreSummary = nil
			ts.TurnExpiresAt = 0
			ts.Phase = core.PhaseAwaitRoll
			ts.StartedBy = ""
			changed = true
		}
		if changed {
			ts.UpdatedAt = now
		}
		return ts
	}

	active := s.Participants[ts.ActiveTurnPlayerID]
	activeUsable := active != nil &&
		(!active.IsComplete || ts.Phase == core.PhaseReadyToEnd)
	if ts.ActiveTurnPlayerID == "" || !activeUsable {
		ts.ActiveTurnPlayerID = order[0]
		ts.Phase = core.PhaseAwaitRoll
		ts.LastRollSnapshot = nil
		ts.LastScoreSummary = nil
		ts.TurnExpiresAt = now + ts.TurnTimeoutMs
		ts.StartedBy = core.SourceServer
		changed = true
	}

	// Heal inconsistent phases.
	switch ts.Phase {
	case core.PhaseAwaitScore:
		if ts.LastRollSnapshot == nil {
			ts.Phase = core.PhaseAwaitRoll
			changed = true
		}
	case core.PhaseReadyToEnd:
		if ts.LastScoreSummary == nil || ts.LastRollSnapshot == nil ||
			ts.LastScoreSummary.RollServerID != ts.LastRollSnapshot.ServerRollID {
			if ts.LastRollSnapshot != nil {
				ts.Phase = core.PhaseAwaitScore
			} else {
				ts.Phase = core.PhaseAwaitRoll
			}
			ts.LastScoreSummary = nil
			changed = true
		}
	}

	if ts.TurnExpiresAt == 0 || ts.TurnExpiresAt <= now {
		ts.TurnExpiresAt = now + ts.TurnTimeoutMs
		changed = true
	}

	if changed {
		ts.UpdatedAt = now
	}
	return ts
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RollDie is one requested die in a roll payload. The client names dice;
// the server draws their values.
type RollDie struct {
	DieID string `json:"dieId"`
	Sides int    `json:"sides"`
}

// RollRequest is the validated shape of a turn_action roll payload.
type RollRequest struct {
	RollIndex int       `json:"rollIndex"`
	Dice      []RollDie `json:"dice"`
}

var dieIDSidesRe = regexp.MustCompile(`^d(\d+)-`)

// ApplyRoll validates a roll request, draws dice server-side, records the
// snapshot, and moves the phase to await_score.
func (e *Engine) ApplyRoll(s *core.Session, playerID string, req *RollRequest) (*core.RollSnapshot, error) {
	ts := e.EnsureTurnState(s)
	if ts.ActiveTurnPlayerID == "" {
		return nil, reject(ReasonNoActiveTurn)
	}
	if ts.ActiveTurnPlayerID != playerID {
		return nil, reject(ReasonNotActivePlayer)
	}
	if ts.Phase != core.PhaseAwaitRoll {
		return nil, reject(ReasonInvalidPhase)
	}
	if req == nil || len(req.Dice) == 0 || len(req.Dice) > core.MaxTurnRollDice {
		return nil, reject(ReasonInvalidRollPayload)
	}

	seen := make(map[string]bool, len(req.Dice))
	for _, d := range req.Dice {
		if d.DieID == "" || seen[d.DieID] {
			return nil, reject(ReasonInvalidRollDieID)
		}
		seen[d.DieID] = true
		if d.Sides < core.MinDieSides || d.Sides > core.MaxDieSides {
			return nil, reject(ReasonInvalidRollPayload)
		}
		// A die named d<N>-... must actually have N sides.
		if m := dieIDSidesRe.FindStringSubmatch(d.DieID); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n != d.Sides {
				return nil, &Error{Reason: ReasonRollDieSidesMismatch, Expected: n}
			}
		}
	}

	now := core.NowMs()
	dice := make([]core.Die, len(req.Dice))
	for i, d := range req.Dice {
		dice[i] = core.Die{
			DieID: d.DieID,
			Sides: d.Sides,
			Value: rollValue(d.Sides),
		}
	}

	ts.LastRollSnapshot = &core.RollSnapshot{
		RollIndex:    req.RollIndex,
		ServerRollID: uuid.NewString(),
		Dice:         dice,
		UpdatedAt:    now,
	}
	ts.LastScoreSummary = nil
	ts.Phase = core.PhaseAwaitScore
	ts.UpdatedAt = now
	return ts.LastRollSnapshot, nil
}

// rollValue draws uniformly from [1, sides] with the crypto RNG. The dice
// are the one thing clients must never be able to predict.
func rollValue(sides int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(sides)))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; at that point nothing in this process is trustworthy.
		panic(err)
	}
	return int(n.Int64()) + 1
}

// ScoreRequest is the validated shape of a turn_action score payload.
type ScoreRequest struct {
	SelectedDiceIDs []string `json:"selectedDiceIds"`
	Points          int      `json:"points"`
	RollServerID    string   `json:"rollServerId"`
}

// ApplyScore validates a scoring decision against the last server roll,
// applies it to the participant, and moves the phase to ready_to_end.
func (e *Engine) ApplyScore(s *core.Session, playerID string, req *ScoreRequest) (*core.ScoreSummary, error) {
	ts := e.EnsureTurnState(s)
	if ts.ActiveTurnPlayerID == "" {
		return nil, reject(ReasonNoActiveTurn)
	}
	if ts.ActiveTurnPlayerID != playerID {
		return nil, reject(ReasonNotActivePlayer)
	}
	if ts.Phase != core.PhaseAwaitScore || ts.LastRollSnapshot == nil {
		return nil, reject(ReasonInvalidPhase)
	}
	if req == nil || len(req.SelectedDiceIDs) == 0 {
		return nil, reject(ReasonMissingSelectedDice)
	}
	roll := ts.LastRollSnapshot
	if req.RollServerID != roll.ServerRollID {
		return nil, reject(ReasonScoreRollMismatch)
	}

	seen := make(map[string]bool, len(req.SelectedDiceIDs))
	expected := 0
	for _, id := range req.SelectedDiceIDs {
		if seen[id] {
			return nil, reject(ReasonDuplicateSelectedDie)
		}
		seen[id] = true
		die := roll.Die(id)
		if die == nil {
			return nil, reject(ReasonUnknownSelectedDie)
		}
		expected += die.Sides - die.Value
	}
	if req.Points != expected {
		return nil, &Error{Reason: ReasonScorePointsMismatch, Expected: expected}
	}

	p := s.Participants[playerID]
	if p == nil {
		return nil, reject(ReasonNotActivePlayer)
	}

	now := core.NowMs()
	p.Score += expected
	p.RemainingDice -= len(req.SelectedDiceIDs)
	if p.RemainingDice < 0 {
		p.RemainingDice = 0
	}
	if p.RemainingDice == 0 && !p.IsComplete {
		p.IsComplete = true
		p.CompletedAt = now
	}

	ts.LastScoreSummary = &core.ScoreSummary{
		SelectedDiceIDs:     append([]string(nil), req.SelectedDiceIDs...),
		Points:              req.Points,
		ExpectedPoints:      expected,
		RollServerID:        roll.ServerRollID,
		ProjectedTotalScore: p.Score,
		RemainingDice:       p.RemainingDice,
		IsComplete:          p.IsComplete,
		UpdatedAt:           now,
	}
	ts.Phase = core.PhaseReadyToEnd
	ts.UpdatedAt = now
	return ts.LastScoreSummary, nil
}

// EndTurn completes a ready_to_end turn and rotates to the next
// non-complete participant.
func (e *Engine) EndTurn(s *core.Session, playerID string) (*TurnAdvance, error) {
	ts := e.EnsureTurnState(s)
	if ts.ActiveTurnPlayerID == "" {
		return nil, reject(ReasonNoActiveTurn)
	}
	if ts.ActiveTurnPlayerID != playerID {
		return nil, reject(ReasonNotActivePlayer)
	}
	if ts.Phase != core.PhaseReadyToEnd {
		return nil, reject(ReasonInvalidPhase)
	}
	source := core.SourcePlayer
	if p := s.Participants[playerID]; p != nil && p.IsBot {
		source = core.SourceBotAuto
	}
	return e.advance(s, ts, source), nil
}

// AutoAdvance forces the turn forward from any phase. Used by the turn
// timeout and when the active player leaves mid-turn.
func (e *Engine) AutoAdvance(s *core.Session) (*TurnAdvance, error) {
	ts := e.EnsureTurnState(s)
	if ts.ActiveTurnPlayerID == "" {
		return nil, reject(ReasonNoActiveTurn)
	}
	return e.advance(s, ts, core.SourceTimeoutAuto), nil
}

// advance performs the modular rotation from the current active player.
// Wrapping past the end of the order increments the round. The source
// names what caused the rotation and is recorded on the turn state so
// the next turn_start can carry it.
func (e *Engine) advance(s *core.Session, ts *core.TurnState, source string) *TurnAdvance {
	now := core.NowMs()
	prev := ts.ActiveTurnPlayerID

	idx := -1
	for i, id := range ts.Order {
		if id == prev {
			idx = i
			break
		}
	}

	next := ""
	wrapped := false
	if idx >= 0 {
		n := len(ts.Order)
		for step := 1; step <= n; step++ {
			j := (idx + step) % n
			cand := s.Participants[ts.Order[j]]
			if cand != nil && !cand.IsComplete {
				next = ts.Order[j]
				wrapped = j <= idx
				break
			}
		}
	} else {
		for _, id := range ts.Order {
			if p := s.Participants[id]; p != nil && !p.IsComplete {
				next = id
				break
			}
		}
	}

	ts.LastRollSnapshot = nil
	ts.LastScoreSummary = nil
	ts.Phase = core.PhaseAwaitRoll
	ts.ActiveTurnPlayerID = next
	if next != "" {
		if wrapped {
			ts.Round++
		}
		ts.TurnNumber++
		ts.TurnExpiresAt = now + ts.TurnTimeoutMs
		ts.StartedBy = source
	} else {
		ts.TurnExpiresAt = 0
		ts.StartedBy = ""
	}
	ts.UpdatedAt = now

	// Prune the just-completed player now that ready_to_end is over.
	e.EnsureTurnState(s)

	return &TurnAdvance{
		PreviousPlayerID: prev,
		NextPlayerID:     ts.ActiveTurnPlayerID,
		Round:            ts.Round,
		TurnNumber:       ts.TurnNumber,
		SessionComplete:  ts.ActiveTurnPlayerID == "",
	}
}
