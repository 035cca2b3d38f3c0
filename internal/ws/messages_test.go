package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
)

func decodeFrame(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	require.Contains(t, m, "timestamp", "every frame is server-stamped")
	return m
}

func TestSessionStateFrame(t *testing.T) {
	s := &core.Session{SessionID: "sess-1", RoomCode: "ABCDEF"}
	m := decodeFrame(t, SessionStateFrame(s))

	assert.Equal(t, TypeSessionState, m["type"])
	assert.Equal(t, "sess-1", m["sessionId"])
	assert.Equal(t, SourceServer, m["source"])
	sess, ok := m["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sess-1", sess["sessionId"])
}

func TestTurnStartFrame(t *testing.T) {
	ts := &core.TurnState{ActiveTurnPlayerID: "alice", Round: 2, TurnNumber: 5, TurnExpiresAt: 999}
	m := decodeFrame(t, TurnStartFrame("sess-1", ts))

	assert.Equal(t, TypeTurnStart, m["type"])
	assert.Equal(t, "sess-1", m["sessionId"])
	assert.Equal(t, "alice", m["playerId"])
	assert.Equal(t, float64(2), m["round"])
	assert.Equal(t, float64(5), m["turnNumber"])
	assert.Equal(t, float64(999), m["turnExpiresAt"])
	assert.Equal(t, SourceServer, m["source"], "no recorded cause defaults to server")

	ts.StartedBy = core.SourceTimeoutAuto
	m = decodeFrame(t, TurnStartFrame("sess-1", ts))
	assert.Equal(t, SourceTimeoutAuto, m["source"], "carries what rotated the turn in")
}

func TestRollAndScoreFramesShareType(t *testing.T) {
	roll := &core.RollSnapshot{ServerRollID: "roll-1", Dice: []core.Die{{DieID: "d6-a", Sides: 6, Value: 3}}}
	m := decodeFrame(t, RollActionFrame("sess-1", "alice", roll, SourcePlayer))
	assert.Equal(t, TypeTurnAction, m["type"])
	assert.Equal(t, "roll", m["action"])
	assert.Equal(t, SourcePlayer, m["source"])
	require.Contains(t, m, "roll")

	score := &core.ScoreSummary{Points: 7, RemainingDice: 8}
	m = decodeFrame(t, ScoreActionFrame("sess-1", "alice", score, SourceBotAuto))
	assert.Equal(t, TypeTurnAction, m["type"])
	assert.Equal(t, "score", m["action"])
	assert.Equal(t, SourceBotAuto, m["source"])
	require.Contains(t, m, "score")
}

func TestTurnEndFrame(t *testing.T) {
	adv := &engine.TurnAdvance{PreviousPlayerID: "alice", NextPlayerID: "bob", Round: 1, TurnNumber: 2}
	m := decodeFrame(t, TurnEndFrame("sess-1", adv, SourcePlayer))

	assert.Equal(t, TypeTurnEnd, m["type"])
	assert.Equal(t, "alice", m["playerId"])
	assert.Equal(t, "bob", m["nextPlayerId"])
	assert.Equal(t, SourcePlayer, m["source"])
}

func TestTurnTimeoutWarningFrameClampsRemaining(t *testing.T) {
	m := decodeFrame(t, TurnTimeoutWarningFrame("sess-1", "alice", 1))
	assert.Equal(t, TypeTurnTimeoutWarning, m["type"])
	assert.Zero(t, m["remainingMs"], "deadline in the past clamps to zero")
}

func TestTurnAutoAdvancedFrame(t *testing.T) {
	adv := &engine.TurnAdvance{PreviousPlayerID: "alice", NextPlayerID: "bob"}
	m := decodeFrame(t, TurnAutoAdvancedFrame("sess-1", SourceTimeoutAuto, adv))
	assert.Equal(t, TypeTurnAutoAdvanced, m["type"])
	assert.Equal(t, SourceTimeoutAuto, m["source"])
}

func TestPresenceFrame(t *testing.T) {
	m := decodeFrame(t, PresenceFrame(TypePlayerJoined, "sess-1", "alice", "Alice", false))
	assert.Equal(t, TypePlayerJoined, m["type"])
	assert.Equal(t, "Alice", m["displayName"])
	assert.Equal(t, SourceServer, m["source"])
	assert.NotContains(t, m, "isReady")

	m = decodeFrame(t, PresenceFrame(TypePlayerReady, "sess-1", "alice", "", true))
	assert.Equal(t, true, m["isReady"])
	assert.Equal(t, SourceReady, m["source"])
	assert.NotContains(t, m, "displayName")
}

func TestPassthroughFrameRestampsIdentity(t *testing.T) {
	raw := map[string]json.RawMessage{
		"message":        json.RawMessage(`"gg"`),
		"playerId":       json.RawMessage(`"mallory"`),
		"sourcePlayerId": json.RawMessage(`"mallory"`),
		"timestamp":      json.RawMessage(`12345`),
	}
	m := decodeFrame(t, PassthroughFrame(TypeNotification, "sess-1", "alice", raw))

	assert.Equal(t, TypeNotification, m["type"])
	assert.Equal(t, "gg", m["message"])
	assert.Equal(t, "alice", m["playerId"], "claimed sender is overridden")
	assert.Equal(t, "alice", m["sourcePlayerId"], "claimed sender is overridden")
	assert.Equal(t, SourcePlayer, m["source"])
	assert.NotEqual(t, float64(12345), m["timestamp"], "claimed timestamp is overridden")
}

func TestFlavorFrame(t *testing.T) {
	m := decodeFrame(t, FlavorFrame(TypeChaosAttack, "sess-1", "bot-1", map[string]any{"effect": "dice_shake"}))
	assert.Equal(t, TypeChaosAttack, m["type"])
	assert.Equal(t, "bot-1", m["sourcePlayerId"])
	assert.Equal(t, SourceBotAuto, m["source"])
	assert.Equal(t, "dice_shake", m["effect"])
}

func TestErrorFrameOmitsZeroExpected(t *testing.T) {
	m := decodeFrame(t, ErrorFrame(CodeConflict, "not_your_turn", 0))
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, CodeConflict, m["code"])
	assert.NotContains(t, m, "expected")

	m = decodeFrame(t, ErrorFrame(CodeTurnInvalidScore, engine.ReasonScorePointsMismatch, 12))
	assert.Equal(t, CodeTurnInvalidScore, m["code"])
	assert.Equal(t, float64(12), m["expected"])
}

func TestPassthroughTypeSet(t *testing.T) {
	for _, typ := range []string{TypeGameUpdate, TypeNotification, TypeChaosAttack, TypeParticleEmit} {
		assert.True(t, passthroughTypes[typ], typ)
	}
	assert.False(t, passthroughTypes[TypeSessionState])
	assert.False(t, passthroughTypes[TypeError])
}
