package records

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicelobby/backend/internal/core"
)

func TestGameLogAppendValidation(t *testing.T) {
	g := NewGameLog(10)

	assert.Equal(t, "empty_message", g.Append(&core.GameLogEntry{Level: "info"}))
	assert.Equal(t, "invalid_level", g.Append(&core.GameLogEntry{Level: "loud", Message: "x"}))

	e := &core.GameLogEntry{Level: "info", Message: "hello"}
	assert.Empty(t, g.Append(e))
	assert.NotEmpty(t, e.ID, "id assigned when missing")
	assert.NotZero(t, e.Timestamp)

	assert.Equal(t, "duplicate_id", g.Append(&core.GameLogEntry{ID: e.ID, Level: "info", Message: "again"}))
	assert.Equal(t, 1, g.Len())
}

func TestGameLogEvictsOldest(t *testing.T) {
	g := NewGameLog(3)
	for i := 0; i < 5; i++ {
		require.Empty(t, g.Append(&core.GameLogEntry{
			ID:        fmt.Sprintf("log-%d", i),
			Level:     "info",
			Message:   "m",
			Timestamp: int64(i + 1),
		}))
	}
	assert.Equal(t, 3, g.Len())

	exported := g.Export()
	assert.NotContains(t, exported, "log-0")
	assert.NotContains(t, exported, "log-1")
	assert.Contains(t, exported, "log-4")
}

func TestGameLogImportRebuildsOrder(t *testing.T) {
	g := NewGameLog(2)
	g.Import(map[string]*core.GameLogEntry{
		"c": {ID: "c", Level: "info", Message: "m", Timestamp: 3},
		"a": {ID: "a", Level: "info", Message: "m", Timestamp: 1},
		"b": {ID: "b", Level: "info", Message: "m", Timestamp: 2},
	})
	assert.Equal(t, 2, g.Len())
	exported := g.Export()
	assert.NotContains(t, exported, "a", "oldest entry clipped on import")
}

func TestLeaderboardSubmitValidation(t *testing.T) {
	l := NewLeaderboard(10)

	assert.Equal(t, "missing_uid", l.Submit(&core.LeaderboardEntry{DisplayName: "A"}))
	assert.Equal(t, "missing_display_name", l.Submit(&core.LeaderboardEntry{UID: "u"}))
	assert.Equal(t, "invalid_score", l.Submit(&core.LeaderboardEntry{UID: "u", DisplayName: "A", Score: -1}))
	assert.Empty(t, l.Submit(&core.LeaderboardEntry{UID: "u", DisplayName: "A", Score: 3}))
}

func TestLeaderboardOrderingAndCap(t *testing.T) {
	l := NewLeaderboard(3)
	entries := []*core.LeaderboardEntry{
		{ID: "1", UID: "u", DisplayName: "A", Score: 10, DurationMs: 100},
		{ID: "2", UID: "u", DisplayName: "B", Score: 5, DurationMs: 200},
		{ID: "3", UID: "u", DisplayName: "C", Score: 5, DurationMs: 100},
		{ID: "4", UID: "u", DisplayName: "D", Score: 20},
	}
	for _, e := range entries {
		require.Empty(t, l.Submit(e))
	}

	top := l.Top(10)
	require.Len(t, top, 3, "clipped to cap")
	assert.Equal(t, "3", top[0].ID, "lower score first, then lower duration")
	assert.Equal(t, "2", top[1].ID)
	assert.Equal(t, "1", top[2].ID)
}

func TestLeaderboardTopLimit(t *testing.T) {
	l := NewLeaderboard(10)
	for i := 0; i < 5; i++ {
		require.Empty(t, l.Submit(&core.LeaderboardEntry{
			UID: "u", DisplayName: "A", Score: i,
		}))
	}
	assert.Len(t, l.Top(2), 2)
}

func TestEvaluateChatConduct(t *testing.T) {
	flagged, ban := EvaluateChatConduct("nice roll!")
	assert.False(t, flagged)
	assert.False(t, ban)

	flagged, ban = EvaluateChatConduct("you CHEAT")
	assert.True(t, flagged)
	assert.False(t, ban)

	flagged, ban = EvaluateChatConduct("cheat exploit hack")
	assert.True(t, flagged)
	assert.True(t, ban)
}
