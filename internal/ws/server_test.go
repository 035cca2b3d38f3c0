package ws

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicelobby/backend/internal/catalog"
	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/engine"
	"github.com/dicelobby/backend/internal/vault"
)

// newTestServer builds a server over a real catalog with one solo
// session for alice, plus a registered client to drive messages through.
func newTestServer(t *testing.T) (*Server, *catalog.Catalog, *Client, string) {
	t.Helper()
	cfg := &config.Config{
		MaxHumanPlayers:        8,
		MaxBots:                4,
		SessionIdleTTL:         30 * time.Minute,
		PublicRoomCodePrefix:   "LBY",
		PublicRoomMinJoinable:  6,
		PublicOverflowEmptyTTL: 10 * time.Minute,
		TurnTimeout:            time.Minute,
		TurnTimeoutWarning:     10 * time.Second,
		BotRoster:              config.DefaultBotRoster(),
	}
	eng := engine.New(time.Minute)
	cat := catalog.New(cfg, eng)
	hub := NewHub()
	s := NewServer(hub, cat, vault.New(15*time.Minute, time.Hour), eng)

	zero := 0
	sess, err := cat.CreateSession(catalog.CreateParams{PlayerID: "alice", MaxBots: &zero})
	require.NoError(t, err)

	c := stubClient(hub, sess.SessionID, "alice")
	c.server = s
	hub.register(c)
	return s, cat, c, sess.SessionID
}

// nextOfType drains the client's send buffer until a frame of the given
// type shows up.
func nextOfType(t *testing.T, c *Client, typ string) map[string]any {
	t.Helper()
	for {
		select {
		case data := <-c.send:
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			if m["type"] == typ {
				return m
			}
		default:
			t.Fatalf("no %s frame queued", typ)
			return nil
		}
	}
}

func TestScoreMismatchGetsActionCode(t *testing.T) {
	s, cat, c, id := newTestServer(t)

	s.handleMessage(c, []byte(`{"type":"turn_action","action":"roll","payload":{"rollIndex":1,"dice":[{"dieId":"d6-1","sides":6}]}}`))
	nextOfType(t, c, TypeTurnAction)

	view, err := cat.View(id)
	require.NoError(t, err)
	roll := view.TurnState.LastRollSnapshot
	require.NotNil(t, roll)
	expected := roll.Dice[0].Sides - roll.Dice[0].Value

	// Claim one point more than the dice are worth.
	s.handleMessage(c, []byte(fmt.Sprintf(
		`{"type":"turn_action","action":"score","payload":{"selectedDiceIds":["d6-1"],"points":%d,"rollServerId":%q}}`,
		expected+1, roll.ServerRollID)))

	m := nextOfType(t, c, TypeError)
	assert.Equal(t, CodeTurnInvalidScore, m["code"])
	assert.Equal(t, engine.ReasonScorePointsMismatch, m["reason"])
	assert.Equal(t, float64(expected), m["expected"])
	nextOfType(t, c, TypeSessionState)
}

func TestTurnEndOutOfPhaseGetsActionCode(t *testing.T) {
	s, _, c, _ := newTestServer(t)

	s.handleMessage(c, []byte(`{"type":"turn_end"}`))

	m := nextOfType(t, c, TypeError)
	assert.Equal(t, CodeTurnEndInvalid, m["code"])
	assert.Equal(t, engine.ReasonInvalidPhase, m["reason"])
}

func TestTurnEndBroadcastsBeforeChangeHookFrames(t *testing.T) {
	s, cat, c, id := newTestServer(t)

	// Wire the change hook the way the composition root does, so the
	// session_state it broadcasts lands in the client buffer too.
	cat.SetOnChange(func(sessionIDs ...string) {
		for _, sid := range sessionIDs {
			if view, err := cat.View(sid); err == nil {
				s.hub.Broadcast(sid, SessionStateFrame(view))
			}
		}
	})

	s.handleMessage(c, []byte(`{"type":"turn_action","action":"roll","payload":{"rollIndex":1,"dice":[{"dieId":"d6-1","sides":6}]}}`))
	view, err := cat.View(id)
	require.NoError(t, err)
	roll := view.TurnState.LastRollSnapshot
	expected := 0
	for _, d := range roll.Dice {
		expected += d.Sides - d.Value
	}
	s.handleMessage(c, []byte(fmt.Sprintf(
		`{"type":"turn_action","action":"score","payload":{"selectedDiceIds":["d6-1"],"points":%d,"rollServerId":%q}}`,
		expected, roll.ServerRollID)))
	s.handleMessage(c, []byte(`{"type":"turn_end"}`))

	var order []string
	for len(c.send) > 0 {
		var m map[string]any
		require.NoError(t, json.Unmarshal(<-c.send, &m))
		order = append(order, m["type"].(string))
	}
	endAt, stateAfterEnd := -1, -1
	for i, typ := range order {
		if typ == TypeTurnEnd {
			endAt = i
		}
		if typ == TypeSessionState && endAt >= 0 && stateAfterEnd < 0 {
			stateAfterEnd = i
		}
	}
	require.GreaterOrEqual(t, endAt, 0, "turn_end was broadcast")
	assert.Greater(t, stateAfterEnd, endAt, "turn_end lands before the post-update session_state")
}

func TestCatalogErrorsMapToCategoryCodes(t *testing.T) {
	assert.Equal(t, CodeNotFound, catalogCode(404))
	assert.Equal(t, CodeSessionGone, catalogCode(410))
	assert.Equal(t, CodeConflict, catalogCode(409))
	assert.Equal(t, CodeForbidden, catalogCode(403))
	assert.Equal(t, CodeBadRequest, catalogCode(400))
	assert.Equal(t, CodeInternalError, catalogCode(599))
}

func TestPassthroughRequiresMembership(t *testing.T) {
	s, _, c, _ := newTestServer(t)
	ghost := stubClient(c.hub, c.sessionID, "ghost")
	ghost.server = s

	s.handleMessage(ghost, []byte(`{"type":"game_update","event":"x"}`))
	m := nextOfType(t, ghost, TypeError)
	assert.Equal(t, CodeForbidden, m["code"])
}
