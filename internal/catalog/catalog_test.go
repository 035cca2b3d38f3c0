package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxHumanPlayers:        8,
		MaxBots:                4,
		SessionIdleTTL:         30 * time.Minute,
		RoomActiveWindow:       5 * time.Minute,
		PublicRoomBaseCount:    4,
		PublicRoomMinJoinable:  6,
		PublicRoomCodePrefix:   "LBY",
		PublicOverflowEmptyTTL: 10 * time.Minute,
		PublicStaleParticipant: 2 * time.Minute,
		TurnTimeout:            time.Minute,
		TurnTimeoutWarning:     10 * time.Second,
		BotRoster:              config.DefaultBotRoster(),
	}
}

func testCatalog() *Catalog {
	return New(testConfig(), engine.New(time.Minute))
}

func TestCreateSessionSeedsCreatorAndBots(t *testing.T) {
	c := testCatalog()

	sess, err := c.CreateSession(CreateParams{
		PlayerID:    "alice",
		DisplayName: "Alice",
		RoomCode:    "myroom",
	})
	require.NoError(t, err)

	assert.Equal(t, "MYROOM", sess.RoomCode)
	assert.Equal(t, core.RoomPrivate, sess.RoomKind)
	assert.Equal(t, 1, sess.HumanCount())
	assert.Equal(t, 4, sess.BotCount())
	require.NotNil(t, sess.TurnState)
	// The creator starts ready, so their turn is live from the first moment.
	assert.True(t, sess.Participants["alice"].IsReady)
	assert.Equal(t, "alice", sess.TurnState.ActiveTurnPlayerID)
}

func TestCreatorRollsRightAfterCreate(t *testing.T) {
	c := testCatalog()
	zero := 0
	sess, err := c.CreateSession(CreateParams{PlayerID: "alice", MaxBots: &zero})
	require.NoError(t, err)

	// A solo creator needs no extra ready step before their first roll.
	eng := engine.New(time.Minute)
	require.NoError(t, c.Update(sess.SessionID, func(s *core.Session) error {
		_, err := eng.ApplyRoll(s, "alice", &engine.RollRequest{
			RollIndex: 1,
			Dice:      []engine.RollDie{{DieID: "d6-1", Sides: 6}, {DieID: "d6-2", Sides: 6}},
		})
		return err
	}))

	view, err := c.View(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseAwaitScore, view.TurnState.Phase)
	require.NotNil(t, view.TurnState.LastRollSnapshot)
	assert.Len(t, view.TurnState.LastRollSnapshot.Dice, 2)
}

func TestCreateSessionClampsBots(t *testing.T) {
	c := testCatalog()
	nine := 9
	sess, err := c.CreateSession(CreateParams{PlayerID: "alice", MaxBots: &nine})
	require.NoError(t, err)
	assert.Equal(t, 4, sess.BotCount())

	zero := 0
	sess, err = c.CreateSession(CreateParams{PlayerID: "bob", MaxBots: &zero})
	require.NoError(t, err)
	assert.Zero(t, sess.BotCount())
}

func TestCreateSessionRejectsTakenCode(t *testing.T) {
	c := testCatalog()
	_, err := c.CreateSession(CreateParams{PlayerID: "alice", RoomCode: "DUPLIC"})
	require.NoError(t, err)

	_, err = c.CreateSession(CreateParams{PlayerID: "bob", RoomCode: "duplic"})
	assert.ErrorIs(t, err, ErrRoomCodeTaken)
}

func TestCreateSessionRejectsBadCode(t *testing.T) {
	c := testCatalog()
	_, err := c.CreateSession(CreateParams{PlayerID: "alice", RoomCode: "no spaces!"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestJoinByRoomCodePrefersPrivate(t *testing.T) {
	c := testCatalog()
	created, err := c.CreateSession(CreateParams{PlayerID: "alice", RoomCode: "SHARED"})
	require.NoError(t, err)

	joined, err := c.JoinByRoomCode("shared", JoinParams{PlayerID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, joined.SessionID)
	assert.Equal(t, 2, joined.HumanCount())
}

func TestJoinRoomFullOnlyCountsNewHumans(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHumanPlayers = 2
	c := New(cfg, engine.New(time.Minute))

	sess, err := c.CreateSession(CreateParams{PlayerID: "alice"})
	require.NoError(t, err)
	_, err = c.JoinBySessionID(sess.SessionID, JoinParams{PlayerID: "bob"})
	require.NoError(t, err)

	_, err = c.JoinBySessionID(sess.SessionID, JoinParams{PlayerID: "carol"})
	assert.ErrorIs(t, err, ErrRoomFull)

	// A returning participant is an upsert, not a new seat.
	_, err = c.JoinBySessionID(sess.SessionID, JoinParams{PlayerID: "bob"})
	assert.NoError(t, err)
}

func TestReturningParticipantKeepsProgress(t *testing.T) {
	c := testCatalog()
	sess, err := c.CreateSession(CreateParams{PlayerID: "alice"})
	require.NoError(t, err)

	require.NoError(t, c.Update(sess.SessionID, func(s *core.Session) error {
		s.Participants["alice"].Score = 42
		s.Participants["alice"].RemainingDice = 7
		s.Participants["alice"].IsReady = true
		return nil
	}))

	joined, err := c.JoinBySessionID(sess.SessionID, JoinParams{PlayerID: "alice"})
	require.NoError(t, err)
	p := joined.Participants["alice"]
	assert.Equal(t, 42, p.Score)
	assert.Equal(t, 7, p.RemainingDice)
	assert.False(t, p.IsReady, "rejoin resets readiness")
}

func TestLeaveDestroysEmptyPrivateRoom(t *testing.T) {
	c := testCatalog()
	sess, err := c.CreateSession(CreateParams{PlayerID: "alice"})
	require.NoError(t, err)

	require.NoError(t, c.Leave(sess.SessionID, "alice"))
	_, err = c.View(sess.SessionID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLeaveUnknownParticipant(t *testing.T) {
	c := testCatalog()
	sess, err := c.CreateSession(CreateParams{PlayerID: "alice"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Leave(sess.SessionID, "ghost"), ErrNotParticipant)
}

func TestReconcileBuildsPublicInventory(t *testing.T) {
	c := testCatalog()
	c.Reconcile()

	rooms := c.ListRooms(0)
	require.GreaterOrEqual(t, len(rooms), 6, "base slots plus overflow up to the joinable minimum")

	slots := map[int]string{}
	codes := map[string]bool{}
	for _, r := range rooms {
		codes[r.RoomCode] = true
		if r.RoomKind == core.RoomPublicDefault {
			require.NotNil(t, r.PublicRoomSlot)
			slots[*r.PublicRoomSlot] = r.RoomCode
		}
	}
	require.Len(t, slots, 4)
	assert.Equal(t, "LBY1", slots[0])
	assert.Equal(t, "LBY4", slots[3])
	assert.Len(t, codes, len(rooms), "room codes are unique")

	// Defaults list before overflow.
	assert.Equal(t, core.RoomPublicDefault, rooms[0].RoomKind)
}

func TestReconcileIsIdempotent(t *testing.T) {
	c := testCatalog()
	c.Reconcile()
	n := c.SessionCount()

	for i := 0; i < 3; i++ {
		c.Reconcile()
	}
	assert.Equal(t, n, c.SessionCount())
}

func TestJoinPublicRoomByCode(t *testing.T) {
	c := testCatalog()
	c.Reconcile()

	sess, err := c.JoinByRoomCode("LBY1", JoinParams{PlayerID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, core.RoomPublicDefault, sess.RoomKind)
	assert.Equal(t, 1, sess.HumanCount())
	assert.Positive(t, sess.BotCount())
}

func TestCleanupExpiredDestroysOverflowKeepsDefaults(t *testing.T) {
	c := testCatalog()
	c.Reconcile()

	// Force everything to be expired.
	for _, id := range c.SessionIDs() {
		require.NoError(t, c.Update(id, func(s *core.Session) error {
			s.ExpiresAt = 1
			return nil
		}))
	}
	c.CleanupExpired()

	defaults, overflow := 0, 0
	for _, id := range c.SessionIDs() {
		view, err := c.View(id)
		require.NoError(t, err)
		switch view.RoomKind {
		case core.RoomPublicDefault:
			defaults++
			assert.False(t, view.IsExpired(core.NowMs()))
		case core.RoomPublicOverflow:
			overflow++
		}
	}
	assert.Equal(t, 4, defaults, "defaults are reset in place, never destroyed")
	assert.GreaterOrEqual(t, defaults+overflow, 6, "inventory restored after cleanup")
}

func TestProfilesRoundTrip(t *testing.T) {
	c := testCatalog()
	_, ok := c.GetProfile("alice")
	assert.False(t, ok)

	c.PutProfile("alice", core.PlayerProfile{"volume": 0.5, "theme": "dark"})
	p, ok := c.GetProfile("alice")
	require.True(t, ok)
	assert.Equal(t, "dark", p["theme"])

	// Mutating the returned copy must not touch the stored profile.
	p["theme"] = "light"
	p2, _ := c.GetProfile("alice")
	assert.Equal(t, "dark", p2["theme"])
}

func TestExportImportRoundTrip(t *testing.T) {
	c := testCatalog()
	sess, err := c.CreateSession(CreateParams{PlayerID: "alice", RoomCode: "KEEPME"})
	require.NoError(t, err)
	c.PutProfile("alice", core.PlayerProfile{"theme": "dark"})
	c.UpsertFirebasePlayer(&core.FirebasePlayer{UID: "uid-1", DisplayName: "Alice"})

	state := core.NewState()
	c.Export(state)
	require.Contains(t, state.MultiplayerSessions, sess.SessionID)

	c2 := testCatalog()
	c2.Import(state)

	view, err := c2.View(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "KEEPME", view.RoomCode)
	_, ok := c2.GetProfile("alice")
	assert.True(t, ok)
	require.NotNil(t, c2.GetFirebasePlayer("uid-1"))

	// Import also restores the public inventory.
	assert.GreaterOrEqual(t, c2.SessionCount(), 7)
}

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "ABC123", normalizeRoomCode("  abc123 "))
	assert.Empty(t, normalizeRoomCode(""))
	assert.Empty(t, normalizeRoomCode("with space"))
	assert.Empty(t, normalizeRoomCode("toolongcode1"))
	assert.Equal(t, "LBY1", normalizeRoomCode("lby1"))
}
