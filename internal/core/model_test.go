package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	s := NewState()
	s.Players["alice"] = PlayerProfile{"theme": "dark"}
	s.AccessTokens["hash-a"] = &TokenRecord{PlayerID: "alice", SessionID: "sess-1", IssuedAt: 1, ExpiresAt: 2}
	s.RefreshTokens["hash-r"] = &TokenRecord{PlayerID: "alice", ExpiresAt: 9}
	slot := 1
	s.MultiplayerSessions["sess-1"] = &Session{
		SessionID:      "sess-1",
		RoomCode:       "LBY2",
		RoomKind:       RoomPublicDefault,
		PublicRoomSlot: &slot,
		GameDifficulty: DifficultyHard,
		CreatedAt:      100,
		LastActivityAt: 200,
		ExpiresAt:      300,
		Participants: map[string]*Participant{
			"alice": {PlayerID: "alice", JoinedAt: 100, RemainingDice: 15},
			"bot-1": {PlayerID: "bot-1", JoinedAt: 101, IsBot: true, BotProfile: BotCautious, IsReady: true, RemainingDice: 15},
		},
		TurnState: &TurnState{
			Order:              []string{"alice", "bot-1"},
			ActiveTurnPlayerID: "alice",
			Round:              2,
			TurnNumber:         5,
			Phase:              PhaseAwaitScore,
			LastRollSnapshot: &RollSnapshot{
				RollIndex:    1,
				ServerRollID: "roll-1",
				Dice:         []Die{{DieID: "d6-a", Sides: 6, Value: 4}},
				UpdatedAt:    150,
			},
			TurnTimeoutMs: 60000,
			TurnExpiresAt: 400,
			UpdatedAt:     150,
		},
	}
	s.LeaderboardScores["lb-1"] = &LeaderboardEntry{ID: "lb-1", UID: "uid-1", DisplayName: "Alice", Score: 12}
	s.GameLogs["log-1"] = &GameLogEntry{ID: "log-1", Level: "info", Message: "hello", Timestamp: 1}
	s.FirebasePlayers["uid-1"] = &FirebasePlayer{UID: "uid-1", DisplayName: "Alice"}
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := sampleState()
	data, err := EncodeState(s)
	require.NoError(t, err)

	got, err := DecodeState(data)
	require.NoError(t, err)
	if diff := cmp.Diff(s, got); diff != "" {
		t.Fatalf("state round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeState([]byte(`{"version": 99}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 99")
}

func TestDecodeNormalizesMissingMaps(t *testing.T) {
	got, err := DecodeState([]byte(`{"version": 1, "multiplayerSessions": {"s": {"sessionId": "s"}}}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Players)
	assert.NotNil(t, got.AccessTokens)
	assert.NotNil(t, got.MultiplayerSessions["s"].Participants)
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleState()
	c := s.Clone()

	c.MultiplayerSessions["sess-1"].Participants["alice"].Score = 99
	c.Players["alice"]["theme"] = "light"

	assert.Zero(t, s.MultiplayerSessions["sess-1"].Participants["alice"].Score)
	assert.Equal(t, "dark", s.Players["alice"]["theme"])
}

func TestAllHumansReady(t *testing.T) {
	s := &Session{Participants: map[string]*Participant{
		"bot": {PlayerID: "bot", IsBot: true, IsReady: true},
	}}
	assert.False(t, s.AllHumansReady(), "bots alone never start a game")

	s.Participants["alice"] = &Participant{PlayerID: "alice"}
	assert.False(t, s.AllHumansReady())

	s.Participants["alice"].IsReady = true
	assert.True(t, s.AllHumansReady())
}

func TestOrderedParticipantsSortsByJoinThenID(t *testing.T) {
	s := &Session{Participants: map[string]*Participant{
		"c": {PlayerID: "c", JoinedAt: 2},
		"a": {PlayerID: "a", JoinedAt: 1},
		"b": {PlayerID: "b", JoinedAt: 2},
	}}
	out := s.OrderedParticipants()
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].PlayerID)
	assert.Equal(t, "b", out[1].PlayerID)
	assert.Equal(t, "c", out[2].PlayerID)
}

func TestRollSnapshotDieLookup(t *testing.T) {
	r := &RollSnapshot{Dice: []Die{{DieID: "d6-a", Sides: 6, Value: 2}}}
	require.NotNil(t, r.Die("d6-a"))
	assert.Nil(t, r.Die("d6-b"))
}

func TestNormalizeEnums(t *testing.T) {
	assert.Equal(t, RoomPrivate, NormalizeRoomKind("weird"))
	assert.Equal(t, RoomPublicOverflow, NormalizeRoomKind(RoomPublicOverflow))
	assert.Equal(t, DifficultyNormal, NormalizeDifficulty("nope"))
	assert.Equal(t, BotBalanced, NormalizeBotProfile("nope"))
}
