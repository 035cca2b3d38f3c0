// Package core defines the shared data model of the dice room server: the
// durable process-wide State, live multiplayer sessions, participants, and
// per-session turn state. All times are epoch milliseconds.
package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SnapshotVersion tags persisted state so incompatible snapshots fail loudly
// at load instead of silently corrupting live sessions.
const SnapshotVersion = 1

// Hard limits of the game itself. Operational knobs (TTLs, room inventory
// sizing, timeouts) live in config and are plumbed in at construction.
const (
	StartingDice    = 15
	MaxTurnRollDice = 64
	MinDieSides     = 2
	MaxDieSides     = 1000
)

// RoomKind classifies a session for inventory reconciliation.
type RoomKind string

const (
	RoomPrivate        RoomKind = "private"
	RoomPublicDefault  RoomKind = "public_default"
	RoomPublicOverflow RoomKind = "public_overflow"
)

// Difficulty selects bot pacing and is otherwise opaque to the server.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// BotProfile is the behavioral class of a bot participant.
type BotProfile string

const (
	BotCautious   BotProfile = "cautious"
	BotBalanced   BotProfile = "balanced"
	BotAggressive BotProfile = "aggressive"
)

// TurnPhase is the per-turn state machine position.
type TurnPhase string

const (
	PhaseAwaitRoll  TurnPhase = "await_roll"
	PhaseAwaitScore TurnPhase = "await_score"
	PhaseReadyToEnd TurnPhase = "ready_to_end"
)

// Origin tags: who caused a state transition or frame. Carried on every
// outbound socket frame and on TurnState.StartedBy.
const (
	SourceServer      = "server"
	SourcePlayer      = "player"
	SourceBotAuto     = "bot_auto"
	SourceTimeoutAuto = "timeout_auto"
	SourceReady       = "ready"
)

// NormalizeRoomKind maps unknown kinds onto the closed set. Anything
// unrecognized is treated as private so it can never claim a public slot.
func NormalizeRoomKind(k RoomKind) RoomKind {
	switch k {
	case RoomPrivate, RoomPublicDefault, RoomPublicOverflow:
		return k
	}
	return RoomPrivate
}

// NormalizeDifficulty falls back to normal for unknown values.
func NormalizeDifficulty(d Difficulty) Difficulty {
	switch d {
	case DifficultyEasy, DifficultyNormal, DifficultyHard:
		return d
	}
	return DifficultyNormal
}

// NormalizeBotProfile falls back to balanced for unknown values.
func NormalizeBotProfile(p BotProfile) BotProfile {
	switch p {
	case BotCautious, BotBalanced, BotAggressive:
		return p
	}
	return BotBalanced
}

// NowMs returns the current time in epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Participant is a human or bot member of a session.
type Participant struct {
	PlayerID        string     `json:"playerId"`
	DisplayName     string     `json:"displayName,omitempty"`
	JoinedAt        int64      `json:"joinedAt"`
	LastHeartbeatAt int64      `json:"lastHeartbeatAt"`
	IsBot           bool       `json:"isBot"`
	BotProfile      BotProfile `json:"botProfile,omitempty"`
	IsReady         bool       `json:"isReady"`
	Score           int        `json:"score"`
	RemainingDice   int        `json:"remainingDice"`
	IsComplete      bool       `json:"isComplete"`
	CompletedAt     int64      `json:"completedAt,omitempty"`
}

// Die is a single server-resolved die inside a roll snapshot.
type Die struct {
	DieID string `json:"dieId"`
	Sides int    `json:"sides"`
	Value int    `json:"value"`
}

// RollSnapshot is the last server-generated roll for the active turn.
type RollSnapshot struct {
	RollIndex    int    `json:"rollIndex"`
	ServerRollID string `json:"serverRollId"`
	Dice         []Die  `json:"dice"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// Die returns the die with the given id, or nil.
func (r *RollSnapshot) Die(id string) *Die {
	for i := range r.Dice {
		if r.Dice[i].DieID == id {
			return &r.Dice[i]
		}
	}
	return nil
}

// ScoreSummary is the last accepted scoring decision for the active turn.
type ScoreSummary struct {
	SelectedDiceIDs     []string `json:"selectedDiceIds"`
	Points              int      `json:"points"`
	ExpectedPoints      int      `json:"expectedPoints"`
	RollServerID        string   `json:"rollServerId"`
	ProjectedTotalScore int      `json:"projectedTotalScore"`
	RemainingDice       int      `json:"remainingDice"`
	IsComplete          bool     `json:"isComplete"`
	UpdatedAt           int64    `json:"updatedAt"`
}

// TurnState tracks whose turn it is and where inside the turn we are.
// ActiveTurnPlayerID is empty when no participant can act. TurnExpiresAt is
// zero iff there is no armed deadline.
type TurnState struct {
	Order              []string      `json:"order"`
	ActiveTurnPlayerID string        `json:"activeTurnPlayerId,omitempty"`
	Round              int           `json:"round"`
	TurnNumber         int           `json:"turnNumber"`
	Phase              TurnPhase     `json:"phase"`
	StartedBy          string        `json:"startedBy,omitempty"`
	LastRollSnapshot   *RollSnapshot `json:"lastRollSnapshot,omitempty"`
	LastScoreSummary   *ScoreSummary `json:"lastScoreSummary,omitempty"`
	TurnTimeoutMs      int64         `json:"turnTimeoutMs"`
	TurnExpiresAt      int64         `json:"turnExpiresAt,omitempty"`
	UpdatedAt          int64         `json:"updatedAt"`
}

// Session is a single match container. It is owned by the room catalog;
// everything else refers to it by SessionID only.
type Session struct {
	SessionID      string                  `json:"sessionId"`
	RoomCode       string                  `json:"roomCode"`
	RoomKind       RoomKind                `json:"roomKind"`
	PublicRoomSlot *int                    `json:"publicRoomSlot,omitempty"`
	GameDifficulty Difficulty              `json:"gameDifficulty"`
	CreatedAt      int64                   `json:"createdAt"`
	LastActivityAt int64                   `json:"lastActivityAt"`
	ExpiresAt      int64                   `json:"expiresAt"`
	Participants   map[string]*Participant `json:"participants"`
	TurnState      *TurnState              `json:"turnState,omitempty"`
}

// IsExpired reports whether the session's TTL has lapsed at now.
func (s *Session) IsExpired(now int64) bool {
	return s.ExpiresAt > 0 && now >= s.ExpiresAt
}

// Humans returns the human participants in join order.
func (s *Session) Humans() []*Participant {
	var out []*Participant
	for _, p := range s.Participants {
		if !p.IsBot {
			out = append(out, p)
		}
	}
	sortByJoin(out)
	return out
}

// HumanCount counts human participants.
func (s *Session) HumanCount() int {
	n := 0
	for _, p := range s.Participants {
		if !p.IsBot {
			n++
		}
	}
	return n
}

// BotCount counts bot participants.
func (s *Session) BotCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.IsBot {
			n++
		}
	}
	return n
}

// AllHumansReady reports whether every human participant has readied up.
// Bots are always ready. A session with zero humans is not considered ready:
// nothing should play until someone is watching.
func (s *Session) AllHumansReady() bool {
	humans := 0
	for _, p := range s.Participants {
		if p.IsBot {
			continue
		}
		humans++
		if !p.IsReady {
			return false
		}
	}
	return humans > 0
}

// OrderedParticipants returns all participants in join order.
func (s *Session) OrderedParticipants() []*Participant {
	out := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p)
	}
	sortByJoin(out)
	return out
}

func sortByJoin(ps []*Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].JoinedAt != ps[j].JoinedAt {
			return ps[i].JoinedAt < ps[j].JoinedAt
		}
		return ps[i].PlayerID < ps[j].PlayerID
	})
}

// TokenRecord is the stored side of an issued access or refresh token,
// keyed by the hex SHA-256 of the token string.
type TokenRecord struct {
	PlayerID  string `json:"playerId"`
	SessionID string `json:"sessionId,omitempty"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// PlayerProfile is opaque to the core: settings and progression owned by
// the client.
type PlayerProfile map[string]any

// FirebasePlayer is the per-uid profile kept for identity-authenticated
// endpoints (leaderboard display name and friends).
type FirebasePlayer struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
	Provider    string `json:"provider,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// LeaderboardEntry is one submitted score.
type LeaderboardEntry struct {
	ID          string `json:"id"`
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	DurationMs  int64  `json:"durationMs"`
	Rolls       int    `json:"rolls"`
	Difficulty  string `json:"difficulty,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// GameLogEntry is one accepted client log line.
type GameLogEntry struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// State is the process-wide singleton snapshot persisted by the store
// adapter. Maps are never nil after NewState or DecodeState.
type State struct {
	Version             int                          `json:"version"`
	Players             map[string]PlayerProfile     `json:"players"`
	AccessTokens        map[string]*TokenRecord      `json:"accessTokens"`
	RefreshTokens       map[string]*TokenRecord      `json:"refreshTokens"`
	MultiplayerSessions map[string]*Session          `json:"multiplayerSessions"`
	LeaderboardScores   map[string]*LeaderboardEntry `json:"leaderboardScores"`
	GameLogs            map[string]*GameLogEntry     `json:"gameLogs"`
	FirebasePlayers     map[string]*FirebasePlayer   `json:"firebasePlayers"`
}

// NewState returns an empty versioned state with all maps initialized.
func NewState() *State {
	return &State{
		Version:             SnapshotVersion,
		Players:             make(map[string]PlayerProfile),
		AccessTokens:        make(map[string]*TokenRecord),
		RefreshTokens:       make(map[string]*TokenRecord),
		MultiplayerSessions: make(map[string]*Session),
		LeaderboardScores:   make(map[string]*LeaderboardEntry),
		GameLogs:            make(map[string]*GameLogEntry),
		FirebasePlayers:     make(map[string]*FirebasePlayer),
	}
}

// normalize re-initializes nil maps after decoding a hand-edited or
// partially-written snapshot.
func (s *State) normalize() {
	if s.Players == nil {
		s.Players = make(map[string]PlayerProfile)
	}
	if s.AccessTokens == nil {
		s.AccessTokens = make(map[string]*TokenRecord)
	}
	if s.RefreshTokens == nil {
		s.RefreshTokens = make(map[string]*TokenRecord)
	}
	if s.MultiplayerSessions == nil {
		s.MultiplayerSessions = make(map[string]*Session)
	}
	if s.LeaderboardScores == nil {
		s.LeaderboardScores = make(map[string]*LeaderboardEntry)
	}
	if s.GameLogs == nil {
		s.GameLogs = make(map[string]*GameLogEntry)
	}
	if s.FirebasePlayers == nil {
		s.FirebasePlayers = make(map[string]*FirebasePlayer)
	}
	for _, sess := range s.MultiplayerSessions {
		if sess.Participants == nil {
			sess.Participants = make(map[string]*Participant)
		}
	}
}

// EncodeState serializes a snapshot for the store adapter.
func EncodeState(s *State) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses a persisted snapshot and validates its version tag.
func DecodeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state snapshot: %w", err)
	}
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported state snapshot version %d (want %d)", s.Version, SnapshotVersion)
	}
	s.normalize()
	return &s, nil
}

// Clone deep-copies the state so it can be handed to the store adapter
// outside the catalog lock. A JSON round trip is cheap at this scale and
// guarantees the copy shares nothing with the live state.
func (s *State) Clone() *State {
	data, err := EncodeState(s)
	if err != nil {
		// State is composed entirely of marshalable types; this cannot
		// happen with a well-formed State.
		panic(fmt.Sprintf("clone state: %v", err))
	}
	out, err := DecodeState(data)
	if err != nil {
		panic(fmt.Sprintf("clone state: %v", err))
	}
	return out
}
