// Package ws is the realtime fan-out layer: one hub of per-session
// subscriber sets, one client per socket with dedicated read and write
// pumps, and the JSON message catalog shared with the scheduler.
package ws

import (
	"encoding/json"
	"fmt"

	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/engine"
)

// Outbound message types.
const (
	TypeSessionState       = "session_state"
	TypeTurnStart          = "turn_start"
	TypeTurnAction         = "turn_action"
	TypeTurnEnd            = "turn_end"
	TypeTurnTimeoutWarning = "turn_timeout_warning"
	TypeTurnAutoAdvanced   = "turn_auto_advanced"
	TypePlayerJoined       = "player_joined"
	TypePlayerLeft         = "player_left"
	TypePlayerReady        = "player_ready"
	TypeSessionComplete    = "session_complete"
	TypeGameUpdate         = "game_update"
	TypeNotification       = "player_notification"
	TypeChaosAttack        = "chaos_attack"
	TypeParticleEmit       = "particle:emit"
	TypeError              = "error"
	TypePong               = "pong"
)

// Inbound-only message types.
const (
	TypePing  = "ping"
	TypeReady = "ready"
)

// Origin tags carried on every outbound frame. The canonical values live
// in core so the engine can record them on the turn state.
const (
	SourceServer      = core.SourceServer
	SourcePlayer      = core.SourcePlayer
	SourceBotAuto     = core.SourceBotAuto
	SourceTimeoutAuto = core.SourceTimeoutAuto
	SourceReady       = core.SourceReady
)

// Error codes carried on error frames. Engine rejections get a
// per-action code; everything else maps to a category.
const (
	CodeBadRequest       = "bad_request"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeSessionGone      = "session_gone"
	CodeInternalError    = "internal_error"
	CodeTurnInvalidRoll  = "turn_action_invalid_roll"
	CodeTurnInvalidScore = "turn_action_invalid_score"
	CodeTurnEndInvalid   = "turn_end_invalid"
)

// passthroughTypes are relayed to the rest of the room as-is, with the
// sender identity and timestamp filled in server-side.
var passthroughTypes = map[string]bool{
	TypeGameUpdate:   true,
	TypeNotification: true,
	TypeChaosAttack:  true,
	TypeParticleEmit: true,
}

// mustJSON marshals a frame built from known-good types.
func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal ws frame: %v", err))
	}
	return data
}

// SessionStateFrame carries a full authoritative session view. Sent on
// connect, after every accepted mutation, and as the second half of an
// error resync.
func SessionStateFrame(s *core.Session) []byte {
	return mustJSON(struct {
		Type      string        `json:"type"`
		SessionID string        `json:"sessionId"`
		Session   *core.Session `json:"session"`
		Source    string        `json:"source"`
		Timestamp int64         `json:"timestamp"`
	}{TypeSessionState, s.SessionID, s, SourceServer, core.NowMs()})
}

// TurnStartFrame announces the active player of a new turn. The source
// tag names what rotated the turn in, recorded on the turn state by the
// engine at advance time.
func TurnStartFrame(sessionID string, ts *core.TurnState) []byte {
	source := ts.StartedBy
	if source == "" {
		source = SourceServer
	}
	return mustJSON(struct {
		Type          string `json:"type"`
		SessionID     string `json:"sessionId"`
		PlayerID      string `json:"playerId"`
		Round         int    `json:"round"`
		TurnNumber    int    `json:"turnNumber"`
		TurnExpiresAt int64  `json:"turnExpiresAt,omitempty"`
		Source        string `json:"source"`
		Timestamp     int64  `json:"timestamp"`
	}{TypeTurnStart, sessionID, ts.ActiveTurnPlayerID, ts.Round, ts.TurnNumber, ts.TurnExpiresAt, source, core.NowMs()})
}

// RollActionFrame broadcasts an accepted roll with the server-drawn dice.
// Source distinguishes a human action from a bot's.
func RollActionFrame(sessionID, playerID string, roll *core.RollSnapshot, source string) []byte {
	return mustJSON(struct {
		Type      string             `json:"type"`
		SessionID string             `json:"sessionId"`
		PlayerID  string             `json:"playerId"`
		Action    string             `json:"action"`
		Roll      *core.RollSnapshot `json:"roll"`
		Source    string             `json:"source"`
		Timestamp int64              `json:"timestamp"`
	}{TypeTurnAction, sessionID, playerID, "roll", roll, source, core.NowMs()})
}

// ScoreActionFrame broadcasts an accepted scoring decision.
func ScoreActionFrame(sessionID, playerID string, score *core.ScoreSummary, source string) []byte {
	return mustJSON(struct {
		Type      string             `json:"type"`
		SessionID string             `json:"sessionId"`
		PlayerID  string             `json:"playerId"`
		Action    string             `json:"action"`
		Score     *core.ScoreSummary `json:"score"`
		Source    string             `json:"source"`
		Timestamp int64              `json:"timestamp"`
	}{TypeTurnAction, sessionID, playerID, "score", score, source, core.NowMs()})
}

// TurnEndFrame announces a completed turn and who plays next.
func TurnEndFrame(sessionID string, adv *engine.TurnAdvance, source string) []byte {
	return mustJSON(struct {
		Type         string `json:"type"`
		SessionID    string `json:"sessionId"`
		PlayerID     string `json:"playerId"`
		NextPlayerID string `json:"nextPlayerId,omitempty"`
		Round        int    `json:"round"`
		TurnNumber   int    `json:"turnNumber"`
		Source       string `json:"source"`
		Timestamp    int64  `json:"timestamp"`
	}{TypeTurnEnd, sessionID, adv.PreviousPlayerID, adv.NextPlayerID, adv.Round, adv.TurnNumber, source, core.NowMs()})
}

// TurnTimeoutWarningFrame fires shortly before the turn deadline.
func TurnTimeoutWarningFrame(sessionID, playerID string, expiresAt int64) []byte {
	now := core.NowMs()
	remaining := expiresAt - now
	if remaining < 0 {
		remaining = 0
	}
	return mustJSON(struct {
		Type          string `json:"type"`
		SessionID     string `json:"sessionId"`
		PlayerID      string `json:"playerId"`
		TurnExpiresAt int64  `json:"turnExpiresAt"`
		RemainingMs   int64  `json:"remainingMs"`
		Source        string `json:"source"`
		Timestamp     int64  `json:"timestamp"`
	}{TypeTurnTimeoutWarning, sessionID, playerID, expiresAt, remaining, SourceServer, now})
}

// TurnAutoAdvancedFrame announces a forced rotation. The source tag says
// who forced it (timeout_auto or bot_auto).
func TurnAutoAdvancedFrame(sessionID, source string, adv *engine.TurnAdvance) []byte {
	return mustJSON(struct {
		Type         string `json:"type"`
		SessionID    string `json:"sessionId"`
		PlayerID     string `json:"playerId"`
		NextPlayerID string `json:"nextPlayerId,omitempty"`
		Source       string `json:"source"`
		Timestamp    int64  `json:"timestamp"`
	}{TypeTurnAutoAdvanced, sessionID, adv.PreviousPlayerID, adv.NextPlayerID, source, core.NowMs()})
}

// PresenceFrame covers player_joined, player_left, and player_ready.
func PresenceFrame(msgType, sessionID, playerID, displayName string, ready bool) []byte {
	frame := map[string]any{
		"type":      msgType,
		"sessionId": sessionID,
		"playerId":  playerID,
		"source":    SourceServer,
		"timestamp": core.NowMs(),
	}
	if displayName != "" {
		frame["displayName"] = displayName
	}
	if msgType == TypePlayerReady {
		frame["isReady"] = ready
		frame["source"] = SourceReady
	}
	return mustJSON(frame)
}

// SessionCompleteFrame carries the final standings.
func SessionCompleteFrame(sessionID string, standings []*core.Participant) []byte {
	return mustJSON(struct {
		Type      string              `json:"type"`
		SessionID string              `json:"sessionId"`
		Standings []*core.Participant `json:"standings"`
		Source    string              `json:"source"`
		Timestamp int64               `json:"timestamp"`
	}{TypeSessionComplete, sessionID, standings, SourceServer, core.NowMs()})
}

// PassthroughFrame re-stamps a relayed client message with the sender and
// a server timestamp, overriding whatever the client claimed.
func PassthroughFrame(msgType, sessionID, sourcePlayerID string, raw map[string]json.RawMessage) []byte {
	frame := make(map[string]any, len(raw)+6)
	for k, v := range raw {
		frame[k] = v
	}
	frame["type"] = msgType
	frame["sessionId"] = sessionID
	frame["playerId"] = sourcePlayerID
	frame["sourcePlayerId"] = sourcePlayerID
	frame["source"] = SourcePlayer
	frame["timestamp"] = core.NowMs()
	return mustJSON(frame)
}

// FlavorFrame is a server-originated ambient message in one of the
// passthrough shapes, attributed to a bot.
func FlavorFrame(msgType, sessionID, sourcePlayerID string, fields map[string]any) []byte {
	frame := make(map[string]any, len(fields)+5)
	for k, v := range fields {
		frame[k] = v
	}
	frame["type"] = msgType
	frame["sessionId"] = sessionID
	frame["sourcePlayerId"] = sourcePlayerID
	frame["source"] = SourceBotAuto
	frame["timestamp"] = core.NowMs()
	return mustJSON(frame)
}

// ErrorFrame reports a rejected inbound message. Expected carries the
// correct value for mismatch rejections and is omitted otherwise.
func ErrorFrame(code, reason string, expected int) []byte {
	return mustJSON(struct {
		Type      string `json:"type"`
		Code      string `json:"code"`
		Reason    string `json:"reason"`
		Expected  int    `json:"expected,omitempty"`
		Source    string `json:"source"`
		Timestamp int64  `json:"timestamp"`
	}{TypeError, code, reason, expected, SourceServer, core.NowMs()})
}

// PongFrame answers an application-level ping.
func PongFrame() []byte {
	return mustJSON(struct {
		Type      string `json:"type"`
		Source    string `json:"source"`
		Timestamp int64  `json:"timestamp"`
	}{TypePong, SourceServer, core.NowMs()})
}
