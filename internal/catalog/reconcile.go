package catalog

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/dicelobby/backend/internal/core"
)

// codeAlphabet omits easily-confused glyphs (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxRoomCodeLen = 8

// normalizeRoomCode uppercases and validates a requested code. Returns ""
// when the code is unusable.
func normalizeRoomCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > maxRoomCodeLen {
		return ""
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return code
}

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			panic(err)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b)
}

func (c *Catalog) codeInUseLocked(code string, now int64) bool {
	for _, s := range c.sessions {
		if s.RoomCode == code && !s.IsExpired(now) {
			return true
		}
	}
	return false
}

// uniqueCodeLocked draws random 6-char codes until one is free. After 24
// collisions — astronomically unlikely — it widens to 8 chars and keeps
// going rather than failing the request.
func (c *Catalog) uniqueCodeLocked(prefix string, now int64) string {
	for attempt := 0; ; attempt++ {
		width := 6 - len(prefix)
		if attempt >= 24 {
			width = maxRoomCodeLen - len(prefix)
		}
		code := prefix + randomCode(width)
		if !c.codeInUseLocked(code, now) {
			return code
		}
	}
}

// Reconcile restores the public-room inventory invariants. Idempotent:
// when the invariants already hold it changes nothing.
func (c *Catalog) Reconcile() {
	c.mu.Lock()
	changed := c.reconcileLocked(core.NowMs())
	c.mu.Unlock()
	if len(changed) > 0 {
		c.onChange(changed...)
	}
}

// reconcileLocked is the public-inventory pass. Returns ids of sessions
// it touched or created. Caller holds the lock.
func (c *Catalog) reconcileLocked(now int64) []string {
	touched := make(map[string]bool)

	// 1. Normalize room kinds; only public defaults keep a slot.
	for _, s := range c.sessions {
		kind := core.NormalizeRoomKind(s.RoomKind)
		if kind != s.RoomKind {
			s.RoomKind = kind
			touched[s.SessionID] = true
		}
		if s.RoomKind != core.RoomPublicDefault && s.PublicRoomSlot != nil {
			s.PublicRoomSlot = nil
			touched[s.SessionID] = true
		}
	}

	// 2. Prune public-room humans that are neither connected nor
	// recently heartbeated.
	staleCutoff := now - c.cfg.PublicStaleParticipant.Milliseconds()
	for _, s := range c.sessions {
		if s.RoomKind == core.RoomPrivate {
			continue
		}
		for id, p := range s.Participants {
			if p.IsBot {
				continue
			}
			if p.LastHeartbeatAt >= staleCutoff || c.connected(s.SessionID, id) {
				continue
			}
			delete(s.Participants, id)
			touched[s.SessionID] = true
		}
	}

	// 3. Demote stale public defaults: bad slot, slot out of range, or a
	// duplicate claim (the earliest-created session keeps the slot).
	claimed := make(map[int]*core.Session)
	for _, s := range sortedByCreation(c.sessions) {
		if s.RoomKind != core.RoomPublicDefault {
			continue
		}
		demote := s.PublicRoomSlot == nil ||
			*s.PublicRoomSlot < 0 ||
			*s.PublicRoomSlot >= c.cfg.PublicRoomBaseCount
		if !demote {
			if _, dup := claimed[*s.PublicRoomSlot]; dup {
				demote = true
			}
		}
		if demote {
			s.RoomKind = core.RoomPublicOverflow
			s.PublicRoomSlot = nil
			touched[s.SessionID] = true
			continue
		}
		claimed[*s.PublicRoomSlot] = s
	}

	// 4. Create a default room for every unclaimed slot with its
	// deterministic code.
	for slot := 0; slot < c.cfg.PublicRoomBaseCount; slot++ {
		if _, ok := claimed[slot]; ok {
			continue
		}
		code := fmt.Sprintf("%s%d", c.cfg.PublicRoomCodePrefix, slot+1)
		s := c.newPublicSessionLocked(core.RoomPublicDefault, code, now)
		sl := slot
		s.PublicRoomSlot = &sl
		claimed[slot] = s
		touched[s.SessionID] = true
	}

	// 5. Top up overflow rooms until the joinable minimum holds.
	for c.joinableCountLocked(now) < c.cfg.PublicRoomMinJoinable {
		code := c.uniqueCodeLocked("", now)
		s := c.newPublicSessionLocked(core.RoomPublicOverflow, code, now)
		touched[s.SessionID] = true
	}

	// 6. Reset abandoned public rooms in place and settle empty-room TTLs.
	for _, s := range c.sessions {
		if s.RoomKind == core.RoomPrivate || s.HumanCount() > 0 {
			continue
		}
		if c.resetPublicLocked(s, now) {
			touched[s.SessionID] = true
		}
		var ttl int64
		if s.RoomKind == core.RoomPublicDefault {
			ttl = c.cfg.SessionIdleTTL.Milliseconds()
		} else {
			ttl = c.cfg.PublicOverflowEmptyTTL.Milliseconds()
		}
		if want := now + ttl; s.ExpiresAt > want || s.ExpiresAt == 0 {
			s.ExpiresAt = want
			touched[s.SessionID] = true
		}
	}

	out := make([]string, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	return out
}

// resetPublicLocked restores an empty public room to a fresh state: bot
// progress cleared, turn state dropped. Reports whether anything changed.
func (c *Catalog) resetPublicLocked(s *core.Session, now int64) bool {
	changed := false
	for _, p := range s.Participants {
		if !p.IsBot {
			// Step 2 should have removed them; belt and braces.
			delete(s.Participants, p.PlayerID)
			changed = true
			continue
		}
		if p.Score != 0 || p.RemainingDice != core.StartingDice || p.IsComplete {
			p.Score = 0
			p.RemainingDice = core.StartingDice
			p.IsComplete = false
			p.CompletedAt = 0
			changed = true
		}
	}
	if s.BotCount() == 0 && c.cfg.MaxBots > 0 {
		c.seedBotsLocked(s, c.cfg.MaxBots, now)
		changed = true
	}
	if changed || s.TurnState != nil {
		hadProgress := s.TurnState != nil &&
			(s.TurnState.TurnNumber > 1 || s.TurnState.Round > 1 || s.TurnState.LastRollSnapshot != nil)
		if hadProgress {
			s.TurnState = nil
			changed = true
		}
		c.eng.EnsureTurnState(s)
	}
	return changed
}

func (c *Catalog) newPublicSessionLocked(kind core.RoomKind, code string, now int64) *core.Session {
	s := &core.Session{
		SessionID:      uuid.NewString(),
		RoomCode:       code,
		RoomKind:       kind,
		GameDifficulty: core.DifficultyNormal,
		CreatedAt:      now,
		LastActivityAt: now,
		Participants:   make(map[string]*core.Participant),
	}
	if kind == core.RoomPublicDefault {
		s.ExpiresAt = now + c.cfg.SessionIdleTTL.Milliseconds()
	} else {
		s.ExpiresAt = now + c.cfg.PublicOverflowEmptyTTL.Milliseconds()
	}
	c.seedBotsLocked(s, c.cfg.MaxBots, now)
	c.eng.EnsureTurnState(s)
	c.sessions[s.SessionID] = s
	return s
}

// sessionComplete reports whether a game has finished: at least one human
// played and every human is complete.
func sessionComplete(s *core.Session) bool {
	humans := 0
	for _, p := range s.Participants {
		if p.IsBot {
			continue
		}
		humans++
		if !p.IsComplete {
			return false
		}
	}
	return humans > 0
}

func (c *Catalog) joinableLocked(s *core.Session, now int64) bool {
	if s.RoomKind == core.RoomPrivate || s.IsExpired(now) {
		return false
	}
	if s.HumanCount() >= c.cfg.MaxHumanPlayers {
		return false
	}
	return !sessionComplete(s)
}

func (c *Catalog) joinableCountLocked(now int64) int {
	n := 0
	for _, s := range c.sessions {
		if c.joinableLocked(s, now) {
			n++
		}
	}
	return n
}

func sortedByCreation(sessions map[string]*core.Session) []*core.Session {
	out := make([]*core.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// RoomSummary is one row of the public room listing.
type RoomSummary struct {
	SessionID        string          `json:"sessionId"`
	RoomCode         string          `json:"roomCode"`
	RoomKind         core.RoomKind   `json:"roomKind"`
	PublicRoomSlot   *int            `json:"publicRoomSlot,omitempty"`
	GameDifficulty   core.Difficulty `json:"gameDifficulty"`
	HumanCount       int             `json:"humanCount"`
	ActiveHumanCount int             `json:"activeHumanCount"`
	BotCount         int             `json:"botCount"`
	LastActivityAt   int64           `json:"lastActivityAt"`
}

const (
	defaultRoomListLimit = 24
	maxRoomListLimit     = 100
)

// ListRooms reconciles the inventory and returns joinable public rooms:
// defaults before overflow, then by active humans, total humans, and
// recency.
func (c *Catalog) ListRooms(limit int) []RoomSummary {
	if limit <= 0 {
		limit = defaultRoomListLimit
	}
	if limit > maxRoomListLimit {
		limit = maxRoomListLimit
	}

	c.mu.Lock()
	now := core.NowMs()
	changed := c.reconcileLocked(now)

	activeCutoff := now - c.cfg.RoomActiveWindow.Milliseconds()
	var rooms []RoomSummary
	for _, s := range c.sessions {
		if !c.joinableLocked(s, now) {
			continue
		}
		active := 0
		for id, p := range s.Participants {
			if p.IsBot {
				continue
			}
			if p.LastHeartbeatAt >= activeCutoff || c.connected(s.SessionID, id) {
				active++
			}
		}
		rooms = append(rooms, RoomSummary{
			SessionID:        s.SessionID,
			RoomCode:         s.RoomCode,
			RoomKind:         s.RoomKind,
			PublicRoomSlot:   s.PublicRoomSlot,
			GameDifficulty:   s.GameDifficulty,
			HumanCount:       s.HumanCount(),
			ActiveHumanCount: active,
			BotCount:         s.BotCount(),
			LastActivityAt:   s.LastActivityAt,
		})
	}
	c.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		a, b := rooms[i], rooms[j]
		ak, bk := listPriority(a.RoomKind), listPriority(b.RoomKind)
		if ak != bk {
			return ak < bk
		}
		if a.ActiveHumanCount != b.ActiveHumanCount {
			return a.ActiveHumanCount > b.ActiveHumanCount
		}
		if a.HumanCount != b.HumanCount {
			return a.HumanCount > b.HumanCount
		}
		return a.LastActivityAt > b.LastActivityAt
	})
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}

	if len(changed) > 0 {
		c.onChange(changed...)
	}
	return rooms
}

func listPriority(k core.RoomKind) int {
	if k == core.RoomPublicDefault {
		return 0
	}
	return 1
}

// CleanupExpired destroys expired sessions (public defaults are reset in
// place instead) and restores the inventory. Returns the ids of destroyed
// sessions so the scheduler can drop their timers.
func (c *Catalog) CleanupExpired() []string {
	c.mu.Lock()
	now := core.NowMs()

	var removed []string
	for id, s := range c.sessions {
		if !s.IsExpired(now) {
			continue
		}
		if s.RoomKind == core.RoomPublicDefault {
			// Defaults are permanent fixtures: reset, never destroy.
			for pid, p := range s.Participants {
				if !p.IsBot {
					delete(s.Participants, pid)
				}
			}
			c.resetPublicLocked(s, now)
			s.ExpiresAt = now + c.cfg.SessionIdleTTL.Milliseconds()
			continue
		}
		delete(c.sessions, id)
		removed = append(removed, id)
	}
	changed := c.reconcileLocked(now)
	c.mu.Unlock()

	if len(removed) > 0 {
		c.logger.Printf("expired %d session(s)", len(removed))
	}
	c.onChange(append(changed, removed...)...)
	return removed
}
