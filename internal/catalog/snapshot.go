package catalog

import (
	"encoding/json"

	"github.com/dicelobby/backend/internal/core"
)

// GetProfile returns a deep copy of a player's stored profile. ok is false
// when no profile exists.
func (c *Catalog) GetProfile(playerID string) (core.PlayerProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[playerID]
	if !ok {
		return nil, false
	}
	return cloneProfile(p), true
}

// PlayerCount reports the number of stored player profiles.
func (c *Catalog) PlayerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.players)
}

// PutProfile replaces a player's stored profile wholesale.
func (c *Catalog) PutProfile(playerID string, p core.PlayerProfile) {
	c.mu.Lock()
	c.players[playerID] = cloneProfile(p)
	c.mu.Unlock()
	c.onChange()
}

// UpsertFirebasePlayer records or refreshes the per-uid identity profile.
// Existing non-empty fields win over empty incoming ones so a token without
// a display name never erases a chosen name.
func (c *Catalog) UpsertFirebasePlayer(in *core.FirebasePlayer) *core.FirebasePlayer {
	c.mu.Lock()
	cur, ok := c.firebase[in.UID]
	if !ok {
		cur = &core.FirebasePlayer{UID: in.UID}
		c.firebase[in.UID] = cur
	}
	if in.Email != "" {
		cur.Email = in.Email
	}
	if in.DisplayName != "" {
		cur.DisplayName = in.DisplayName
	}
	if in.Provider != "" {
		cur.Provider = in.Provider
	}
	cur.IsAnonymous = in.IsAnonymous
	cur.UpdatedAt = core.NowMs()
	out := *cur
	c.mu.Unlock()

	c.onChange()
	return &out
}

// GetFirebasePlayer returns a copy of the stored identity profile, or nil.
func (c *Catalog) GetFirebasePlayer(uid string) *core.FirebasePlayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.firebase[uid]
	if !ok {
		return nil
	}
	out := *cur
	return &out
}

// SetFirebaseDisplayName updates the chosen leaderboard name for a uid.
func (c *Catalog) SetFirebaseDisplayName(uid, name string) *core.FirebasePlayer {
	c.mu.Lock()
	cur, ok := c.firebase[uid]
	if !ok {
		cur = &core.FirebasePlayer{UID: uid}
		c.firebase[uid] = cur
	}
	cur.DisplayName = name
	cur.UpdatedAt = core.NowMs()
	out := *cur
	c.mu.Unlock()

	c.onChange()
	return &out
}

// Export deep-copies the catalog-owned slices of the durable state into dst.
// The server composes the full snapshot from the catalog, the vault, and
// the records stores.
func (c *Catalog) Export(dst *core.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dst.MultiplayerSessions = make(map[string]*core.Session, len(c.sessions))
	for id, s := range c.sessions {
		dst.MultiplayerSessions[id] = cloneSession(s)
	}
	dst.Players = make(map[string]core.PlayerProfile, len(c.players))
	for id, p := range c.players {
		dst.Players[id] = cloneProfile(p)
	}
	dst.FirebasePlayers = make(map[string]*core.FirebasePlayer, len(c.firebase))
	for uid, fp := range c.firebase {
		cp := *fp
		dst.FirebasePlayers[uid] = &cp
	}
}

// Import seeds the catalog from a loaded snapshot, dropping sessions that
// expired while the process was down, then restores the public inventory.
func (c *Catalog) Import(src *core.State) {
	now := core.NowMs()

	c.mu.Lock()
	c.sessions = make(map[string]*core.Session, len(src.MultiplayerSessions))
	for id, s := range src.MultiplayerSessions {
		if s == nil || s.IsExpired(now) {
			continue
		}
		cp := cloneSession(s)
		cp.RoomKind = core.NormalizeRoomKind(cp.RoomKind)
		cp.GameDifficulty = core.NormalizeDifficulty(cp.GameDifficulty)
		c.eng.EnsureTurnState(cp)
		c.sessions[id] = cp
	}
	c.players = make(map[string]core.PlayerProfile, len(src.Players))
	for id, p := range src.Players {
		c.players[id] = cloneProfile(p)
	}
	c.firebase = make(map[string]*core.FirebasePlayer, len(src.FirebasePlayers))
	for uid, fp := range src.FirebasePlayers {
		if fp == nil {
			continue
		}
		cp := *fp
		c.firebase[uid] = &cp
	}
	c.reconcileLocked(now)
	c.mu.Unlock()
}

func cloneProfile(p core.PlayerProfile) core.PlayerProfile {
	if p == nil {
		return core.PlayerProfile{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return core.PlayerProfile{}
	}
	var out core.PlayerProfile
	if err := json.Unmarshal(data, &out); err != nil {
		return core.PlayerProfile{}
	}
	if out == nil {
		out = core.PlayerProfile{}
	}
	return out
}
