// Package records holds the auxiliary stores: the size-capped game-log
// queue, the sorted size-capped leaderboard, and the chat-conduct
// evaluator.
package records

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dicelobby/backend/internal/core"
)

// GameLog is a capped queue of client log lines. When full, the oldest
// entries are evicted.
type GameLog struct {
	mu      sync.Mutex
	entries map[string]*core.GameLogEntry
	order   []string // insertion order, oldest first
	cap     int
}

func NewGameLog(cap int) *GameLog {
	if cap <= 0 {
		cap = 500
	}
	return &GameLog{
		entries: make(map[string]*core.GameLogEntry),
		cap:     cap,
	}
}

// validLevels mirrors the client logger.
var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Append validates and stores one entry, evicting the oldest when over
// cap. Returns the rejection reason, empty on success.
func (g *GameLog) Append(e *core.GameLogEntry) string {
	if e == nil || strings.TrimSpace(e.Message) == "" {
		return "empty_message"
	}
	if !validLevels[e.Level] {
		return "invalid_level"
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = core.NowMs()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.entries[e.ID]; dup {
		return "duplicate_id"
	}
	g.entries[e.ID] = e
	g.order = append(g.order, e.ID)
	for len(g.order) > g.cap {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.entries, oldest)
	}
	return ""
}

// Len reports the stored entry count.
func (g *GameLog) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Export deep-copies the entries for the persisted snapshot.
func (g *GameLog) Export() map[string]*core.GameLogEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*core.GameLogEntry, len(g.entries))
	for k, e := range g.entries {
		cp := *e
		out[k] = &cp
	}
	return out
}

// Import replaces the queue from a loaded snapshot. Insertion order is
// reconstructed from timestamps.
func (g *GameLog) Import(entries map[string]*core.GameLogEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[string]*core.GameLogEntry, len(entries))
	g.order = g.order[:0]
	for k, e := range entries {
		cp := *e
		g.entries[k] = &cp
		g.order = append(g.order, k)
	}
	sort.Slice(g.order, func(i, j int) bool {
		a, b := g.entries[g.order[i]], g.entries[g.order[j]]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.ID < b.ID
	})
	for len(g.order) > g.cap {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.entries, oldest)
	}
}
