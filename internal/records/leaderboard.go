package records

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dicelobby/backend/internal/core"
)

// Leaderboard is the size-capped global score table. Entries compare by
// (score asc, duration asc, rolls asc, timestamp asc, id); after every
// insert the table is re-sorted and clipped to cap.
type Leaderboard struct {
	mu      sync.RWMutex
	entries map[string]*core.LeaderboardEntry
	cap     int
}

func NewLeaderboard(cap int) *Leaderboard {
	if cap <= 0 {
		cap = 100
	}
	return &Leaderboard{
		entries: make(map[string]*core.LeaderboardEntry),
		cap:     cap,
	}
}

// Submit validates and inserts a score for a verified uid. The display
// name is enforced per-uid by the caller. Returns the rejection reason,
// empty on success.
func (l *Leaderboard) Submit(e *core.LeaderboardEntry) string {
	if e == nil || e.UID == "" {
		return "missing_uid"
	}
	if strings.TrimSpace(e.DisplayName) == "" {
		return "missing_display_name"
	}
	if e.Score < 0 || e.DurationMs < 0 || e.Rolls < 0 {
		return "invalid_score"
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = core.NowMs()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[e.ID] = e
	l.clipLocked()
	return ""
}

// Top returns the best entries in compare order, at most limit.
func (l *Leaderboard) Top(limit int) []*core.LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*core.LeaderboardEntry, 0, len(l.entries))
	for _, e := range l.entries {
		cp := *e
		out = append(out, &cp)
	}
	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// clipLocked drops the worst entries past cap. Caller holds the lock.
func (l *Leaderboard) clipLocked() {
	if len(l.entries) <= l.cap {
		return
	}
	all := make([]*core.LeaderboardEntry, 0, len(l.entries))
	for _, e := range l.entries {
		all = append(all, e)
	}
	sortEntries(all)
	for _, e := range all[l.cap:] {
		delete(l.entries, e.ID)
	}
}

func sortEntries(entries []*core.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.DurationMs != b.DurationMs {
			return a.DurationMs < b.DurationMs
		}
		if a.Rolls != b.Rolls {
			return a.Rolls < b.Rolls
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// Export deep-copies the table for the persisted snapshot.
func (l *Leaderboard) Export() map[string]*core.LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*core.LeaderboardEntry, len(l.entries))
	for k, e := range l.entries {
		cp := *e
		out[k] = &cp
	}
	return out
}

// Import replaces the table from a loaded snapshot.
func (l *Leaderboard) Import(entries map[string]*core.LeaderboardEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*core.LeaderboardEntry, len(entries))
	for k, e := range entries {
		cp := *e
		l.entries[k] = &cp
	}
	l.clipLocked()
}
