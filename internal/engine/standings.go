package engine

import (
	"sort"

	"github.com/dicelobby/backend/internal/core"
)

// Standings orders participants for display: finished players first, then
// by ascending score (lower is better), ascending remaining dice, earlier
// completion, earlier join, and finally lexicographic player id.
func Standings(s *core.Session) []*core.Participant {
	out := s.OrderedParticipants()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsComplete != b.IsComplete {
			return a.IsComplete
		}
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.RemainingDice != b.RemainingDice {
			return a.RemainingDice < b.RemainingDice
		}
		if a.CompletedAt != b.CompletedAt {
			return a.CompletedAt < b.CompletedAt
		}
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return a.PlayerID < b.PlayerID
	})
	return out
}
