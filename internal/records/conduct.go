package records

import "strings"

// conductDenylist is intentionally small: the server only needs to flag
// obviously hostile room chatter; real moderation lives upstream.
var conductDenylist = []string{
	"cheat", "exploit", "hack", "scam",
}

// EvaluateChatConduct flags hostile text. The second return value,
// shouldAutoBan, is computed for repeated-offense escalation but is
// reserved: no caller consumes it yet.
func EvaluateChatConduct(text string) (flagged bool, shouldAutoBan bool) {
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range conductDenylist {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return hits > 0, hits >= 3
}
