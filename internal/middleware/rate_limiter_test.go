package middleware

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterEnforcesBudget(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d fits the window", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"), "sixth request spills over")
	assert.True(t, rl.Allow("10.0.0.2"), "another key has its own window")
}

func TestRateLimiterConcurrentSameKey(t *testing.T) {
	rl := NewRateLimiter(1000)
	defer rl.Stop()

	// Warm the window so every goroutine takes the read-lock fast path.
	rl.Allow("shared")

	var wg sync.WaitGroup
	allowed := make([]int, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if rl.Allow("shared") {
					allowed[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 1 // the warm-up request
	for _, n := range allowed {
		total += n
	}
	assert.Equal(t, 1000, total, "exactly the budget is admitted")
}
