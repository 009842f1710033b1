package license

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ActivationLimiter throttles activation attempts per identifier (a masked
// key prefix). It protects the registry endpoint from key-guessing loops
// driven through the CLI.
type ActivationLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

// NewActivationLimiter creates a limiter allowing attemptsPerMinute
// sustained attempts with the given burst per identifier.
func NewActivationLimiter(attemptsPerMinute float64, burst int) *ActivationLimiter {
	return &ActivationLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(attemptsPerMinute / 60.0),
		burst:    burst,
		lastSeen: make(map[string]time.Time),
	}
}

// Allow reports whether an attempt for the identifier is within limits.
func (l *ActivationLimiter) Allow(identifier string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[identifier]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[identifier] = limiter
	}
	l.lastSeen[identifier] = time.Now()
	l.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		logWarn(context.Background(), "activation_rate_limit", "Activation attempt rate limited",
			slog.String("identifier", identifier),
		)
	}
	return allowed
}

// Reset clears the limiter state for an identifier after a successful
// activation.
func (l *ActivationLimiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, identifier)
	delete(l.lastSeen, identifier)
}

// Cleanup drops limiter state not seen within maxAge. Called opportunistically;
// there is no background goroutine because CLI processes are short-lived.
func (l *ActivationLimiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.limiters, id)
			delete(l.lastSeen, id)
		}
	}
}
