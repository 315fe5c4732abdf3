package github

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	rateLimitBackoffCap = 60 * time.Second
	transientBackoffCap = 30 * time.Second
)

// rateLimitBackoff returns min(2^attempt + jitter, 60s) for throttled pages.
func rateLimitBackoff(attempt int) time.Duration {
	wait := exp2(attempt) + randomJitter(time.Second)
	if wait > rateLimitBackoffCap {
		wait = rateLimitBackoffCap
	}
	return wait
}

// transientBackoff returns min(2^attempt, 30s) for other failures.
func transientBackoff(attempt int) time.Duration {
	wait := exp2(attempt)
	if wait > transientBackoffCap {
		wait = transientBackoffCap
	}
	return wait
}

func exp2(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
