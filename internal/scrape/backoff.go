package scrape

import (
	"math"
	"time"
)

// Default backoff ceilings. Rate-limit responses back off harder than other
// transient failures.
const (
	DefaultTransientCap = 16 * time.Second
	DefaultRateLimitCap = 32 * time.Second
)

// BackoffPolicy computes retry waits as a pure function of the failed attempt
// index, so the sequence of delays for an Identifier is deterministic and
// non-decreasing up to the ceiling.
type BackoffPolicy struct {
	transientCap time.Duration
	rateLimitCap time.Duration
}

// NewBackoffPolicy builds a policy with the given ceilings; non-positive
// values fall back to the defaults.
func NewBackoffPolicy(transientCap, rateLimitCap time.Duration) *BackoffPolicy {
	if transientCap <= 0 {
		transientCap = DefaultTransientCap
	}
	if rateLimitCap <= 0 {
		rateLimitCap = DefaultRateLimitCap
	}
	return &BackoffPolicy{
		transientCap: transientCap,
		rateLimitCap: rateLimitCap,
	}
}

// Delay returns the wait before the attempt that follows failed attempt
// `attempt` (zero-based): 2^attempt seconds, capped per classification.
func (p *BackoffPolicy) Delay(class Class, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	ceiling := p.transientCap
	if class == ClassRateLimited {
		ceiling = p.rateLimitCap
	}
	secs := math.Pow(2, float64(attempt))
	delay := time.Duration(secs * float64(time.Second))
	if delay > ceiling || delay <= 0 {
		return ceiling
	}
	return delay
}
