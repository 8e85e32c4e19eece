package queue

import "time"

// Delay returns how long an item must wait after its last attempt before it
// becomes eligible again: base doubled per recorded retry, capped at max.
// No jitter; a single local queue has no thundering-herd problem.
func Delay(base, max time.Duration, retryCount int) time.Duration {
	if retryCount >= 62 {
		return max
	}
	d := base << uint(retryCount)
	// A shift of a multi-bit base can wrap to a small positive value, so a
	// plain overflow-to-negative check is not enough.
	if d < base || d > max {
		return max
	}
	return d
}

// ready reports whether the item may be attempted at nowMs. Pure function of
// the item's retry bookkeeping and the clock; readiness is never stored.
func (q *Queue) ready(it Item, nowMs int64) bool {
	if it.RetryCount >= q.cfg.MaxRetries {
		return false
	}
	if it.LastRetryAt == nil {
		return true
	}
	backoff := Delay(q.cfg.BaseBackoff, q.cfg.MaxBackoff, it.RetryCount)
	return nowMs >= *it.LastRetryAt+backoff.Milliseconds()
}

// expired reports whether the item's age exceeds the expiry window. Expired
// items are logically absent from every read and removed by PruneExpired.
func (q *Queue) expired(it Item, nowMs int64) bool {
	return nowMs-it.CreatedAt > q.cfg.ExpiryWindow.Milliseconds()
}
