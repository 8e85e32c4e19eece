package queue

// Payload carries the journal fields needed to complete a share later. The
// queue stores it opaquely and never interprets it.
type Payload struct {
	TripID string `json:"trip_id,omitempty"`
	Note   string `json:"note,omitempty"`
	Source string `json:"source,omitempty"` // share_extension | clipboard | manual
}

// Item is one pending share. Key is the shared URL and doubles as the
// deduplication key: the queue holds at most one item per key.
type Item struct {
	ID          string  `json:"id"`
	Key         string  `json:"key"`
	Payload     Payload `json:"payload"`
	CreatedAt   int64   `json:"created_at"` // epoch ms, set once at first enqueue
	RetryCount  int     `json:"retry_count"`
	LastRetryAt *int64  `json:"last_retry_at,omitempty"` // epoch ms, nil until first attempt
	LastError   *string `json:"last_error,omitempty"`
}

// Patch holds optional payload updates applied after an item was queued,
// e.g. a trip chosen by the user during disambiguation. Nil fields are left
// untouched.
type Patch struct {
	TripID *string `json:"trip_id,omitempty"`
	Note   *string `json:"note,omitempty"`
	Source *string `json:"source,omitempty"`
}

// AttemptResult reports what RecordAttempt did with a failed delivery.
type AttemptResult int

const (
	AttemptRecorded AttemptResult = iota
	AttemptAbandoned
	AttemptNotFound
)

func (r AttemptResult) String() string {
	switch r {
	case AttemptRecorded:
		return "recorded"
	case AttemptAbandoned:
		return "abandoned"
	case AttemptNotFound:
		return "not_found"
	}
	return "unknown"
}

// RetryOutcome is the result of a user-triggered retry-now.
type RetryOutcome int

const (
	RetryDelivered RetryOutcome = iota
	RetryFailed
	RetryNotFound
)

func (o RetryOutcome) String() string {
	switch o {
	case RetryDelivered:
		return "delivered"
	case RetryFailed:
		return "failed"
	case RetryNotFound:
		return "not_found"
	}
	return "unknown"
}

// FlushResult aggregates one flush pass. Abandoned counts the subset of
// Failed whose attempt exhausted the retry budget; Pruned counts expired
// items dropped by the pass's leading prune.
type FlushResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Pruned    int `json:"pruned"`
}
