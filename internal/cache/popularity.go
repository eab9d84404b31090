package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/earthsight/earthsight/internal/observability"
	cacheerr "github.com/earthsight/earthsight/pkg/errors"
)

// Tracker maintains the advisory request_count on cache entries. The
// increment is a read-modify-write without a transaction: two concurrent
// hits can race and lose one count. That is accepted — the counter is
// usage telemetry, not a correctness-critical value — and callers must
// not start depending on exactness.
type Tracker struct {
	conn   *Conn
	policy *Policy
	logger *observability.Logger
}

// NewTracker creates a popularity tracker.
func NewTracker(conn *Conn, policy *Policy, logger *observability.Logger) *Tracker {
	return &Tracker{conn: conn, policy: policy, logger: logger}
}

// Increment bumps the request counter of an existing entry, preserving its
// remaining TTL (extended to at least the policy default when shorter).
// A key that expired or was deleted since the triggering read is a no-op:
// (0, nil).
func (t *Tracker) Increment(ctx context.Context, key string) (int64, error) {
	client, err := t.conn.Client(ctx)
	if err != nil {
		return 0, err
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, cacheerr.NewStoreError("increment", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return 0, cacheerr.NewSerializationError("increment", key, err)
	}
	entry.RequestCount++

	remaining, err := client.TTL(ctx, key).Result()
	if err != nil {
		return 0, cacheerr.NewStoreError("increment", key, err)
	}
	ttl, ok := t.rewriteTTL(remaining)
	if !ok {
		return 0, nil
	}

	buf, err := json.Marshal(entry)
	if err != nil {
		return 0, cacheerr.NewSerializationError("increment", key, err)
	}
	// SetXX refuses to create the key, so an entry that expires after the
	// TTL check above is not resurrected with stale data.
	written, err := client.SetXX(ctx, key, buf, ttl).Result()
	if err != nil {
		return 0, cacheerr.NewStoreError("increment", key, err)
	}
	if !written {
		return 0, nil
	}

	t.logger.Debug("incremented request count", "key", key, "count", entry.RequestCount)
	return entry.RequestCount, nil
}

// rewriteTTL maps a TTL reply onto the expiration for the rewrite. The
// client reports a missing key as the bare sentinel -2 (not scaled to its
// precision) and a key without expiry as -1; a missing key means the entry
// vanished mid-increment and the rewrite must not happen.
func (t *Tracker) rewriteTTL(remaining time.Duration) (time.Duration, bool) {
	switch remaining {
	case -2:
		return 0, false
	case -1:
		// Entries written by this store always carry an expiry; restore
		// the default rather than leaving the key immortal.
		remaining = t.policy.TTL()
	}
	if remaining < t.policy.TTL() {
		remaining = t.policy.TTL()
	}
	return remaining, true
}
