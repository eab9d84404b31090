package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/earthsight/earthsight/internal/observability"
	cacheerr "github.com/earthsight/earthsight/pkg/errors"
)

// Entry is the serialized wire format of one cached result. The shape is
// load-bearing: consumers on either side of the store must read and write
// exactly these three fields.
type Entry struct {
	Data         json.RawMessage `json:"data"`
	CachedAt     float64         `json:"cached_at"`
	RequestCount int64           `json:"request_count"`
}

// Stats is a best-effort snapshot of store usage.
type Stats struct {
	TotalKeys  int64 `json:"total_keys"`
	MemoryUsed int64 `json:"memory_used_bytes"`
	Uptime     int64 `json:"uptime_seconds"`
	Enabled    bool  `json:"enabled"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

// Store is the keyed entry store. Methods return typed errors from
// pkg/errors; the orchestration layer is the one place where those
// collapse into plain misses.
type Store struct {
	conn    *Conn
	policy  *Policy
	tracker *Tracker
	logger  *observability.Logger
	metrics *Metrics
}

// NewStore creates an entry store over the given connection and policy.
// metrics may be nil.
func NewStore(conn *Conn, policy *Policy, logger *observability.Logger, metrics *Metrics) *Store {
	return &Store{
		conn:    conn,
		policy:  policy,
		tracker: NewTracker(conn, policy, logger),
		logger:  logger,
		metrics: metrics,
	}
}

// Tracker exposes the store's popularity tracker.
func (s *Store) Tracker() *Tracker {
	return s.tracker
}

// Get derives a key from params and returns the cached payload, or
// (nil, nil) on a miss. A hit bumps the entry's popularity counter.
func (s *Store) Get(ctx context.Context, params any) (json.RawMessage, error) {
	if !s.policy.Enabled() {
		return nil, nil
	}
	key, err := DeriveKey(params)
	if err != nil {
		return nil, err
	}
	return s.GetByKey(ctx, key)
}

// GetByKey fetches a payload under a pre-derived key. Only the data field
// is returned; entry metadata stays internal to the store.
func (s *Store) GetByKey(ctx context.Context, key string) (json.RawMessage, error) {
	if !s.policy.Enabled() {
		return nil, nil
	}

	client, err := s.conn.Client(ctx)
	if err != nil {
		s.metrics.failure()
		return nil, err
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			s.metrics.miss()
			return nil, nil
		}
		s.metrics.failure()
		return nil, cacheerr.NewStoreError("get", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.metrics.failure()
		return nil, cacheerr.NewSerializationError("get", key, err)
	}

	s.metrics.hit()

	// Advisory counter; a failed bump never turns a hit into an error.
	if _, err := s.tracker.Increment(ctx, key); err != nil {
		s.logger.Warn("popularity increment failed", "key", key, "error", err)
	}

	return entry.Data, nil
}

// Put derives a key from params, wraps payload in a fresh entry and writes
// it with the given TTL (policy default when ttl <= 0). The derived key is
// returned so callers can re-fetch without re-deriving. With caching
// disabled the write is skipped but still reports success.
func (s *Store) Put(ctx context.Context, params, payload any, ttl time.Duration) (string, error) {
	key, err := DeriveKey(params)
	if err != nil {
		return "", err
	}
	if err := s.PutByKey(ctx, key, payload, ttl); err != nil {
		return "", err
	}
	return key, nil
}

// PutByKey writes payload under a pre-derived key.
func (s *Store) PutByKey(ctx context.Context, key string, payload any, ttl time.Duration) error {
	if !s.policy.Enabled() {
		return nil
	}

	// Validate serializability at the write boundary rather than letting
	// a bad payload surface on read.
	data, err := json.Marshal(payload)
	if err != nil {
		return cacheerr.NewSerializationError("put", key, err)
	}

	entry := Entry{
		Data:         data,
		CachedAt:     float64(time.Now().UnixNano()) / float64(time.Second),
		RequestCount: 1,
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return cacheerr.NewSerializationError("put", key, err)
	}

	client, err := s.conn.Client(ctx)
	if err != nil {
		s.metrics.failure()
		return err
	}

	if ttl <= 0 {
		ttl = s.policy.TTL()
	}
	if err := client.Set(ctx, key, buf, ttl).Err(); err != nil {
		s.metrics.failure()
		return cacheerr.NewStoreError("put", key, err)
	}

	s.metrics.set()
	s.logger.Debug("stored cache entry", "key", key, "ttl", ttl)
	return nil
}

// Invalidate deletes one entry. The delete is idempotent: a key that was
// already gone still counts as success.
func (s *Store) Invalidate(ctx context.Context, key string) (bool, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		s.metrics.failure()
		return false, err
	}

	n, err := client.Del(ctx, key).Result()
	if err != nil {
		s.metrics.failure()
		return false, cacheerr.NewStoreError("invalidate", key, err)
	}

	s.metrics.invalidation(int(n))
	return true, nil
}

// InvalidateByPattern deletes every key matching a glob-style pattern and
// returns the number removed.
func (s *Store) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		s.metrics.failure()
		return 0, err
	}

	var keys []string
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.metrics.failure()
		return 0, cacheerr.NewStoreError("invalidate_pattern", pattern, err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	n, err := client.Del(ctx, keys...).Result()
	if err != nil {
		s.metrics.failure()
		return 0, cacheerr.NewStoreError("invalidate_pattern", pattern, err)
	}

	s.metrics.invalidation(int(n))
	s.logger.Info("invalidated cache entries", "pattern", pattern, "count", n)
	return int(n), nil
}

// Stats reports store usage. Key count comes from a prefix scan; memory
// and uptime are parsed from INFO when the server provides them and stay
// zero otherwise.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Enabled:    s.policy.Enabled(),
		TTLSeconds: int64(s.policy.TTL() / time.Second),
	}

	client, err := s.conn.Client(ctx)
	if err != nil {
		return stats, err
	}

	iter := client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		stats.TotalKeys++
	}
	if err := iter.Err(); err != nil {
		return stats, cacheerr.NewStoreError("stats", "", err)
	}

	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		stats.MemoryUsed = parseInfoInt(info, "used_memory")
	}
	if info, err := client.Info(ctx, "server").Result(); err == nil {
		stats.Uptime = parseInfoInt(info, "uptime_in_seconds")
	}

	return stats, nil
}

func parseInfoInt(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, field+":"); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err == nil {
				return n
			}
		}
	}
	return 0
}
