package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, defaultTTL time.Duration) (*Tracker, *Store, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	policy := NewPolicy(true, defaultTTL)
	conn := NewConn(testConnConfig("redis://"+s.Addr()), discardLogger())
	t.Cleanup(func() { _ = conn.Close() })
	store := NewStore(conn, policy, discardLogger(), nil)
	return store.Tracker(), store, s
}

func TestTracker_Increment(t *testing.T) {
	tracker, store, _ := newTestTracker(t, time.Hour)
	ctx := context.Background()

	key, err := store.Put(ctx, "tracked", "v", 0)
	require.NoError(t, err)

	count, err := tracker.Increment(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	count, err = tracker.Increment(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestTracker_MissingKeyNoOp(t *testing.T) {
	tracker, _, _ := newTestTracker(t, time.Hour)

	count, err := tracker.Increment(context.Background(), "cache:gone")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestTracker_ExpiredBetweenReadAndIncrement(t *testing.T) {
	tracker, store, s := newTestTracker(t, time.Hour)
	ctx := context.Background()

	key, err := store.Put(ctx, "fleeting", "v", time.Second)
	require.NoError(t, err)

	s.FastForward(2 * time.Second)

	count, err := tracker.Increment(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestTracker_RewriteTTLSentinels(t *testing.T) {
	tracker, _, _ := newTestTracker(t, time.Hour)

	// The client reports a missing key as the unscaled sentinel -2
	// (2 nanoseconds negative, not 2 seconds): the increment must become
	// a no-op instead of resurrecting the entry with a fresh default TTL.
	_, ok := tracker.rewriteTTL(time.Duration(-2))
	assert.False(t, ok)

	// -2 scaled to seconds is not the sentinel and must not be treated
	// as a vanished key.
	ttl, ok := tracker.rewriteTTL(-2 * time.Second)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, ttl)

	// -1 means no expiry; the rewrite restores the policy default.
	ttl, ok = tracker.rewriteTTL(time.Duration(-1))
	assert.True(t, ok)
	assert.Equal(t, time.Hour, ttl)

	// A real remaining TTL shorter than the default is topped up, a
	// longer one is preserved.
	ttl, ok = tracker.rewriteTTL(time.Minute)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, ttl)
	ttl, ok = tracker.rewriteTTL(10 * time.Hour)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Hour, ttl)
}

func TestTracker_DoesNotResurrectMissingKey(t *testing.T) {
	tracker, store, s := newTestTracker(t, time.Hour)
	ctx := context.Background()

	key, err := store.Put(ctx, "vanishing", "v", time.Second)
	require.NoError(t, err)

	s.FastForward(2 * time.Second)

	count, err := tracker.Increment(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
	assert.False(t, s.Exists(key), "expired entry must stay gone")
}

func TestTracker_EntryWithoutExpiryGetsDefault(t *testing.T) {
	tracker, _, s := newTestTracker(t, time.Hour)
	ctx := context.Background()

	// A raw entry written without a TTL reports -1; the rewrite must
	// attach the policy default instead of leaving the key immortal.
	raw, err := json.Marshal(Entry{Data: json.RawMessage(`"v"`), CachedAt: 1, RequestCount: 1})
	require.NoError(t, err)
	require.NoError(t, s.Set("cache:immortal", string(raw)))

	count, err := tracker.Increment(ctx, "cache:immortal")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Equal(t, time.Hour, s.TTL("cache:immortal"))
}

func TestTracker_PreservesLongerTTL(t *testing.T) {
	// Entry TTL longer than the policy default must survive the rewrite.
	tracker, store, s := newTestTracker(t, time.Minute)
	ctx := context.Background()

	key, err := store.Put(ctx, "long-lived", "v", 10*time.Minute)
	require.NoError(t, err)

	_, err = tracker.Increment(ctx, key)
	require.NoError(t, err)

	ttl := s.TTL(key)
	assert.Greater(t, ttl, 5*time.Minute)
}

func TestTracker_ExtendsShorterTTL(t *testing.T) {
	// Remaining TTL shorter than the policy default is topped up.
	tracker, store, s := newTestTracker(t, time.Hour)
	ctx := context.Background()

	key, err := store.Put(ctx, "topped-up", "v", time.Minute)
	require.NoError(t, err)

	_, err = tracker.Increment(ctx, key)
	require.NoError(t, err)

	ttl := s.TTL(key)
	assert.Greater(t, ttl, 30*time.Minute)
}

func TestTracker_RewritePreservesPayload(t *testing.T) {
	tracker, store, _ := newTestTracker(t, time.Hour)
	ctx := context.Background()

	payload := map[string]any{"ndvi": 0.42, "tiles": []any{"a", "b"}}
	key, err := store.Put(ctx, "payload-check", payload, 0)
	require.NoError(t, err)

	_, err = tracker.Increment(ctx, key)
	require.NoError(t, err)

	// Bypass Get to avoid another increment.
	raw, err := store.GetByKey(ctx, key)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, payload, got)
}
