package eo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthsight/earthsight/internal/cache"
	"github.com/earthsight/earthsight/internal/observability"
)

type fakeCompute struct {
	calls  int
	result json.RawMessage
	err    error
}

func (f *fakeCompute) Analyze(_ context.Context, _ string, _ map[string]any) (json.RawMessage, error) {
	f.calls++
	return f.result, f.err
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LoggerConfig{
		Level:  slog.LevelError,
		Output: io.Discard,
	}, nil)
}

func newAnalyzerStore(t *testing.T, url string) (*cache.Store, *cache.Policy) {
	t.Helper()
	policy := cache.NewPolicy(true, time.Hour)
	cfg := cache.DefaultConnConfig()
	cfg.URL = url
	cfg.RetryBase = 10 * time.Millisecond
	cfg.DialTimeout = 500 * time.Millisecond
	conn := cache.NewConn(cfg, testLogger())
	t.Cleanup(func() { _ = conn.Close() })
	return cache.NewStore(conn, policy, testLogger(), nil), policy
}

func TestAnalyzer_MissComputesAndCaches(t *testing.T) {
	s := miniredis.RunT(t)
	store, _ := newAnalyzerStore(t, "redis://"+s.Addr())
	compute := &fakeCompute{result: json.RawMessage(`{"ndvi":0.42}`)}
	analyzer := NewAnalyzer(store, compute, testLogger())

	params := map[string]any{"region": "X", "scale": 30}

	res, err := analyzer.Analyze(context.Background(), OpNDVI, params)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.JSONEq(t, `{"ndvi":0.42}`, string(res.Payload))
	assert.Equal(t, 1, compute.calls)

	// Second call with reordered params is a hit; compute is not touched.
	res, err = analyzer.Analyze(context.Background(), OpNDVI, map[string]any{"scale": 30, "region": "X"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.JSONEq(t, `{"ndvi":0.42}`, string(res.Payload))
	assert.Equal(t, 1, compute.calls)
}

func TestAnalyzer_OperationIsPartOfKey(t *testing.T) {
	s := miniredis.RunT(t)
	store, _ := newAnalyzerStore(t, "redis://"+s.Addr())
	compute := &fakeCompute{result: json.RawMessage(`{"v":1}`)}
	analyzer := NewAnalyzer(store, compute, testLogger())

	params := map[string]any{"region": "X"}

	_, err := analyzer.Analyze(context.Background(), OpNDVI, params)
	require.NoError(t, err)
	res, err := analyzer.Analyze(context.Background(), OpEVI, params)
	require.NoError(t, err)

	assert.False(t, res.Cached, "same params under a different operation must not collide")
	assert.Equal(t, 2, compute.calls)
}

func TestAnalyzer_UnsupportedOperation(t *testing.T) {
	s := miniredis.RunT(t)
	store, _ := newAnalyzerStore(t, "redis://"+s.Addr())
	analyzer := NewAnalyzer(store, &fakeCompute{}, testLogger())

	_, err := analyzer.Analyze(context.Background(), "orbital_lasers", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedAnalysis)
}

func TestAnalyzer_ComputeFailurePropagates(t *testing.T) {
	s := miniredis.RunT(t)
	store, _ := newAnalyzerStore(t, "redis://"+s.Addr())
	computeErr := errors.New("quota exceeded")
	analyzer := NewAnalyzer(store, &fakeCompute{err: computeErr}, testLogger())

	_, err := analyzer.Analyze(context.Background(), OpSlope, map[string]any{"region": "X"})
	assert.ErrorIs(t, err, computeErr)
}

func TestAnalyzer_CacheDownDegradesToCompute(t *testing.T) {
	// Store address with nothing listening: every cache call fails, yet
	// the analysis still succeeds through the compute path.
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	store, _ := newAnalyzerStore(t, "redis://"+addr)
	compute := &fakeCompute{result: json.RawMessage(`{"v":1}`)}
	analyzer := NewAnalyzer(store, compute, testLogger())

	res, err := analyzer.Analyze(context.Background(), OpNDVI, map[string]any{"region": "X"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.JSONEq(t, `{"v":1}`, string(res.Payload))
	assert.Equal(t, 1, compute.calls)
}

func TestAnalyzer_DisabledCacheAlwaysComputes(t *testing.T) {
	s := miniredis.RunT(t)
	store, policy := newAnalyzerStore(t, "redis://"+s.Addr())
	policy.Disable()

	compute := &fakeCompute{result: json.RawMessage(`{"v":1}`)}
	analyzer := NewAnalyzer(store, compute, testLogger())

	for i := 0; i < 3; i++ {
		res, err := analyzer.Analyze(context.Background(), OpNDVI, map[string]any{"region": "X"})
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.Equal(t, 3, compute.calls)
}
