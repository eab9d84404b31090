package eo

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/earthsight/earthsight/internal/cache"
	"github.com/earthsight/earthsight/internal/observability"
)

// ErrUnsupportedAnalysis is returned for operation names the compute
// service does not know.
var ErrUnsupportedAnalysis = fmt.Errorf("unsupported analysis operation")

// Result is the outcome of one analysis request.
type Result struct {
	Payload json.RawMessage
	Cached  bool
	Key     string
}

// Analyzer wraps the compute service with the result cache. It is the one
// place where cache failures collapse into plain misses: from here
// outward, "cache is down" and "nothing cached" are indistinguishable,
// and the slower compute path keeps the request alive.
type Analyzer struct {
	store   *cache.Store
	compute Compute
	logger  *observability.Logger
}

// NewAnalyzer creates an analyzer over the given store and compute client.
func NewAnalyzer(store *cache.Store, compute Compute, logger *observability.Logger) *Analyzer {
	return &Analyzer{store: store, compute: compute, logger: logger}
}

// Analyze returns the cached result for (op, params) or runs the remote
// computation and caches what comes back.
func (a *Analyzer) Analyze(ctx context.Context, op string, params map[string]any) (Result, error) {
	if !IsSupported(op) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedAnalysis, op)
	}

	cacheParams := make(map[string]any, len(params)+1)
	for k, v := range params {
		cacheParams[k] = v
	}
	cacheParams["analysis_type"] = op

	key, payload := a.lookup(ctx, cacheParams)
	if payload != nil {
		a.logger.WithRequestID(ctx).Info("cache hit", "analysis", op, "key", key)
		return Result{Payload: payload, Cached: true, Key: key}, nil
	}

	computed, err := a.compute.Analyze(ctx, op, params)
	if err != nil {
		return Result{}, err
	}

	if key != "" {
		if err := a.store.PutByKey(ctx, key, json.RawMessage(computed), 0); err != nil {
			a.logger.WithRequestID(ctx).Warn("failed to cache analysis result", "analysis", op, "error", err)
		}
	}

	return Result{Payload: computed, Cached: false, Key: key}, nil
}

// lookup derives the key and reads the store, converting every failure
// into a miss. An empty key means derivation itself failed and the write
// side should be skipped too.
func (a *Analyzer) lookup(ctx context.Context, cacheParams map[string]any) (string, json.RawMessage) {
	key, err := cache.DeriveKey(cacheParams)
	if err != nil {
		a.logger.WithRequestID(ctx).Warn("cache key derivation failed, bypassing cache", "error", err)
		return "", nil
	}

	payload, err := a.store.GetByKey(ctx, key)
	if err != nil {
		a.logger.WithRequestID(ctx).Warn("cache read failed, treating as miss", "key", key, "error", err)
		return key, nil
	}
	return key, payload
}
