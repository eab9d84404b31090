package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earthsight/earthsight/internal/config"
)

type apiHandler interface {
	HealthCheck(http.ResponseWriter, *http.Request)
	Analyze(http.ResponseWriter, *http.Request)
	Export(http.ResponseWriter, *http.Request)
	Operations(http.ResponseWriter, *http.Request)
	CacheStats(http.ResponseWriter, *http.Request)
	CacheInvalidate(http.ResponseWriter, *http.Request)
	CacheInvalidatePattern(http.ResponseWriter, *http.Request)
	CacheCleanup(http.ResponseWriter, *http.Request)
}

var errNilConfig = errors.New("config is required")

func buildMux(cfg *config.Config, handler apiHandler, registry *prometheus.Registry) (*http.ServeMux, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health/live", handler.HealthCheck)
	mux.HandleFunc("GET /health/ready", handler.HealthCheck)

	// Analysis endpoints
	mux.HandleFunc("GET /eo/operations", handler.Operations)
	mux.HandleFunc("POST /eo/export", handler.Export)
	mux.HandleFunc("POST /eo/{analysis}", handler.Analyze)

	// Cache administration
	mux.HandleFunc("GET /cache/stats", handler.CacheStats)
	mux.HandleFunc("POST /cache/cleanup", handler.CacheCleanup)
	mux.HandleFunc("DELETE /cache/{key}", handler.CacheInvalidate)
	mux.HandleFunc("DELETE /cache", handler.CacheInvalidatePattern)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return mux, nil
}
