// Package main is the entry point for the earthsight analysis server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/earthsight/earthsight/internal/cache"
	"github.com/earthsight/earthsight/internal/config"
	"github.com/earthsight/earthsight/internal/eo"
	"github.com/earthsight/earthsight/internal/export"
	"github.com/earthsight/earthsight/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap logger; replaced once config is loaded.
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel("info"),
		Output:     os.Stdout,
		JSONFormat: true,
	}, observability.NewRedactor())

	var (
		cfg        *config.Config
		cfgManager *config.Manager
	)
	if *configPath != "" {
		mgr, err := config.NewManager(*configPath, logger.Slog())
		if err != nil {
			logger.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
		cfgManager = mgr
		cfg = mgr.Get()
	} else {
		loaded, err := config.Load("")
		if err != nil {
			logger.Error("failed to build configuration", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger = observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor())

	logger.Info("starting earthsight server", "version", "0.1.0")

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	cacheMetrics := cache.NewMetrics(registry)

	// Result cache
	conn := cache.NewConn(cache.ConnConfig{
		URL:          cfg.Cache.RedisURL,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		MaxAttempts:  cfg.Cache.MaxAttempts,
		RetryBase:    cfg.Cache.RetryBase,
	}, logger)
	defer conn.Close()

	if cfg.Cache.RedisURL != "" {
		logger.RedactedInfo("cache store configured", "url", cfg.Cache.RedisURL)
	}

	policy := cache.NewPolicy(cfg.Cache.Enabled, cfg.Cache.TTL)
	store := cache.NewStore(conn, policy, logger, cacheMetrics)

	// Artifact cache
	files := cache.NewFileCache(cfg.FileCache.Dir, policy, logger, cacheMetrics)
	if err := files.EnsureDir(); err != nil {
		logger.Error("failed to create artifact cache directory", "error", err)
		os.Exit(1)
	}

	// Compute client and analyzer
	computeClient := eo.NewClient(eo.ClientConfig{
		BaseURL:      cfg.Compute.BaseURL,
		ClientID:     cfg.Compute.ClientID,
		ClientSecret: cfg.Compute.ClientSecret,
		Timeout:      cfg.Compute.Timeout,
		RateLimit:    cfg.Compute.RateLimit,
		RateBurst:    cfg.Compute.RateBurst,
	}, logger)
	analyzer := eo.NewAnalyzer(store, computeClient, logger)

	// Export pipeline, only when a results bucket is configured
	var exporter *export.Exporter
	if cfg.Export.Bucket != "" {
		objects, err := export.NewS3Store(ctx, export.S3Config{
			Region:       cfg.Export.Region,
			Endpoint:     cfg.Export.Endpoint,
			AccessKey:    cfg.Export.AccessKey,
			SecretKey:    cfg.Export.SecretKey,
			UsePathStyle: cfg.Export.UsePathStyle,
		})
		if err != nil {
			logger.Error("failed to create object store client", "error", err)
			os.Exit(1)
		}
		exporter = export.NewExporter(files, objects, logger)
		logger.Info("export pipeline enabled", "bucket", cfg.Export.Bucket)
	}

	// Hot-reload: cache policy changes apply without a restart.
	if cfgManager != nil {
		cfgManager.OnChange(func(newCfg *config.Config) {
			if newCfg.Cache.Enabled {
				policy.Enable()
			} else {
				policy.Disable()
			}
			policy.SetTTL(newCfg.Cache.TTL)
			logger.Info("cache policy updated",
				"enabled", newCfg.Cache.Enabled,
				"ttl", newCfg.Cache.TTL,
			)
		})
		if err := cfgManager.Watch(ctx); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
		defer cfgManager.Close()
	}

	// Background sweep of stale artifacts
	if cfg.FileCache.SweepInterval > 0 {
		go sweepLoop(ctx, files, cfg.FileCache.MaxAge, cfg.FileCache.SweepInterval, logger)
	}

	var handler apiHandler = NewHandler(analyzer, store, files, exporterOrNil(exporter), cfg.Export.Bucket, cfg.FileCache.MaxAge, logger)

	mux, err := buildMux(cfg, handler, registry)
	if err != nil {
		logger.Error("failed to build routes", "error", err)
		os.Exit(1)
	}

	middleware, err := buildMiddlewareStack(cfg, logger)
	if err != nil {
		logger.Error("failed to build middleware", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// exporterOrNil keeps the handler's nil check honest: a typed nil pointer
// inside an interface is not nil.
func exporterOrNil(e *export.Exporter) artifactFetcher {
	if e == nil {
		return nil
	}
	return e
}

// sweepLoop periodically evicts artifacts older than maxAge.
func sweepLoop(ctx context.Context, files *cache.FileCache, maxAge, interval time.Duration, logger *observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := files.EvictOlderThan(maxAge)
			if err != nil {
				logger.Warn("artifact sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("artifact sweep complete", "removed", removed)
			}
		}
	}
}
