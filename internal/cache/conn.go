package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/earthsight/earthsight/internal/observability"
	cacheerr "github.com/earthsight/earthsight/pkg/errors"
)

// ConnConfig holds connection settings for the backing store.
type ConnConfig struct {
	// URL is a redis:// connection string. Required.
	URL string `yaml:"url"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxAttempts is the number of connect attempts before giving up.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBase is the first backoff delay; it doubles each attempt.
	RetryBase time.Duration `yaml:"retry_base"`
}

// DefaultConnConfig returns sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  3,
		RetryBase:    time.Second,
	}
}

// Conn lazily establishes a client to the backing store and hands the same
// client to every caller afterwards. A failed init leaves the Conn clean,
// so the next caller retries from scratch rather than inheriting a
// poisoned handle.
type Conn struct {
	cfg    ConnConfig
	logger *observability.Logger

	// ready is the lock-free fast path; mu serializes initialization.
	ready  atomic.Pointer[clientBox]
	mu     sync.Mutex
	client goredis.UniversalClient
}

type clientBox struct {
	client goredis.UniversalClient
}

// NewConn creates a connection manager. No I/O happens until the first
// Client call.
func NewConn(cfg ConnConfig, logger *observability.Logger) *Conn {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Conn{cfg: cfg, logger: logger}
}

// Client returns the shared store client, dialing on first use. Transient
// connect failures are retried with exponential backoff before a typed
// connection error is surfaced. A missing URL is a configuration error and
// is never retried.
func (c *Conn) Client(ctx context.Context) (goredis.UniversalClient, error) {
	if box := c.ready.Load(); box != nil {
		return box.client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if c.cfg.URL == "" {
		return nil, cacheerr.NewConfigurationError("connect", "cache store URL not set")
	}

	opts, err := goredis.ParseURL(c.cfg.URL)
	if err != nil {
		return nil, cacheerr.NewConfigurationError("connect", fmt.Sprintf("invalid cache store URL: %v", err))
	}
	opts.DialTimeout = c.cfg.DialTimeout
	opts.ReadTimeout = c.cfg.ReadTimeout
	opts.WriteTimeout = c.cfg.WriteTimeout

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		c.logger.Info("connecting to cache store",
			"addr", observability.RedactURL(c.cfg.URL),
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
		)

		client := goredis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			c.logger.Info("connected to cache store")
			c.client = client
			c.ready.Store(&clientBox{client: client})
			return client, nil
		}

		_ = client.Close()
		lastErr = err
		// Dial errors can echo the credentialed URL.
		c.logger.RedactedWarn("cache store connection attempt failed", "attempt", attempt, "error", err)

		if attempt < c.cfg.MaxAttempts {
			wait := c.cfg.RetryBase << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, cacheerr.NewConnectionError("connect", ctx.Err())
			}
		}
	}

	c.logger.RedactedError("giving up on cache store connection", "attempts", c.cfg.MaxAttempts, "error", lastErr)
	return nil, cacheerr.NewConnectionError("connect",
		fmt.Errorf("failed to connect after %d attempts: %w", c.cfg.MaxAttempts, lastErr))
}

// Close releases the underlying client, if one was ever established.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.ready.Store(nil)
	return err
}
