package eo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/earthsight/earthsight/internal/observability"
)

// Compute is the remote analysis service boundary.
type Compute interface {
	Analyze(ctx context.Context, op string, params map[string]any) (json.RawMessage, error)
}

// ClientConfig holds settings for the compute service client.
type ClientConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second
	RateBurst    int           `yaml:"rate_burst"`
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:   "http://localhost:9090",
		Timeout:   60 * time.Second,
		RateLimit: 5,
		RateBurst: 10,
	}
}

const tokenCacheKey = "bearer_token"

// Client is the HTTP pass-through to the compute service. Outbound calls
// are rate limited and authenticated with a short-lived bearer token that
// is cached until shortly before expiry.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *gocache.Cache
	logger     *observability.Logger
}

// NewClient creates a compute service client.
func NewClient(cfg ClientConfig, logger *observability.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		tokens:     gocache.New(gocache.NoExpiration, 5*time.Minute),
		logger:     logger,
	}
}

// Analyze runs one analysis operation remotely and returns the raw JSON
// result.
func (c *Client) Analyze(ctx context.Context, op string, params map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode analysis params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/analyses/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if c.cfg.ClientID != "" {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compute service call: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read compute response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("compute service returned %d for %s: %s", resp.StatusCode, op, truncate(payload, 256))
	}

	return payload, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token returns a cached bearer token, fetching a fresh one from the
// compute service when the cached copy is gone or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	if cached, ok := c.tokens.Get(tokenCacheKey); ok {
		return cached.(string), nil
	}

	creds, err := json.Marshal(map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/auth/token", bytes.NewReader(creds))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	// A missing or zero expires_in would otherwise cache the token
	// forever; use it once instead.
	if tr.ExpiresIn > 0 {
		ttl := time.Duration(tr.ExpiresIn) * time.Second
		if ttl > time.Minute {
			// Refresh a little early rather than racing the expiry.
			ttl -= 30 * time.Second
		}
		c.tokens.Set(tokenCacheKey, tr.AccessToken, ttl)
	}
	c.logger.Debug("refreshed compute service token", "expires_in", tr.ExpiresIn)

	return tr.AccessToken, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
