package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/earthsight/earthsight/internal/config"
	"github.com/earthsight/earthsight/internal/observability"
)

// authSkipPaths are reachable without a token even when auth is enabled.
var authSkipPaths = []string{"/health/live", "/health/ready", "/metrics"}

func buildMiddlewareStack(cfg *config.Config, logger *observability.Logger) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	var authMiddleware func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		authMiddleware = jwtMiddleware([]byte(cfg.Auth.JWTSecret), logger)
		logger.Info("JWT authentication middleware enabled")
	}

	accessLogger := logger.WithFields("component", "http")

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := next
		if authMiddleware != nil {
			handler = authMiddleware(handler)
		}
		handler = loggingMiddleware(accessLogger, handler)
		handler = observability.RequestIDMiddleware(handler)
		return handler
	}, nil
}

// jwtMiddleware validates HMAC-signed bearer tokens.
func jwtMiddleware(secret []byte, logger *observability.Logger) func(http.Handler) http.Handler {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range authSkipPaths {
				if r.URL.Path == skip {
					next.ServeHTTP(w, r)
					return
				}
			}

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			token, err := jwt.Parse(raw, keyFunc, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
			if err != nil || !token.Valid {
				logger.WithRequestID(r.Context()).Warn("rejected token", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.WithRequestID(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
