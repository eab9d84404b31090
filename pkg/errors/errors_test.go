package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCacheErrorMessage(t *testing.T) {
	t.Run("with key", func(t *testing.T) {
		err := NewStoreError("get", "cache:abc123", errors.New("connection reset"))
		msg := err.Error()

		contains := []string{"store_error", "get", "connection reset", "cache:abc123"}
		for _, s := range contains {
			if !strings.Contains(msg, s) {
				t.Errorf("error message should contain %q, got %q", s, msg)
			}
		}
	})

	t.Run("without key", func(t *testing.T) {
		err := NewConfigurationError("dial", "redis URL not set")
		msg := err.Error()

		if !strings.Contains(msg, "configuration_error") || !strings.Contains(msg, "redis URL not set") {
			t.Errorf("unexpected message %q", msg)
		}
		if strings.Contains(msg, "key=") {
			t.Errorf("message should not mention a key, got %q", msg)
		}
	})
}

func TestCacheErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewConnectionError("dial", fmt.Errorf("attempt 3: %w", cause))

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through the wrapped cause")
	}
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType string
		want    bool
	}{
		{"matching type", NewSerializationError("put", "k", errors.New("bad json")), TypeSerialization, true},
		{"different type", NewStoreError("del", "k", errors.New("x")), TypeSerialization, false},
		{"wrapped cache error", fmt.Errorf("outer: %w", NewConnectionError("ping", errors.New("x"))), TypeConnection, true},
		{"plain error", errors.New("plain"), TypeStore, false},
		{"nil", nil, TypeStore, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(NewConfigurationError("dial", "missing URL")) {
		t.Error("configuration errors are fatal")
	}
	if IsFatal(NewConnectionError("dial", errors.New("refused"))) {
		t.Error("connection errors degrade, they are not fatal")
	}
	if IsFatal(NewFilesystemError("sweep", "/tmp/x", errors.New("perm"))) {
		t.Error("filesystem errors degrade, they are not fatal")
	}
}

func TestRetryableFlags(t *testing.T) {
	if !NewConnectionError("dial", errors.New("x")).Retryable {
		t.Error("connection errors are retryable")
	}
	if !NewStoreError("get", "k", errors.New("x")).Retryable {
		t.Error("store errors are retryable")
	}
	if NewSerializationError("put", "k", errors.New("x")).Retryable {
		t.Error("serialization errors are not retryable")
	}
	if NewConfigurationError("dial", "x").Retryable {
		t.Error("configuration errors are not retryable")
	}
}
