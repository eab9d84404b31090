package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == "" {
		t.Error("expected non-empty request ID")
	}
	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
	if len(id1) != 36 { // canonical UUID form
		t.Errorf("expected 36 char request ID, got %d", len(id1))
	}
}

func TestContextWithRequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-123"

	ctx = ContextWithRequestID(ctx, requestID)
	extracted := RequestIDFromContext(ctx)

	if extracted != requestID {
		t.Errorf("expected %q, got %q", requestID, extracted)
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if extracted := RequestIDFromContext(context.Background()); extracted != "" {
		t.Errorf("expected empty string, got %q", extracted)
	}
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var capturedID string

	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if capturedID == "" {
		t.Error("expected request ID in context")
	}

	responseID := rec.Header().Get(RequestIDHeader)
	if responseID == "" {
		t.Error("expected request ID in response header")
	}
	if responseID != capturedID {
		t.Error("response header should match context ID")
	}
}

func TestRequestIDMiddleware_PreservesExisting(t *testing.T) {
	existingID := "existing-request-id-123"
	var capturedID string

	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, existingID)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if capturedID != existingID {
		t.Errorf("expected preserved ID %q, got %q", existingID, capturedID)
	}
}

func TestRequestIDMiddleware_RejectsMalformed(t *testing.T) {
	var capturedID string

	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, "bad id with spaces\n")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if capturedID == "" || capturedID == "bad id with spaces\n" {
		t.Errorf("malformed client ID should be replaced, got %q", capturedID)
	}
}
