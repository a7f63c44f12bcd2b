package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/google/uuid"
)

func TestGetCorrelationID_FromContext(t *testing.T) {
	testID := "test-correlation-id-123"
	ctx := context.WithValue(context.Background(), CorrelationIDKey, testID)

	result := GetCorrelationID(ctx)
	if result != testID {
		t.Errorf("GetCorrelationID() = %q, want %q", result, testID)
	}
}

func TestGetCorrelationID_EmptyContext(t *testing.T) {
	ctx := context.Background()

	result := GetCorrelationID(ctx)
	if result != "" {
		t.Errorf("GetCorrelationID() = %q, want empty string", result)
	}
}

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var capturedID string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	// Should have generated a UUID
	if capturedID == "" {
		t.Error("Expected correlation ID to be generated")
	}

	// Verify it's a valid UUID
	if _, err := uuid.Parse(capturedID); err != nil {
		t.Errorf("Generated ID %q is not a valid UUID: %v", capturedID, err)
	}

	// Verify it's in the response header
	responseID := rec.Header().Get(CorrelationIDHeader)
	if responseID != capturedID {
		t.Errorf("Response header ID %q != captured ID %q", responseID, capturedID)
	}
}

func TestCorrelationIDMiddleware_PropagatesExistingID(t *testing.T) {
	existingID := "existing-correlation-id"
	var capturedID string

	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(CorrelationIDHeader, existingID)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	// Should use existing ID
	if capturedID != existingID {
		t.Errorf("Captured ID %q != expected %q", capturedID, existingID)
	}

	// Verify it's echoed in the response header
	responseID := rec.Header().Get(CorrelationIDHeader)
	if responseID != existingID {
		t.Errorf("Response header ID %q != expected %q", responseID, existingID)
	}
}

type observed struct {
	method, route string
	status        int
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observed
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observed{method, route, status})
}

func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		writeHeader bool
	}{
		{"ok status", http.StatusOK, true},
		{"bad request", http.StatusBadRequest, true},
		{"internal error", http.StatusInternalServerError, true},
		{"default status (no explicit write)", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.writeHeader {
					w.WriteHeader(tt.statusCode)
				}
			}), obs)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

			if rec.Code != tt.statusCode {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.statusCode)
			}
			if len(obs.seen) != 1 || obs.seen[0].status != tt.statusCode {
				t.Errorf("observed %+v, want one request with status %d", obs.seen, tt.statusCode)
			}
		})
	}
}

func TestLoggingMiddleware_ObservesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/exercises/{id}", func(w http.ResponseWriter, r *http.Request) {})

	obs := &recordingObserver{}
	handler := loggingMiddleware(mux, obs)

	for _, path := range []string{"/v1/exercises/two-sum", "/v1/exercises/jump-game", "/nope"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	want := []observed{
		{http.MethodGet, "GET /v1/exercises/{id}", http.StatusOK},
		{http.MethodGet, "GET /v1/exercises/{id}", http.StatusOK},
		{http.MethodGet, "unmatched", http.StatusNotFound},
	}
	if len(obs.seen) != len(want) {
		t.Fatalf("observed %d requests, want %d", len(obs.seen), len(want))
	}
	for i := range want {
		if obs.seen[i] != want[i] {
			t.Errorf("request %d observed as %+v, want %+v", i, obs.seen[i], want[i])
		}
	}
}

func TestLoggingMiddleware_NilObserver(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Body.String() != "body" {
		t.Errorf("Body = %q, want %q", rec.Body.String(), "body")
	}
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{
		Rate:     1,
		Burst:    1,
		Interval: time.Hour,
	})
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("10.0.0.1:5000"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec := send("10.0.0.1:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request from same host status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
	if rec := send("10.0.0.2:5000"); rec.Code != http.StatusOK {
		t.Errorf("other host status = %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		rateLimitMiddleware(inner, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.168.1.5:43210", "192.168.1.5"},
		{"[::1]:8080", "::1"},
		{"pipe", "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := clientKey(req); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestMiddlewareChain_WithPanic(t *testing.T) {
	var capturedCorrelationID string

	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCorrelationID = GetCorrelationID(r.Context())
		panic("simulated panic")
	})

	// Same order as New
	handler := recoveryMiddleware(correlationIDMiddleware(loggingMiddleware(innerHandler, nil)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if capturedCorrelationID == "" {
		t.Error("Correlation ID should have been generated before panic")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
