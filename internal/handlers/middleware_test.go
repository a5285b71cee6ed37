package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"finitefield.org/storefront/internal/platform/requestctx"
)

func TestTrustedIdentityMiddleware(t *testing.T) {
	var got requestctx.Identity
	var present bool
	handler := TrustedIdentityMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, present = requestctx.IdentityFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Storefront-User-Id", " user-1 ")
	req.Header.Set("X-Storefront-User-Email", "ada@example.com")
	req.Header.Set("X-Storefront-User-Name", strings.Repeat("a", 300))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !present || got.UserID != "user-1" || got.Email != "ada@example.com" {
		t.Fatalf("unexpected identity: %+v (present=%v)", got, present)
	}
	if len(got.Name) != maxIdentityHeaderLength {
		t.Fatalf("expected name truncated, got %d chars", len(got.Name))
	}

	present = false
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if present {
		t.Fatalf("expected anonymous request to carry no identity")
	}
}

func TestTrustedIdentityMiddlewareCustomHeader(t *testing.T) {
	var got requestctx.Identity
	handler := TrustedIdentityMiddleware("X-Auth-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.IdentityFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Auth-Id", "u-9")
	req.Header.Set("X-Auth-Phone", "+2348000000000")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.UserID != "u-9" || got.Phone != "+2348000000000" {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

type recordedRequest struct {
	method string
	route  string
	status int
}

type requestRecorderStub struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *requestRecorderStub) ObserveRequest(method, route string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedRequest{method: method, route: route, status: status})
}

func TestRequestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	recorder := &requestRecorderStub{}
	r := chi.NewRouter()
	r.Use(RequestMetricsMiddleware(recorder))
	r.Get("/lines/{lineID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/plain", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/lines/abc", "/lines/def", "/plain"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if len(recorder.requests) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(recorder.requests))
	}
	if recorder.requests[0].route != "/lines/{lineID}" || recorder.requests[1].route != "/lines/{lineID}" {
		t.Fatalf("expected route pattern label, got %+v", recorder.requests)
	}
	if recorder.requests[0].status != http.StatusAccepted || recorder.requests[2].status != http.StatusOK {
		t.Fatalf("unexpected statuses: %+v", recorder.requests)
	}
}

func TestRequestMetricsMiddlewareNilRecorder(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rr := httptest.NewRecorder()
	RequestMetricsMiddleware(nil)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected passthrough, got %d", rr.Code)
	}
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "test", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)
	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "1.2.3" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyzDegradesOnFailingCheck(t *testing.T) {
	h := NewHealthHandlers(
		WithHealthCheck("kv", func(ctx context.Context) error { return nil }),
		WithHealthCheck("backend", func(ctx context.Context) error { return errors.New("connection refused") }),
	)
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	var body struct {
		Status  string                    `json:"status"`
		Checks  map[string]readinessCheck `json:"checks"`
		Details []string                  `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["kv"].Status != "ok" || body.Checks["backend"].Error != "connection refused" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.Details) != 1 || body.Details[0] != "backend: connection refused" {
		t.Fatalf("unexpected details: %v", body.Details)
	}
}

func TestReadyzBoundsSlowChecks(t *testing.T) {
	h := NewHealthHandlers(WithHealthCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h.checkTimeout = 10 * time.Millisecond

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for timed out probe, got %d", rr.Code)
	}
}

func TestDecodeBodyRejectsOversizedAndMalformed(t *testing.T) {
	var dst map[string]any
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	if decodeBody(rr, req, &dst) || rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"`+strings.Repeat("x", maxRequestBodySize)+`"}`))
	if decodeBody(rr, req, &dst) || rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if decodeBody(rr, req, &dst) || rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
}

func TestSessionScopeRequired(t *testing.T) {
	rr := httptest.NewRecorder()
	if _, ok := sessionScope(context.Background(), rr); ok || rr.Code != http.StatusBadRequest {
		t.Fatalf("expected session_required, got %d", rr.Code)
	}
	ctx := requestctx.WithSessionScope(context.Background(), "sess-1")
	if scope, ok := sessionScope(ctx, httptest.NewRecorder()); !ok || scope != "sess-1" {
		t.Fatalf("unexpected scope %q", scope)
	}
}
