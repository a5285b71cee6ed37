package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"finitefield.org/storefront/internal/platform/requestctx"
)

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected body: %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic logged on fallback logger")
	}
}

func TestRequestLoggerMiddlewareLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	statuses := []int{http.StatusOK, http.StatusConflict, http.StatusServiceUnavailable}
	for _, status := range statuses {
		status := status
		handler := InjectLoggerMiddleware(base)(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payments", nil)
		req = req.WithContext(requestctx.WithSessionScope(req.Context(), "sess-1"))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.FilterMessage("request completed").AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], entry.Level)
		}
		if entry.ContextMap()["session"] != "sess-1" {
			t.Fatalf("expected session field, got %v", entry.ContextMap())
		}
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := NewEventLogger(zap.New(core), "payment")

	logEvent(context.Background(), "payment.attempt.created", map[string]any{"attemptId": "att-1"})
	logEvent(context.Background(), "payment.gateway.open.failed", nil)
	logEvent(context.Background(), "cart.snapshot.corrupt", nil)

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].LoggerName != "payment" || entries[0].ContextMap()["attemptId"] != "att-1" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[2].Level != zapcore.WarnLevel {
		t.Fatalf("expected failure events at warn level")
	}
}

func TestTraceMiddlewareContinuesCloudTrace(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("sf-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(cloudTraceHeader, "4bf92f3577b34da6a3ce929d0e0e4736/1;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" || info.ProjectID != "sf-prod" {
		t.Fatalf("unexpected trace info: %+v", info)
	}
	if rr.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected trace header echoed")
	}
}

func TestParseCloudTraceContextRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "short/1", "4bf92f3577b34da6a3ce929d0e0e4736/0", "4bf92f3577b34da6a3ce929d0e0e4736/x"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q rejected", header)
		}
	}
}
