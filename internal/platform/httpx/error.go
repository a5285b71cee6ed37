// Package httpx writes the storefront's JSON responses and error envelope.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxTraceLength   = 64
)

// Notice is the shopper-facing message attached to every API response.
type Notice struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is an API failure. Code is machine readable; Message is safe to show.
type Error struct {
	Code    string
	Message string
	Status  int
	Notice  *Notice
	Details map[string]any
}

// NewError returns an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

// WithDetails merges extra top-level fields into the envelope. Reserved keys are never
// overwritten.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithNotice replaces the derived notice.
func (e Error) WithNotice(level, message string) Error {
	e.Notice = &Notice{Level: level, Code: e.Code, Message: clip(message, maxMessageLength)}
	return e
}

func (e Error) notice() Notice {
	if e.Notice != nil {
		return *e.Notice
	}
	level := "warning"
	if e.Status >= http.StatusInternalServerError {
		level = "error"
	}
	return Notice{Level: level, Code: e.Code, Message: e.Message}
}

// WriteError writes err as {error, message, status, notice, requestId?, traceId?, ...details}.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	body := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  err.Status,
		"notice":  err.notice(),
	}
	if id := clip(middleware.GetReqID(ctx), maxCodeLength); id != "" {
		body["requestId"] = id
	}
	if trace := clip(requestctx.TraceID(ctx), maxTraceLength); trace != "" {
		body["traceId"] = trace
	}
	for k, v := range err.Details {
		if _, reserved := body[k]; !reserved {
			body[k] = v
		}
	}
	WriteJSON(w, err.Status, body)
}

// WriteJSON encodes payload with status. Responses are never cached; they carry session state.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
