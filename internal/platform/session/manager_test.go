package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finitefield.org/storefront/internal/platform/requestctx"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, clock *fixedClock) *Manager {
	t.Helper()
	mgr, err := NewManager(Config{
		HashKey: []byte(strings.Repeat("k", 32)),
		MaxAge:  time.Hour,
		Now:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func TestNewManagerValidatesKeys(t *testing.T) {
	if _, err := NewManager(Config{HashKey: []byte("short")}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config for short hash key, got %v", err)
	}
	if _, err := NewManager(Config{HashKey: []byte(strings.Repeat("k", 32)), BlockKey: []byte("bad")}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config for block key, got %v", err)
	}
}

func TestMiddlewareIssuesAndReusesSession(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	mgr := newTestManager(t, clock)

	var scopes []string
	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scopes = append(scopes, requestctx.SessionScope(r.Context()))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/cart", nil))
	cookies := first.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != defaultCookieName {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Fatalf("expected http-only cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(cookies[0])
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if len(second.Result().Cookies()) != 0 {
		t.Fatalf("existing session should not be re-issued")
	}

	if len(scopes) != 2 || scopes[0] == "" || scopes[0] != scopes[1] {
		t.Fatalf("expected stable scope, got %v", scopes)
	}
}

func TestLoadRejectsTamperedAndExpired(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	mgr := newTestManager(t, clock)

	rec := httptest.NewRecorder()
	original := Data{ID: "abc", CreatedAt: clock.now}
	if err := mgr.Save(rec, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if got, ok := mgr.Load(req); !ok || got.ID != "abc" {
		t.Fatalf("expected stored session, got %+v %v", got, ok)
	}

	tampered := httptest.NewRequest(http.MethodGet, "/", nil)
	tampered.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value + "x"})
	if got, ok := mgr.Load(tampered); ok || got.ID == "abc" {
		t.Fatalf("tampered cookie must yield a fresh session")
	}

	clock.now = clock.now.Add(2 * time.Hour)
	if got, ok := mgr.Load(req); ok || got.ID == "abc" {
		t.Fatalf("expired cookie must yield a fresh session")
	}
}
