// Package session issues the signed cookie that scopes a shopper's cart and payment attempts.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	defaultCookieName = "storefront_session"
	defaultCookiePath = "/"
	defaultMaxAge     = 30 * 24 * time.Hour
)

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// Data is the payload persisted in the cookie.
type Data struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config controls cookie encoding and lifetime.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookiePath   string
	CookieDomain string
	CookieSecure bool
	MaxAge       time.Duration
	Now          func() time.Time
}

// Manager decodes and issues session cookies.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewManager constructs a Manager using the provided configuration.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) < 32 {
		return nil, fmt.Errorf("%w: hash key must be at least 32 bytes", ErrInvalidConfig)
	}
	if n := len(cfg.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.MaxAge / time.Second))

	return &Manager{cfg: cfg, codec: codec, now: now}, nil
}

// Load returns the session carried by the request. The second result is false when a new
// session had to be created because the cookie was absent, tampered with or expired.
func (m *Manager) Load(r *http.Request) (Data, bool) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.newSession(), false
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil || stored.ID == "" {
		return m.newSession(), false
	}
	if !m.now().Before(stored.CreatedAt.Add(m.cfg.MaxAge)) {
		return m.newSession(), false
	}
	return stored, true
}

// Save writes the session cookie.
func (m *Manager) Save(w http.ResponseWriter, data Data) error {
	encoded, err := m.codec.Encode(m.cfg.CookieName, data)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	expires := data.CreatedAt.Add(m.cfg.MaxAge)
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  expires,
		MaxAge:   int(expires.Sub(m.now()) / time.Second),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Middleware loads or issues the session and records its id as the request's storage scope.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, existing := m.Load(r)
		if !existing {
			if err := m.Save(w, data); err != nil {
				requestctx.Logger(r.Context()).Error("session cookie encode failed")
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
		}
		ctx := requestctx.WithSessionScope(r.Context(), data.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Manager) newSession() Data {
	return Data{ID: randomID(), CreatedAt: m.now().UTC()}
}

func randomID() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("session: random source unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
