package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a gateway or verifier.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidRequest is returned when a gateway request is missing required fields.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// Logger receives structured payment events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Request is the payload handed to a gateway when a checkout is submitted.
type Request struct {
	Email            string
	Phone            string
	AmountMinorUnits int64
	Currency         string
	Channels         []string
	IdempotencyKey   string
	Metadata         map[string]string
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.Email) == "":
		return fmt.Errorf("%w: email is required", ErrInvalidRequest)
	case r.AmountMinorUnits <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case strings.TrimSpace(r.Currency) == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}
	return nil
}

// Session is what the client needs to open the gateway popup. Reference is set when the gateway
// fixes the payment reference up front; success reports must then carry the same value.
type Session struct {
	Provider     string
	PublicKey    string
	Reference    string
	ClientSecret string
	Params       map[string]any
}

// Gateway opens a client-side payment session.
type Gateway interface {
	Open(ctx context.Context, req Request) (Session, error)
}

// VerifyRequest asks whether a reference represents a captured payment of the expected amount.
type VerifyRequest struct {
	Reference        string
	AmountMinorUnits int64
	Currency         string
}

// Verification is the verifier's answer. Data is forwarded to the order as proof of payment.
type Verification struct {
	Verified bool
	// Pending marks a payment the gateway has accepted but not yet settled. It is neither
	// captured nor rejected and must be verified again later.
	Pending bool
	Data    map[string]any
	Message string
}

// Verifier confirms a client-reported payment out of band. A returned error means the answer is
// unknown; Verified=false means the payment was not captured.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (Verification, error)
}

// Manager routes gateway sessions and verification to the registered providers.
type Manager struct {
	gateways        map[string]Gateway
	verifiers       map[string]Verifier
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normalizeKey(provider)
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = normalizeKey(v)
		}
	}
}

// WithVerifier registers the verifier for a provider. Verification for a provider without one
// fails with ErrUnsupportedProvider.
func WithVerifier(provider string, verifier Verifier) ManagerOption {
	return func(m *Manager) {
		key := normalizeKey(provider)
		if key == "" || verifier == nil {
			return
		}
		if m.verifiers == nil {
			m.verifiers = make(map[string]Verifier)
		}
		m.verifiers[key] = verifier
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := normalizeKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{gateways: copyMap}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Open starts a gateway session with the provider resolved for the currency.
func (m *Manager) Open(ctx context.Context, req Request) (Session, error) {
	key, gateway, err := m.resolveGateway(req.Currency)
	if err != nil {
		return Session{}, err
	}
	if err := req.validate(); err != nil {
		return Session{}, err
	}
	session, err := gateway.Open(ctx, req)
	if err != nil {
		return Session{}, err
	}
	session.Provider = key
	return session, nil
}

// Verify asks the verifier registered for provider.
func (m *Manager) Verify(ctx context.Context, provider string, req VerifyRequest) (Verification, error) {
	if m == nil {
		return Verification{}, errors.New("payments: manager is nil")
	}
	verifier, ok := m.verifiers[normalizeKey(provider)]
	if !ok {
		return Verification{}, fmt.Errorf("%w: no verifier for %q", ErrUnsupportedProvider, provider)
	}
	return verifier.Verify(ctx, req)
}

func (m *Manager) resolveGateway(currency string) (string, Gateway, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if key, ok := m.currencyRoutes[currency]; ok && currency != "" {
		if g, ok := m.gateways[key]; ok {
			return key, g, nil
		}
	}
	if m.defaultProvider != "" {
		if g, ok := m.gateways[m.defaultProvider]; ok {
			return m.defaultProvider, g, nil
		}
	}
	if len(m.gateways) == 1 {
		for key, g := range m.gateways {
			return key, g, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
