package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 60 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultLogLevel         = "info"
	defaultCurrency         = "NGN"
	defaultTaxRateBPS       = 750
	defaultFreeShipping     = 5_000_000
	defaultFlatShippingFee  = 250_000
	defaultKVBackend        = "memory"
	defaultScopeTTL         = 30 * 24 * time.Hour
	defaultGatewayProvider  = "inline"
	defaultChannels         = "card,bank,ussd,bank_transfer"
	defaultVerifyTimeout    = 15 * time.Second
	defaultOrderTimeout     = 20 * time.Second
	defaultOrderMaxRetries  = 3
	defaultBreakerFailures  = 5
	defaultBreakerOpenFor   = 30 * time.Second
	defaultSessionCookie    = "storefront_session"
	defaultSessionMaxAge    = 30 * 24 * time.Hour
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultReconcileEvery   = time.Minute
	defaultReconcileStale   = 2 * time.Minute
	defaultReconcileMax     = 5
	defaultIdentityIDHeader = "X-Storefront-User-Id"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Pricing     PricingConfig
	Store       StoreConfig
	Gateway     GatewayConfig
	Backend     BackendConfig
	Session     SessionConfig
	Identity    IdentityConfig
	Idempotency IdempotencyConfig
	Reconcile   ReconcileConfig
	Escalation  EscalationConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	LogLevel     string
	ProjectID    string
}

// PricingConfig holds the checkout pricing policy. Amounts are minor currency units.
type PricingConfig struct {
	Currency              string
	TaxRateBPS            int64
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// StoreConfig selects the scoped key-value backend used for carts and payment attempts.
type StoreConfig struct {
	Backend           string
	ScopeTTL          time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	FirestoreProject  string
	FirestoreEmulator string
}

// GatewayConfig configures the payment gateway and its verification strategy.
type GatewayConfig struct {
	Provider        string
	PublicKey       string
	StripeSecretKey string
	StripeAccount   string
	Channels        []string
	VerifyVia       string
	VerifyTimeout   time.Duration
}

// BackendConfig points at the commerce backend that owns products, verification and orders.
type BackendConfig struct {
	BaseURL         string
	APIToken        string
	OrderTimeout    time.Duration
	OrderMaxRetries int
	BreakerFailures int
	BreakerOpenFor  time.Duration
}

// SessionConfig controls the signed storefront session cookie.
type SessionConfig struct {
	CookieName string
	HashKey    string
	BlockKey   string
	MaxAge     time.Duration
	Secure     bool
}

// IdentityConfig controls trust in identity headers injected by an authenticating proxy.
type IdentityConfig struct {
	TrustHeaders bool
	UserIDHeader string
}

// IdempotencyConfig controls the replay guard on payment submission.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// ReconcileConfig controls the orphaned-payment reconciler. It runs every minute unless
// STOREFRONT_RECONCILE_INTERVAL is set to 0, which disables it.
type ReconcileConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	MaxAttempts int
}

// EscalationConfig selects where severe payment failures are published.
type EscalationConfig struct {
	PubSubProject string
	Topic         string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from defaults, the .env file, the environment and
// resolved secret references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "STOREFRONT_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:  durationWithDefault(lookup, "STOREFRONT_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "STOREFRONT_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_IDLE_TIMEOUT", defaultIdleTimeout),
			LogLevel:     stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_GCP_PROJECT", ""),
		},
		Pricing: PricingConfig{
			Currency:              strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
			TaxRateBPS:            int64WithDefault(lookup, "STOREFRONT_TAX_RATE_BPS", defaultTaxRateBPS),
			FreeShippingThreshold: int64WithDefault(lookup, "STOREFRONT_FREE_SHIPPING_THRESHOLD", defaultFreeShipping),
			FlatShippingFee:       int64WithDefault(lookup, "STOREFRONT_FLAT_SHIPPING_FEE", defaultFlatShippingFee),
		},
		Store: StoreConfig{
			Backend:           strings.ToLower(stringWithDefault(lookup, "STOREFRONT_KV_BACKEND", defaultKVBackend)),
			ScopeTTL:          durationWithDefault(lookup, "STOREFRONT_KV_SCOPE_TTL", defaultScopeTTL),
			RedisAddr:         stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			RedisPassword:     stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			RedisDB:           intWithDefault(lookup, "STOREFRONT_REDIS_DB", 0),
			FirestoreProject:  stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT", ""),
			FirestoreEmulator: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			Provider:        strings.ToLower(stringWithDefault(lookup, "STOREFRONT_GATEWAY_PROVIDER", defaultGatewayProvider)),
			PublicKey:       stringWithDefault(lookup, "STOREFRONT_GATEWAY_PUBLIC_KEY", ""),
			StripeSecretKey: stringWithDefault(lookup, "STOREFRONT_STRIPE_SECRET_KEY", ""),
			StripeAccount:   stringWithDefault(lookup, "STOREFRONT_STRIPE_ACCOUNT", ""),
			Channels:        csvWithDefault(lookup, "STOREFRONT_GATEWAY_CHANNELS", defaultChannels),
			VerifyVia:       strings.ToLower(stringWithDefault(lookup, "STOREFRONT_VERIFY_VIA", "backend")),
			VerifyTimeout:   durationWithDefault(lookup, "STOREFRONT_VERIFY_TIMEOUT", defaultVerifyTimeout),
		},
		Backend: BackendConfig{
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BACKEND_URL", ""), "/"),
			APIToken:        stringWithDefault(lookup, "STOREFRONT_BACKEND_TOKEN", ""),
			OrderTimeout:    durationWithDefault(lookup, "STOREFRONT_ORDER_TIMEOUT", defaultOrderTimeout),
			OrderMaxRetries: intWithDefault(lookup, "STOREFRONT_ORDER_MAX_RETRIES", defaultOrderMaxRetries),
			BreakerFailures: intWithDefault(lookup, "STOREFRONT_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerOpenFor:  durationWithDefault(lookup, "STOREFRONT_BREAKER_OPEN_FOR", defaultBreakerOpenFor),
		},
		Session: SessionConfig{
			CookieName: stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			HashKey:    stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:   stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			MaxAge:     durationWithDefault(lookup, "STOREFRONT_SESSION_MAX_AGE", defaultSessionMaxAge),
			Secure:     boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", true),
		},
		Identity: IdentityConfig{
			TrustHeaders: boolWithDefault(lookup, "STOREFRONT_TRUST_IDENTITY_HEADERS", false),
			UserIDHeader: stringWithDefault(lookup, "STOREFRONT_IDENTITY_HEADER", defaultIdentityIDHeader),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_HEADER", "Idempotency-Key"),
			TTL:    durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Reconcile: ReconcileConfig{
			Interval:    durationWithDefault(lookup, "STOREFRONT_RECONCILE_INTERVAL", defaultReconcileEvery),
			StaleAfter:  durationWithDefault(lookup, "STOREFRONT_RECONCILE_STALE_AFTER", defaultReconcileStale),
			MaxAttempts: intWithDefault(lookup, "STOREFRONT_RECONCILE_MAX_ATTEMPTS", defaultReconcileMax),
		},
		Escalation: EscalationConfig{
			PubSubProject: stringWithDefault(lookup, "STOREFRONT_PUBSUB_PROJECT", ""),
			Topic:         stringWithDefault(lookup, "STOREFRONT_ESCALATION_TOPIC", ""),
		},
	}

	if cfg.Store.FirestoreProject == "" {
		cfg.Store.FirestoreProject = cfg.Server.ProjectID
	}
	if cfg.Escalation.PubSubProject == "" {
		cfg.Escalation.PubSubProject = cfg.Server.ProjectID
	}

	secretFields := []*string{
		&cfg.Gateway.StripeSecretKey,
		&cfg.Backend.APIToken,
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
		&cfg.Store.RedisPassword,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if len(cfg.Pricing.Currency) != 3 {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Pricing.TaxRateBPS < 0 || cfg.Pricing.TaxRateBPS > 10_000 {
		missing = append(missing, "Pricing.TaxRateBPS")
	}
	if cfg.Pricing.FreeShippingThreshold < 0 {
		missing = append(missing, "Pricing.FreeShippingThreshold")
	}
	if cfg.Pricing.FlatShippingFee < 0 {
		missing = append(missing, "Pricing.FlatShippingFee")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "redis":
		if cfg.Store.RedisAddr == "" {
			missing = append(missing, "Store.RedisAddr")
		}
	case "firestore":
		if cfg.Store.FirestoreProject == "" {
			missing = append(missing, "Store.FirestoreProject")
		}
	default:
		missing = append(missing, "Store.Backend")
	}

	switch cfg.Gateway.Provider {
	case "inline":
		if cfg.Gateway.PublicKey == "" {
			missing = append(missing, "Gateway.PublicKey")
		}
	case "stripe":
		if cfg.Gateway.StripeSecretKey == "" {
			missing = append(missing, "Gateway.StripeSecretKey")
		}
	default:
		missing = append(missing, "Gateway.Provider")
	}
	switch cfg.Gateway.VerifyVia {
	case "backend":
	case "stripe":
		if cfg.Gateway.StripeSecretKey == "" {
			missing = append(missing, "Gateway.StripeSecretKey")
		}
	default:
		missing = append(missing, "Gateway.VerifyVia")
	}
	if cfg.Gateway.VerifyTimeout <= 0 {
		missing = append(missing, "Gateway.VerifyTimeout")
	}

	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.OrderTimeout <= 0 {
		missing = append(missing, "Backend.OrderTimeout")
	}
	if cfg.Backend.OrderMaxRetries < 0 {
		missing = append(missing, "Backend.OrderMaxRetries")
	}

	if cfg.Session.HashKey == "" || len(cfg.Session.HashKey) < 32 {
		missing = append(missing, "Session.HashKey")
	}
	if n := len(cfg.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		missing = append(missing, "Session.BlockKey")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Reconcile.Interval < 0 {
		missing = append(missing, "Reconcile.Interval")
	}
	if cfg.Reconcile.Interval > 0 && cfg.Reconcile.MaxAttempts <= 0 {
		missing = append(missing, "Reconcile.MaxAttempts")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key, fallback string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
