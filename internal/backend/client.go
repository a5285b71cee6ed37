package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finitefield.org/storefront/internal/platform/textutil"
)

const (
	defaultTimeout    = 20 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxResponseBytes  = 1 << 20
)

var (
	// ErrUnavailable marks transport failures: network errors, timeouts, gateway statuses and an
	// open circuit. The outcome of the call is unknown.
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrRejected marks a definitive rejection by the backend.
	ErrRejected = errors.New("backend: rejected")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("backend: not found")
)

// RejectionError carries the backend's status and message for a non-retryable failure.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: rejected with status %d", e.Status)
	}
	return fmt.Sprintf("backend: rejected with status %d: %s", e.Status, e.Message)
}

// Is matches ErrRejected.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// Recorder observes backend call latency and outcome.
type Recorder interface {
	ObserveBackendCall(operation, outcome string, elapsed time.Duration)
}

// Config configures the backend client.
type Config struct {
	BaseURL         string
	APIToken        string
	Timeout         time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
	HTTPClient      *http.Client
	Metrics         Recorder
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// Client talks to the commerce backend for payment verification, order creation and catalog
// lookups.
type Client struct {
	baseURL        string
	token          string
	http           *http.Client
	breaker        *gobreaker.CircuitBreaker[rawResponse]
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	metrics        Recorder
	logger         func(ctx context.Context, event string, fields map[string]any)
}

type rawResponse struct {
	status int
	body   []byte
}

// NewClient constructs a backend client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openFor := cfg.BreakerOpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	c := &Client{
		baseURL:        baseURL,
		token:          strings.TrimSpace(cfg.APIToken),
		http:           httpClient,
		maxRetries:     maxRetries,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
		metrics:        cfg.Metrics,
		logger:         logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[rawResponse](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "backend.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c, nil
}

type call struct {
	operation      string
	method         string
	path           []string
	body           any
	idempotencyKey string
	retry          bool
}

// do executes the call, retrying transport failures when the call allows it. Non-gateway
// statuses are returned to the caller for classification.
func (c *Client) do(ctx context.Context, cl call) (rawResponse, error) {
	endpoint, err := url.JoinPath(c.baseURL, cl.path...)
	if err != nil {
		return rawResponse{}, err
	}
	var payload []byte
	if cl.body != nil {
		if payload, err = json.Marshal(cl.body); err != nil {
			return rawResponse{}, fmt.Errorf("backend: encode %s: %w", cl.operation, err)
		}
	}

	retries := 0
	if cl.retry {
		retries = c.maxRetries
	}

	start := time.Now()
	var out rawResponse
	attempt := 0
	operation := func() error {
		attempt++
		resp, err := c.breaker.Execute(func() (rawResponse, error) {
			return c.roundTrip(ctx, cl, endpoint, payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, ctxErr))
			}
			return err
		}
		out = resp
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff
	policy.MaxElapsedTime = 0
	err = backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx), func(err error, wait time.Duration) {
		c.logger(ctx, "backend.call.retry", map[string]any{
			"operation": cl.operation,
			"attempt":   attempt,
			"wait":      wait.String(),
			"error":     err.Error(),
		})
	})
	if err != nil && !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.observe(cl.operation, outcome(out.status, err), time.Since(start))
	if err != nil {
		c.logger(ctx, "backend.call.failed", map[string]any{
			"operation": cl.operation,
			"attempts":  attempt,
			"error":     err.Error(),
		})
		return rawResponse{}, err
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, cl call, endpoint string, payload []byte) (rawResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, endpoint, body)
	if err != nil {
		return rawResponse{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if cl.idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, cl.idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return rawResponse{}, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, cl.method, cl.operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return rawResponse{}, fmt.Errorf("%w: read %s: %w", ErrUnavailable, cl.operation, err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return rawResponse{}, fmt.Errorf("%w: %s status %d", ErrUnavailable, cl.operation, resp.StatusCode)
	}
	return rawResponse{status: resp.StatusCode, body: data}, nil
}

func (c *Client) observe(operation, outcome string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveBackendCall(operation, outcome, elapsed)
}

func outcome(status int, err error) string {
	switch {
	case err != nil:
		return "unavailable"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}

func rejection(resp rawResponse) error {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(resp.body, &payload)
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		message = strings.TrimSpace(payload.Error)
	}
	if message == "" && !json.Valid(resp.body) {
		message = textutil.Truncate(strings.TrimSpace(string(resp.body)), 256)
	}
	return &RejectionError{Status: resp.status, Message: message}
}
