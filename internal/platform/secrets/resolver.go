package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidReference is returned for references that are not secret:// URIs.
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrNotFound is returned when Secret Manager has no such secret or version.
	ErrNotFound = errors.New("secrets: not found")
)

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver resolves secret:// references through Google Secret Manager and caches the results
// for the lifetime of the process.
type Resolver struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// Option customises Resolver construction.
type Option func(*Resolver)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClient injects a Secret Manager client, mainly for tests.
func WithClient(client secretManagerClient) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// NewResolver builds a Resolver for the default project. A Secret Manager client is created
// unless one was injected.
func NewResolver(ctx context.Context, projectID string, opts []Option, clientOpts ...option.ClientOption) (*Resolver, error) {
	r := &Resolver{
		projectID: strings.TrimSpace(projectID),
		logger:    zap.NewNop(),
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		r.client = client
		r.ownsClient = true
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret fetches the payload for ref. Accepted forms are
// secret://NAME, secret://NAME?version=N and secret://projects/P/secrets/NAME[/versions/V].
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, err := r.resourceName(ref)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	value, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return value, nil
	}

	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("%w: empty payload for %s", ErrNotFound, name)
	}
	value = string(resp.GetPayload().GetData())

	r.mu.Lock()
	r.cache[name] = value
	r.mu.Unlock()
	r.logger.Debug("secret resolved", zap.String("name", name))
	return value, nil
}

func (r *Resolver) resourceName(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, "secret://") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	path := strings.Trim(u.Host+u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if strings.HasPrefix(path, "projects/") {
		if !strings.Contains(path, "/versions/") {
			path += "/versions/latest"
		}
		return path, nil
	}
	if strings.Contains(path, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if r.projectID == "" {
		return "", fmt.Errorf("%w: no project for %q", ErrInvalidReference, ref)
	}
	version := u.Query().Get("version")
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.projectID, path, version), nil
}
