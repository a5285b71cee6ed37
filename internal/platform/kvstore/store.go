// Package kvstore provides the scoped key-value storage used for carts and payment attempts.
// Every entry lives under a scope (the storefront session id, or a system scope such as the
// reconciliation queue) and is addressed by a key within it.
package kvstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when the key has no value in the scope.
	ErrNotFound = errors.New("kvstore: not found")
	// ErrInvalidKey is returned for empty scopes or keys.
	ErrInvalidKey = errors.New("kvstore: invalid scope or key")
)

// Store persists opaque values by scope and key. Implementations are safe for concurrent use;
// concurrent writers to the same key are last-write-wins.
type Store interface {
	Get(ctx context.Context, scope, key string) ([]byte, error)
	Put(ctx context.Context, scope, key string, value []byte) error
	Delete(ctx context.Context, scope, key string) error
	// List returns every live entry in the scope keyed by key.
	List(ctx context.Context, scope string) (map[string][]byte, error)
	Close() error
}

// Scoped binds a Store to a single scope.
type Scoped struct {
	store Store
	scope string
}

// Scope returns a view of store restricted to scope.
func Scope(store Store, scope string) Scoped {
	return Scoped{store: store, scope: scope}
}

// Name returns the bound scope.
func (s Scoped) Name() string { return s.scope }

// Get reads key from the bound scope.
func (s Scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(ctx, s.scope, key)
}

// Put writes key into the bound scope.
func (s Scoped) Put(ctx context.Context, key string, value []byte) error {
	return s.store.Put(ctx, s.scope, key, value)
}

// Delete removes key from the bound scope.
func (s Scoped) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.scope, key)
}

func validate(scope, key string) error {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
