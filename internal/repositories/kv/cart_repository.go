package kv

import (
	"context"
	"encoding/json"
	"errors"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/platform/kvstore"
	"finitefield.org/storefront/internal/repositories"
)

const cartKey = "cart"

// CartRepository stores the JSON list of cart lines under the session scope.
type CartRepository struct {
	store kvstore.Store
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a KV-backed cart repository.
func NewCartRepository(store kvstore.Store) (*CartRepository, error) {
	if store == nil {
		return nil, errors.New("cart repository requires kv store")
	}
	return &CartRepository{store: store}, nil
}

// Load decodes the persisted lines of scope.
func (r *CartRepository) Load(ctx context.Context, scope string) ([]domain.CartLine, error) {
	raw, err := kvstore.Scope(r.store, scope).Get(ctx, cartKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, repositories.NewError("cart.load", repositories.ErrorUnavailable, err)
	}
	var docs []cartLineDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, repositories.NewError("cart.load", repositories.ErrorCorrupt, err)
	}
	return cartLinesFromDocuments(docs), nil
}

// Save replaces the persisted lines of scope.
func (r *CartRepository) Save(ctx context.Context, scope string, lines []domain.CartLine) error {
	raw, err := json.Marshal(newCartLineDocuments(lines))
	if err != nil {
		return repositories.NewError("cart.save", repositories.ErrorUnknown, err)
	}
	if err := kvstore.Scope(r.store, scope).Put(ctx, cartKey, raw); err != nil {
		return repositories.NewError("cart.save", repositories.ErrorUnavailable, err)
	}
	return nil
}

// Delete removes the persisted snapshot. Deleting a missing snapshot succeeds.
func (r *CartRepository) Delete(ctx context.Context, scope string) error {
	err := kvstore.Scope(r.store, scope).Delete(ctx, cartKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return repositories.NewError("cart.delete", repositories.ErrorUnavailable, err)
	}
	return nil
}
