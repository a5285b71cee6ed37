package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"finitefield.org/storefront/internal/domain"
)

type productResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Currency  string `json:"currency"`
	ImageRef  string `json:"imageRef"`
	Stock     int    `json:"stock"`
}

// LookupProduct fetches the catalog entry used to build a cart line.
func (c *Client) LookupProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, ErrNotFound
	}
	resp, err := c.do(ctx, call{
		operation: "lookup_product",
		method:    http.MethodGet,
		path:      []string{"products", productID},
		retry:     true,
	})
	if err != nil {
		return domain.Product{}, err
	}
	if resp.status == http.StatusNotFound {
		return domain.Product{}, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	if resp.status >= 400 {
		return domain.Product{}, rejection(resp)
	}

	var payload productResponse
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return domain.Product{}, fmt.Errorf("backend: decode product: %w", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return domain.Product{}, errors.New("backend: product response missing id")
	}
	return domain.Product{
		ID:        payload.ID,
		Name:      payload.Name,
		UnitPrice: payload.UnitPrice,
		Currency:  strings.ToUpper(payload.Currency),
		ImageRef:  payload.ImageRef,
		Stock:     payload.Stock,
	}, nil
}
