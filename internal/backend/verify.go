package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"finitefield.org/storefront/internal/payments"
)

type verifyPayload struct {
	Reference                string `json:"reference"`
	ExpectedAmountMinorUnits int64  `json:"expectedAmountMinorUnits"`
	Currency                 string `json:"currency,omitempty"`
}

type verifyResponse struct {
	Verified bool           `json:"verified"`
	Pending  bool           `json:"pending"`
	Data     map[string]any `json:"data"`
	Message  string         `json:"message"`
}

// Verify asks the backend to confirm a gateway reference against the expected amount. Verify is
// read-only, so transport failures are retried within the caller's deadline.
func (c *Client) Verify(ctx context.Context, req payments.VerifyRequest) (payments.Verification, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return payments.Verification{Message: "payment reference is missing"}, nil
	}
	resp, err := c.do(ctx, call{
		operation: "verify_payment",
		method:    http.MethodPost,
		path:      []string{"payments", "verify"},
		body: verifyPayload{
			Reference:                reference,
			ExpectedAmountMinorUnits: req.AmountMinorUnits,
			Currency:                 strings.ToUpper(strings.TrimSpace(req.Currency)),
		},
		retry: true,
	})
	if err != nil {
		return payments.Verification{}, err
	}
	if resp.status >= 400 {
		return payments.Verification{}, rejection(resp)
	}

	var payload verifyResponse
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return payments.Verification{}, fmt.Errorf("backend: decode verification: %w", err)
	}
	return payments.Verification{
		Verified: payload.Verified,
		Pending:  payload.Pending && !payload.Verified,
		Data:     payload.Data,
		Message:  strings.TrimSpace(payload.Message),
	}, nil
}
