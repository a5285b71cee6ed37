package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/services"
)

const maxRequestBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
	errNoSession    = errors.New("session is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a JSON body into dst, writing the error response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

func sessionScope(ctx context.Context, w http.ResponseWriter) (string, bool) {
	scope := strings.TrimSpace(requestctx.SessionScope(ctx))
	if scope == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", errNoSession.Error(), http.StatusBadRequest))
		return "", false
	}
	return scope, true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// writeServiceError maps service and workflow errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var validation *services.CheckoutValidationError
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_invalid", "checkout form is incomplete", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"missingFields": validation.MissingFields}))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartInvalidInput), errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "product is out of stock", http.StatusConflict))
	case errors.Is(err, services.ErrCartCurrencyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("currency_mismatch", "product is not sold in the storefront currency", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("payment_in_progress", "a payment is already in progress for this cart", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnresolved):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unresolved", "a previous payment succeeded without an order; acknowledge it before paying again", http.StatusConflict).
			WithDetails(map[string]any{"acknowledgeField": "acknowledgeUnresolvedPayment"}).
			WithNotice("critical", "Your last payment went through but the order was not created. Do not pay again; contact support or acknowledge to start a new payment."))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment attempt not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidEvent), errors.Is(err, payments.ErrUnknownEvent):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrReferenceMismatch), errors.Is(err, payments.ErrMissingReference):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_reference", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart storage is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment storage is unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
