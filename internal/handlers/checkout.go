package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/services"
)

// CheckoutHandlers exposes the checkout quote and the payment workflow.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	payments services.PaymentService
	currency string
	// submitGuard wraps payment submission, typically with the idempotency middleware.
	submitGuard func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithPaymentSubmitGuard wraps POST /checkout/payments with mw.
func WithPaymentSubmitGuard(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.submitGuard = mw
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, payments services.PaymentService, currency string, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout, payments: payments, currency: currency}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
	submit := http.Handler(http.HandlerFunc(h.beginPayment))
	if h.submitGuard != nil {
		submit = h.submitGuard(submit)
	}
	r.Method(http.MethodPost, "/payments", submit)
	r.Get("/payments/current", h.currentPayment)
	r.Post("/payments/{attemptID}/events", h.paymentEvent)
}

type quoteResponse struct {
	Cart          cartPayload            `json:"cart"`
	Session       checkoutSessionPayload `json:"session"`
	Valid         bool                   `json:"valid"`
	MissingFields []string               `json:"missingFields"`
}

type beginPaymentRequest struct {
	checkoutFormRequest
	AcknowledgeUnresolvedPayment bool `json:"acknowledgeUnresolvedPayment"`
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	var req checkoutFormRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quote, err := h.checkout.Quote(ctx, scope, req.toForm())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	missing := quote.MissingFields
	if missing == nil {
		missing = []string{}
	}
	writeJSONResponse(w, http.StatusOK, quoteResponse{
		Cart:          buildCartPayload(quote.Cart, h.currency),
		Session:       buildCheckoutSessionPayload(quote.Session),
		Valid:         quote.Valid,
		MissingFields: missing,
	})
}

func (h *CheckoutHandlers) beginPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	var req beginPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.payments.Begin(ctx, services.BeginPaymentCommand{
		Scope:                        scope,
		Form:                         req.toForm(),
		AcknowledgeUnresolvedPayment: req.AcknowledgeUnresolvedPayment,
	})
	if err != nil {
		// The attempt is recorded as errored; its notice tells the shopper to retry.
		if errors.Is(err, services.ErrPaymentGatewayUnavailable) && result.Attempt.ID != "" {
			writeJSONResponse(w, http.StatusOK, buildPaymentResponse(result))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildPaymentResponse(result))
}

func (h *CheckoutHandlers) currentPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	result, err := h.payments.Current(ctx, scope)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPaymentResponse(result))
}

func (h *CheckoutHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	var req paymentEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.payments.HandleEvent(ctx, services.PaymentEventCommand{
		Scope:     scope,
		AttemptID: chi.URLParam(r, "attemptID"),
		Event:     req.toEvent(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPaymentResponse(result))
}
