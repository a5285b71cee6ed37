package services

import (
	"context"
	"time"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
)

// CartService manages the session cart.
type CartService interface {
	Get(ctx context.Context, scope string) (domain.Cart, error)
	AddLine(ctx context.Context, scope string, cmd AddLineCommand) (domain.Cart, domain.CartLine, error)
	UpdateQuantity(ctx context.Context, scope, lineID string, quantity int) (domain.Cart, error)
	RemoveLine(ctx context.Context, scope, lineID string) (domain.Cart, error)
	Clear(ctx context.Context, scope string) error
}

// CheckoutService derives the checkout session from the cart and the submitted form.
type CheckoutService interface {
	Quote(ctx context.Context, scope string, form CheckoutForm) (CheckoutQuote, error)
}

// PaymentService drives payment attempts from submission to order creation.
type PaymentService interface {
	Begin(ctx context.Context, cmd BeginPaymentCommand) (PaymentResult, error)
	HandleEvent(ctx context.Context, cmd PaymentEventCommand) (PaymentResult, error)
	Current(ctx context.Context, scope string) (PaymentResult, error)
}

// ProductCatalog resolves the product details a cart line is built from.
type ProductCatalog interface {
	LookupProduct(ctx context.Context, productID string) (domain.Product, error)
}

// PaymentGateway opens gateway sessions and verifies the references they produce.
type PaymentGateway interface {
	Open(ctx context.Context, req payments.Request) (payments.Session, error)
	Verify(ctx context.Context, provider string, req payments.VerifyRequest) (payments.Verification, error)
}

// OrderSubmitter creates orders for verified payments.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, req backend.OrderRequest) (domain.Order, error)
}

// Metrics records workflow transitions and escalations.
type Metrics interface {
	ObserveTransition(from, to string)
	ObserveEscalation(kind string)
}

// Logger is the structured event hook used across services.
type Logger func(ctx context.Context, event string, fields map[string]any)

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(string, string) {}
func (noopMetrics) ObserveEscalation(string)         {}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

func noopLogger(context.Context, string, map[string]any) {}
