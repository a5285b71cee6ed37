package services

import (
	"errors"
	"strings"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid cart input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartLineNotFound indicates the line id is not in the cart.
	ErrCartLineNotFound = errors.New("cart service: line not found")
	// ErrCartProductNotFound indicates the catalog has no such product.
	ErrCartProductNotFound = errors.New("cart service: product not found")
	// ErrCartOutOfStock indicates the product cannot be added because it has no stock.
	ErrCartOutOfStock = errors.New("cart service: out of stock")
	// ErrCartCurrencyMismatch indicates the product is priced in a currency the storefront does
	// not sell in.
	ErrCartCurrencyMismatch = errors.New("cart service: currency mismatch")
	// ErrCartUnavailable indicates the cart could not be read or written.
	ErrCartUnavailable = errors.New("cart service: unavailable")

	// ErrCheckoutInvalid indicates the checkout form is incomplete or malformed.
	ErrCheckoutInvalid = errors.New("checkout service: invalid checkout")
	// ErrCheckoutEmptyCart indicates checkout was attempted without cart lines.
	ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")

	// ErrPaymentInvalidInput indicates the command is missing its session scope or attempt id.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentInProgress indicates the session already has a non-terminal attempt.
	ErrPaymentInProgress = errors.New("payment service: payment in progress")
	// ErrPaymentUnresolved indicates a previous payment succeeded without an order and the
	// shopper has not acknowledged it.
	ErrPaymentUnresolved = errors.New("payment service: unresolved payment requires acknowledgement")
	// ErrPaymentNotFound indicates the session has no such attempt.
	ErrPaymentNotFound = errors.New("payment service: attempt not found")
	// ErrPaymentInvalidEvent indicates the event kind may not be submitted by clients.
	ErrPaymentInvalidEvent = errors.New("payment service: invalid event")
	// ErrPaymentGatewayUnavailable indicates the gateway session could not be opened.
	ErrPaymentGatewayUnavailable = errors.New("payment service: gateway unavailable")
	// ErrPaymentUnavailable indicates attempt storage failed.
	ErrPaymentUnavailable = errors.New("payment service: unavailable")
)

// CheckoutValidationError lists the form fields that failed validation.
type CheckoutValidationError struct {
	MissingFields []string
}

func (e *CheckoutValidationError) Error() string {
	return "checkout service: invalid checkout: " + strings.Join(e.MissingFields, ", ")
}

// Is matches ErrCheckoutInvalid.
func (e *CheckoutValidationError) Is(target error) bool {
	return target == ErrCheckoutInvalid
}
