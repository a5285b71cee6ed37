package services

import (
	"context"
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/platform/textutil"
)

var errCheckoutCartsRequired = errors.New("checkout service: cart service is required")

var (
	checkoutEmailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	checkoutPhonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
)

const maxCheckoutFieldLength = 200

// Required checkout fields in the order they are reported.
const (
	FieldEmail    = "email"
	FieldFullName = "fullName"
	FieldPhone    = "phone"
	FieldLine1    = "line1"
	FieldCity     = "city"
	FieldState    = "state"
	FieldCountry  = "country"
)

// PricingConfig holds the storefront's shipping and tax rules. Amounts are minor units.
type PricingConfig struct {
	Currency              string
	TaxRateBPS            int64
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// DefaultPricing mirrors the storefront defaults.
func DefaultPricing() PricingConfig {
	return PricingConfig{
		Currency:              "NGN",
		TaxRateBPS:            750,
		FreeShippingThreshold: 5_000_000,
		FlatShippingFee:       250_000,
	}
}

// CheckoutForm is the contact and shipping form submitted by the shopper.
type CheckoutForm struct {
	Contact  domain.ContactInfo
	Shipping domain.Address
}

// CheckoutQuote is the derived checkout session plus its validation outcome.
type CheckoutQuote struct {
	Cart          domain.Cart
	Session       domain.CheckoutSession
	Valid         bool
	MissingFields []string
}

// CheckoutServiceDeps wires the cart reader and pricing rules.
type CheckoutServiceDeps struct {
	Carts   CartService
	Pricing PricingConfig
	Logger  Logger
}

type checkoutService struct {
	carts   CartService
	pricing PricingConfig
	policy  *bluemonday.Policy
	logger  Logger
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errCheckoutCartsRequired
	}
	pricing := deps.Pricing
	pricing.Currency = strings.ToUpper(strings.TrimSpace(pricing.Currency))
	if pricing.Currency == "" {
		pricing.Currency = DefaultPricing().Currency
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &checkoutService{
		carts:   deps.Carts,
		pricing: pricing,
		policy:  bluemonday.StrictPolicy(),
		logger:  logger,
	}, nil
}

// Quote recomputes the checkout session for the current cart. Empty contact fields are seeded
// from the authenticated identity when one is present.
func (s *checkoutService) Quote(ctx context.Context, scope string, form CheckoutForm) (CheckoutQuote, error) {
	cart, err := s.carts.Get(ctx, scope)
	if err != nil {
		return CheckoutQuote{}, err
	}

	form = s.sanitize(form)
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		form.Contact = prefillContact(form.Contact, identity)
	}

	session := domain.CheckoutSession{
		Contact:   form.Contact,
		Shipping:  form.Shipping,
		Totals:    ComputeTotals(cart.Total, s.pricing),
		ItemCount: cart.ItemCount,
	}
	missing := MissingFields(session)
	return CheckoutQuote{
		Cart:          cart,
		Session:       session,
		Valid:         len(missing) == 0,
		MissingFields: missing,
	}, nil
}

// ComputeTotals applies the shipping and tax rules to a subtotal.
func ComputeTotals(subtotal int64, pricing PricingConfig) domain.Totals {
	shipping := pricing.FlatShippingFee
	if subtotal > pricing.FreeShippingThreshold {
		shipping = 0
	}
	tax := domain.ApplyRateBPS(subtotal, pricing.TaxRateBPS)
	return domain.Totals{
		Subtotal:    subtotal,
		ShippingFee: shipping,
		Tax:         tax,
		GrandTotal:  subtotal + shipping + tax,
		Currency:    pricing.Currency,
	}
}

// Validate reports whether the session has every required field and a well-formed email.
func Validate(session domain.CheckoutSession) bool {
	return len(MissingFields(session)) == 0
}

// MissingFields lists required fields that are empty or malformed.
func MissingFields(session domain.CheckoutSession) []string {
	var missing []string
	check := func(field, value string, pattern *regexp.Regexp) {
		value = strings.TrimSpace(value)
		if value == "" || (pattern != nil && !pattern.MatchString(value)) {
			missing = append(missing, field)
		}
	}
	check(FieldEmail, session.Contact.Email, checkoutEmailPattern)
	check(FieldFullName, session.Contact.FullName, nil)
	check(FieldPhone, session.Contact.Phone, checkoutPhonePattern)
	check(FieldLine1, session.Shipping.Line1, nil)
	check(FieldCity, session.Shipping.City, nil)
	check(FieldState, session.Shipping.State, nil)
	check(FieldCountry, session.Shipping.Country, nil)
	return missing
}

func (s *checkoutService) sanitize(form CheckoutForm) CheckoutForm {
	clean := func(value string) string {
		// StrictPolicy entity-encodes text; keep the plain form for JSON and order payloads.
		value = strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
		return strings.TrimSpace(textutil.Truncate(value, maxCheckoutFieldLength))
	}
	return CheckoutForm{
		Contact: domain.ContactInfo{
			Email:    strings.ToLower(clean(form.Contact.Email)),
			FullName: clean(form.Contact.FullName),
			Phone:    clean(form.Contact.Phone),
		},
		Shipping: domain.Address{
			Line1:      clean(form.Shipping.Line1),
			Line2:      clean(form.Shipping.Line2),
			City:       clean(form.Shipping.City),
			State:      clean(form.Shipping.State),
			PostalCode: clean(form.Shipping.PostalCode),
			Country:    strings.ToUpper(clean(form.Shipping.Country)),
		},
	}
}

func prefillContact(contact domain.ContactInfo, identity requestctx.Identity) domain.ContactInfo {
	if contact.Email == "" {
		contact.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	}
	if contact.FullName == "" {
		contact.FullName = strings.TrimSpace(identity.Name)
	}
	if contact.Phone == "" {
		contact.Phone = strings.TrimSpace(identity.Phone)
	}
	return contact
}
