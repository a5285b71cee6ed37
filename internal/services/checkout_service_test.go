package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/platform/requestctx"
)

func TestComputeTotals(t *testing.T) {
	pricing := DefaultPricing()
	cases := []struct {
		name     string
		subtotal int64
		want     domain.Totals
	}{
		{
			name:     "flat fee below threshold",
			subtotal: 200_000,
			want:     domain.Totals{Subtotal: 200_000, ShippingFee: 250_000, Tax: 15_000, GrandTotal: 465_000, Currency: "NGN"},
		},
		{
			name:     "threshold itself still pays shipping",
			subtotal: 5_000_000,
			want:     domain.Totals{Subtotal: 5_000_000, ShippingFee: 250_000, Tax: 375_000, GrandTotal: 5_625_000, Currency: "NGN"},
		},
		{
			name:     "free shipping above threshold",
			subtotal: 6_000_000,
			want:     domain.Totals{Subtotal: 6_000_000, ShippingFee: 0, Tax: 450_000, GrandTotal: 6_450_000, Currency: "NGN"},
		},
		{
			name:     "tax rounds half up",
			subtotal: 1_010,
			want:     domain.Totals{Subtotal: 1_010, ShippingFee: 250_000, Tax: 76, GrandTotal: 251_086, Currency: "NGN"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeTotals(tc.subtotal, pricing)
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
			if got.GrandTotal != got.Subtotal+got.ShippingFee+got.Tax {
				t.Fatalf("grand total does not add up: %+v", got)
			}
		})
	}
}

func TestCheckoutQuoteDerivesSession(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	w.fillCart(t, "sess-1")

	form := validForm()
	form.Contact.FullName = "  <b>Ada</b> Obi "
	form.Contact.Email = "ADA@Example.com"
	quote, err := w.checkout.Quote(ctx, "sess-1", form)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.Valid || len(quote.MissingFields) != 0 {
		t.Fatalf("expected valid quote, missing %v", quote.MissingFields)
	}
	if quote.Session.Contact.FullName != "Ada Obi" || quote.Session.Contact.Email != "ada@example.com" {
		t.Fatalf("expected sanitised contact, got %+v", quote.Session.Contact)
	}
	if quote.Session.Shipping.Country != "NG" {
		t.Fatalf("expected country upper-cased, got %s", quote.Session.Shipping.Country)
	}
	if quote.Session.Totals.GrandTotal != 465_000 || quote.Session.ItemCount != 2 {
		t.Fatalf("unexpected totals: %+v", quote.Session)
	}
}

func TestCheckoutQuoteTruncatesOnRuneBoundaries(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	w.fillCart(t, "sess-1")

	form := validForm()
	form.Contact.FullName = strings.Repeat("a", maxCheckoutFieldLength-1) + "é"
	form.Shipping.Line1 = strings.Repeat("ọ", maxCheckoutFieldLength)
	quote, err := w.checkout.Quote(ctx, "sess-1", form)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	name := quote.Session.Contact.FullName
	if !utf8.ValidString(name) || name != strings.Repeat("a", maxCheckoutFieldLength-1) {
		t.Fatalf("unexpected full name len=%d valid=%v", len(name), utf8.ValidString(name))
	}
	line1 := quote.Session.Shipping.Line1
	if !utf8.ValidString(line1) || len(line1) > maxCheckoutFieldLength {
		t.Fatalf("unexpected line1 len=%d valid=%v", len(line1), utf8.ValidString(line1))
	}
}

func TestCheckoutQuoteReportsMissingFields(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	w.fillCart(t, "sess-1")

	form := validForm()
	form.Contact.Email = "not-an-email"
	form.Contact.Phone = "12"
	form.Shipping.City = "<script></script>"
	quote, err := w.checkout.Quote(ctx, "sess-1", form)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := []string{FieldEmail, FieldPhone, FieldCity}
	if quote.Valid || !reflect.DeepEqual(quote.MissingFields, want) {
		t.Fatalf("expected missing %v, got %v", want, quote.MissingFields)
	}
}

func TestCheckoutQuotePrefillsFromIdentity(t *testing.T) {
	w := newWorkflow(t)
	w.fillCart(t, "sess-1")
	ctx := requestctx.WithIdentity(context.Background(), requestctx.Identity{
		UserID: "user-7",
		Email:  "Tolu@Example.com",
		Name:   "Tolu Ade",
		Phone:  "+2348000000000",
	})

	form := validForm()
	form.Contact = domain.ContactInfo{FullName: "Someone Else"}
	quote, err := w.checkout.Quote(ctx, "sess-1", form)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	contact := quote.Session.Contact
	if contact.Email != "tolu@example.com" || contact.Phone != "+2348000000000" || contact.FullName != "Someone Else" {
		t.Fatalf("expected blanks prefilled only, got %+v", contact)
	}
}

func TestCheckoutQuotePropagatesCartOutage(t *testing.T) {
	repo := &stubCartRepository{loadFunc: func(context.Context, string) ([]domain.CartLine, error) {
		return nil, unavailableError("cart.load")
	}}
	carts, _ := NewCartService(CartServiceDeps{Repository: repo, Catalog: newTestCatalog()})
	checkout, err := NewCheckoutService(CheckoutServiceDeps{Carts: carts})
	if err != nil {
		t.Fatalf("new checkout: %v", err)
	}
	if _, err := checkout.Quote(context.Background(), "sess-1", validForm()); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected cart unavailable, got %v", err)
	}
}
