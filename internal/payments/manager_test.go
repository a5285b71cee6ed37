package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeGateway struct {
	calls   int
	lastReq Request
	session Session
	err     error
}

func (f *fakeGateway) Open(_ context.Context, req Request) (Session, error) {
	f.calls++
	f.lastReq = req
	return f.session, f.err
}

type fakeVerifier struct {
	calls  int
	result Verification
	err    error
}

func (f *fakeVerifier) Verify(context.Context, VerifyRequest) (Verification, error) {
	f.calls++
	return f.result, f.err
}

func validRequest(currency string) Request {
	return Request{Email: "ada@example.com", AmountMinorUnits: 465_000, Currency: currency}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	inline := &fakeGateway{}
	stripe := &fakeGateway{session: Session{Reference: "pi_1"}}

	mgr, err := NewManager(
		map[string]Gateway{"inline": inline, "Stripe": stripe},
		WithDefaultProvider("inline"),
		WithCurrencyRoutes(map[string]string{"usd": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.Open(context.Background(), validRequest("USD"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.Provider != "stripe" || stripe.calls != 1 || inline.calls != 0 {
		t.Fatalf("expected stripe routing, got %+v", session)
	}

	session, err = mgr.Open(context.Background(), validRequest("NGN"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.Provider != "inline" || inline.calls != 1 {
		t.Fatalf("expected default provider, got %+v", session)
	}
}

func TestManagerSingleGatewayFallback(t *testing.T) {
	gw := &fakeGateway{}
	mgr, err := NewManager(map[string]Gateway{"inline": gw})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Open(context.Background(), validRequest("NGN")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if gw.calls != 1 {
		t.Fatalf("expected single gateway to be used")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Gateway{"a": &fakeGateway{}, "b": &fakeGateway{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Open(context.Background(), validRequest("NGN")); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := mgr.Verify(context.Background(), "a", VerifyRequest{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider for missing verifier, got %v", err)
	}
}

func TestManagerValidatesRequest(t *testing.T) {
	gw := &fakeGateway{}
	mgr, _ := NewManager(map[string]Gateway{"inline": gw})

	bad := []Request{
		{AmountMinorUnits: 1, Currency: "NGN"},
		{Email: "a@b.c", Currency: "NGN"},
		{Email: "a@b.c", AmountMinorUnits: 1},
	}
	for _, req := range bad {
		if _, err := mgr.Open(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
	if gw.calls != 0 {
		t.Fatalf("gateway should not be called for invalid requests")
	}
}

func TestManagerVerifyDelegates(t *testing.T) {
	verifier := &fakeVerifier{result: Verification{Verified: true}}
	mgr, _ := NewManager(map[string]Gateway{"inline": &fakeGateway{}}, WithVerifier("INLINE", verifier))

	got, err := mgr.Verify(context.Background(), "inline", VerifyRequest{Reference: "r"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Verified || verifier.calls != 1 {
		t.Fatalf("expected verifier to be called, got %+v", got)
	}
}

func TestNewManagerValidatesGateways(t *testing.T) {
	if _, err := NewManager(map[string]Gateway{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil gateway")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when gateways empty")
	}
}

func TestInlineGatewayOpen(t *testing.T) {
	gw, err := NewInlineGateway(" pk_test ", []string{"card", "Bank", "card", ""})
	if err != nil {
		t.Fatalf("new inline gateway: %v", err)
	}
	session, err := gw.Open(context.Background(), Request{
		Email:            "ada@example.com",
		Phone:            "+2348000000000",
		AmountMinorUnits: 465_000,
		Currency:         "ngn",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.PublicKey != "pk_test" || session.Reference != "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	channels, _ := session.Params["channels"].([]string)
	if len(channels) != 2 || channels[1] != "bank" {
		t.Fatalf("unexpected channels: %v", session.Params["channels"])
	}
	if session.Params["currency"] != "NGN" || session.Params["amount"] != int64(465_000) {
		t.Fatalf("unexpected params: %+v", session.Params)
	}

	if _, err := NewInlineGateway("", nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
