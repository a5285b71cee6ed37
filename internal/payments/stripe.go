package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the Stripe gateway and verifier.
type StripeConfig struct {
	APIKey         string
	PublishableKey string
	AccountID      string
	Backends       *stripe.Backends
	Logger         Logger

	intents stripePaymentIntentAPI
}

// Stripe opens PaymentIntents for the Payment Element and verifies them by id.
type Stripe struct {
	intents        stripePaymentIntentAPI
	publishableKey string
	account        string
	logger         Logger
}

// NewStripe constructs the Stripe adapter.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Stripe{
		intents:        intents,
		publishableKey: strings.TrimSpace(cfg.PublishableKey),
		account:        strings.TrimSpace(cfg.AccountID),
		logger:         logger,
	}, nil
}

// Open creates a PaymentIntent. Its id becomes the reference that success reports must echo.
func (s *Stripe) Open(ctx context.Context, req Request) (Session, error) {
	if s == nil {
		return Session{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinorUnits),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if channels := cleanChannels(req.Channels); len(channels) > 0 {
		params.PaymentMethodTypes = stripe.StringSlice(channels)
	}
	if len(req.Metadata) > 0 || req.Phone != "" {
		params.Metadata = make(map[string]string, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
		if phone := strings.TrimSpace(req.Phone); phone != "" {
			params.Metadata["phone"] = phone
		}
	}

	intent, err := s.intents.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	s.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	return Session{
		Provider:     "stripe",
		PublicKey:    s.publishableKey,
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
		Params: map[string]any{
			"key":           s.publishableKey,
			"paymentIntent": intent.ID,
			"amount":        intent.Amount,
			"currency":      strings.ToUpper(string(intent.Currency)),
		},
	}, nil
}

// Verify retrieves the PaymentIntent and accepts it only when it succeeded for the expected
// amount and currency. Processing and uncaptured intents are reported as pending. An unknown
// intent is a definitive rejection.
func (s *Stripe) Verify(ctx context.Context, req VerifyRequest) (Verification, error) {
	if s == nil {
		return Verification{}, errors.New("stripe: verifier is nil")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return Verification{Message: "payment reference is missing"}, nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}
	intent, err := s.intents.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return Verification{Message: "payment not found"}, nil
		}
		return Verification{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	result := Verification{Data: stripeIntentData(intent)}
	switch {
	case intent.Amount != req.AmountMinorUnits:
		result.Message = "payment amount does not match the order total"
	case !strings.EqualFold(string(intent.Currency), req.Currency):
		result.Message = "payment currency does not match the order currency"
	case intent.Status == stripe.PaymentIntentStatusProcessing, intent.Status == stripe.PaymentIntentStatusRequiresCapture:
		result.Pending = true
		result.Message = fmt.Sprintf("payment status is %s", intent.Status)
	case intent.Status != stripe.PaymentIntentStatusSucceeded:
		result.Message = fmt.Sprintf("payment status is %s", intent.Status)
	default:
		result.Verified = true
	}

	s.logger(ctx, "payments.stripe.intent.verified", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"verified":      result.Verified,
		"pending":       result.Pending,
	})
	return result, nil
}

func stripeIntentData(intent *stripe.PaymentIntent) map[string]any {
	raw := map[string]any{}
	if intent == nil {
		return raw
	}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	// client_secret must not travel to the order backend.
	delete(raw, "client_secret")
	raw["provider"] = "stripe"
	return raw
}
