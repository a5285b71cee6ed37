package payments

import (
	"context"
	"errors"
	"strings"
)

// InlineGateway serves popup-style gateways where the browser SDK is opened with a public key and
// the reference is only known once the success callback fires.
type InlineGateway struct {
	publicKey string
	channels  []string
}

// NewInlineGateway constructs an InlineGateway. Channels apply when a request omits them.
func NewInlineGateway(publicKey string, channels []string) (*InlineGateway, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return nil, errors.New("inline gateway: public key is required")
	}
	return &InlineGateway{publicKey: publicKey, channels: cleanChannels(channels)}, nil
}

// Open returns the popup parameters. No network call is made.
func (g *InlineGateway) Open(_ context.Context, req Request) (Session, error) {
	channels := cleanChannels(req.Channels)
	if len(channels) == 0 {
		channels = append([]string(nil), g.channels...)
	}
	params := map[string]any{
		"key":      g.publicKey,
		"email":    strings.TrimSpace(req.Email),
		"amount":   req.AmountMinorUnits,
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
		"channels": channels,
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		params["phone"] = phone
	}
	if len(req.Metadata) > 0 {
		meta := make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			meta[k] = v
		}
		params["metadata"] = meta
	}
	return Session{PublicKey: g.publicKey, Params: params}, nil
}

func cleanChannels(channels []string) []string {
	out := make([]string, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}
