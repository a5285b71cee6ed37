package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"finitefield.org/storefront/internal/services"
)

// EscalationMessage is the JSON body published for each escalation.
type EscalationMessage struct {
	Kind             string    `json:"kind"`
	AttemptID        string    `json:"attemptId"`
	Reference        string    `json:"reference,omitempty"`
	Scope            string    `json:"scope"`
	UserID           string    `json:"userId,omitempty"`
	AmountMinorUnits int64     `json:"amountMinorUnits"`
	Currency         string    `json:"currency"`
	Message          string    `json:"message,omitempty"`
	Outcome          string    `json:"outcome,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// PubSubEscalationPublisher routes payment escalations to a Pub/Sub topic watched by support.
type PubSubEscalationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.Escalator = (*PubSubEscalationPublisher)(nil)

// NewPubSubEscalationPublisher constructs a Pub/Sub backed escalator.
func NewPubSubEscalationPublisher(topic *pubsub.Topic) (*PubSubEscalationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub escalation publisher: topic is required")
	}
	return &PubSubEscalationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Escalate publishes the escalation and waits for the server to acknowledge it.
func (p *PubSubEscalationPublisher) Escalate(ctx context.Context, escalation services.Escalation) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub escalation publisher: not initialised")
	}

	data, err := p.marshal(EscalationMessage{
		Kind:             string(escalation.Kind),
		AttemptID:        escalation.AttemptID,
		Reference:        escalation.Reference,
		Scope:            escalation.Scope,
		UserID:           escalation.UserID,
		AmountMinorUnits: escalation.AmountMinorUnits,
		Currency:         escalation.Currency,
		Message:          escalation.Message,
		Outcome:          escalation.Outcome,
		OccurredAt:       escalation.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", string(escalation.Kind))
	setAttr(attrs, "attemptId", escalation.AttemptID)
	setAttr(attrs, "reference", escalation.Reference)
	setAttr(attrs, "scope", escalation.Scope)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish escalation: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
