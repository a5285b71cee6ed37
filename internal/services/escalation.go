package services

import (
	"context"
	"time"
)

// EscalationKind classifies failures routed to support.
type EscalationKind string

const (
	EscalationOrderCreationFailed     EscalationKind = "order_creation_failed"
	EscalationVerificationTimedOut    EscalationKind = "verification_timed_out"
	EscalationVerificationUnavailable EscalationKind = "verification_unavailable"
	EscalationReconciliationExhausted EscalationKind = "reconciliation_exhausted"
	EscalationOutcomeUnrecorded       EscalationKind = "outcome_unrecorded"
	EscalationVerificationResolved    EscalationKind = "verification_resolved"
)

// Escalation describes a payment that may have been charged without a matching order. Outcome
// names the verification or order result, when one is known.
type Escalation struct {
	Kind             EscalationKind
	AttemptID        string
	Reference        string
	Scope            string
	UserID           string
	AmountMinorUnits int64
	Currency         string
	Message          string
	Outcome          string
	OccurredAt       time.Time
}

// Escalator routes escalations to support.
type Escalator interface {
	Escalate(ctx context.Context, escalation Escalation) error
}

// LogEscalator writes escalations to the structured log only.
type LogEscalator struct {
	logger Logger
}

// NewLogEscalator constructs an escalator over logger.
func NewLogEscalator(logger Logger) *LogEscalator {
	if logger == nil {
		logger = noopLogger
	}
	return &LogEscalator{logger: logger}
}

// Escalate logs the escalation.
func (e *LogEscalator) Escalate(ctx context.Context, escalation Escalation) error {
	e.logger(ctx, "payment.escalated", map[string]any{
		"kind":      string(escalation.Kind),
		"attemptId": escalation.AttemptID,
		"reference": escalation.Reference,
		"userId":    escalation.UserID,
		"amount":    escalation.AmountMinorUnits,
		"currency":  escalation.Currency,
		"message":   escalation.Message,
		"outcome":   escalation.Outcome,
	})
	return nil
}
