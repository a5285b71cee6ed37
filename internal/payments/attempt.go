package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/platform/textutil"
)

var (
	// ErrInvalidTransition is returned when an event is not legal in the attempt's current status.
	ErrInvalidTransition = errors.New("payments: invalid transition")
	// ErrReferenceMismatch is returned when a success report names a different reference than the
	// one fixed when the gateway session was opened.
	ErrReferenceMismatch = errors.New("payments: reference mismatch")
	// ErrMissingReference is returned when a success report carries no reference.
	ErrMissingReference = errors.New("payments: missing reference")
	// ErrUnknownEvent is returned for event kinds the state machine does not know.
	ErrUnknownEvent = errors.New("payments: unknown event")
)

// Status is the lifecycle state of a payment attempt.
type Status string

const (
	StatusInitiated           Status = "initiated"
	StatusSucceededClient     Status = "succeeded_client"
	StatusVerifying           Status = "verifying"
	StatusVerified            Status = "verified"
	StatusVerifyFailed        Status = "verify_failed"
	StatusVerifyTimedOut      Status = "verify_timed_out"
	StatusCancelled           Status = "cancelled"
	StatusErrored             Status = "errored"
	StatusOrderCreated        Status = "order_created"
	StatusOrderCreationFailed Status = "order_creation_failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusInitiated,
	StatusSucceededClient,
	StatusVerifying,
	StatusVerified,
	StatusVerifyFailed,
	StatusVerifyTimedOut,
	StatusCancelled,
	StatusErrored,
	StatusOrderCreated,
	StatusOrderCreationFailed,
}

// IsTerminal reports whether no further client-driven events apply. OrderCreationFailed and
// unresolved verification failures are terminal for the shopper even though reconciliation may
// still move them forward.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusInitiated, StatusSucceededClient, StatusVerifying, StatusVerified:
		return false
	default:
		return true
	}
}

// NeedsReconciliation reports whether every attempt in s belongs in the reconciliation queue.
// Attempts whose verification ended without an answer are queued too; see
// Attempt.NeedsReconciliation.
func (s Status) NeedsReconciliation() bool {
	switch s {
	case StatusSucceededClient, StatusVerifying, StatusVerified, StatusOrderCreationFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[Status][]Status{
	StatusInitiated:           {StatusInitiated, StatusSucceededClient, StatusCancelled, StatusErrored},
	StatusSucceededClient:     {StatusVerifying},
	StatusVerifying:           {StatusVerifying, StatusVerified, StatusVerifyFailed, StatusVerifyTimedOut},
	StatusVerified:            {StatusOrderCreated, StatusOrderCreationFailed},
	StatusVerifyFailed:        {StatusVerified, StatusVerifyFailed},
	StatusVerifyTimedOut:      {StatusVerified, StatusVerifyFailed},
	StatusCancelled:           {},
	StatusErrored:             {},
	StatusOrderCreated:        {},
	StatusOrderCreationFailed: {StatusOrderCreated},
}

// CanTransition reports whether the state machine has an edge from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FailureCode records why an attempt ended unsuccessfully.
type FailureCode string

const (
	FailureGatewayError            FailureCode = "gateway_error"
	FailureVerificationRejected    FailureCode = "verification_rejected"
	FailureVerificationUnavailable FailureCode = "verification_unavailable"
	FailureVerificationTimedOut    FailureCode = "verification_timed_out"
	FailureVerificationPending     FailureCode = "verification_pending"
	FailureOrderCreation           FailureCode = "order_creation_failed"
)

// EventKind tags the events consumed by Transition.
type EventKind string

const (
	// Client-reported gateway callbacks.
	EventLoad    EventKind = "load"
	EventSuccess EventKind = "success"
	EventCancel  EventKind = "cancel"
	EventError   EventKind = "error"

	// Workflow events raised by the server.
	EventVerifyStarted     EventKind = "verify_started"
	EventVerified          EventKind = "verified"
	EventVerifyRejected    EventKind = "verify_rejected"
	EventVerifyUnavailable EventKind = "verify_unavailable"
	EventVerifyTimedOut    EventKind = "verify_timed_out"
	EventVerifyPending     EventKind = "verify_pending"
	EventOrderCreated      EventKind = "order_created"
	EventOrderFailed       EventKind = "order_failed"
	EventReconciled        EventKind = "reconciled"
)

// ClientEvent reports whether kind may be submitted by the browser.
func (k EventKind) ClientEvent() bool {
	switch k {
	case EventLoad, EventSuccess, EventCancel, EventError:
		return true
	default:
		return false
	}
}

// Event drives an attempt forward. Only the fields relevant to Kind are read.
type Event struct {
	Kind         EventKind
	Reference    string
	Status       string
	RawIDs       map[string]string
	Message      string
	Meta         map[string]any
	Verification map[string]any
	OrderID      string
	OrderNumber  string
}

// Attempt is one shopper's attempt to pay for the cart. The checkout and cart snapshots let an
// order be submitted after the cart has changed or the shopper has left.
type Attempt struct {
	ID                string
	SessionScope      string
	UserID            string
	Provider          string
	Reference         string
	ExpectedReference string
	Status            Status
	AmountMinorUnits  int64
	Currency          string
	Checkout          domain.CheckoutSession
	Lines             []domain.CartLine
	ClientStatus      string
	RawIDs            map[string]string
	LoadMeta          map[string]any
	Verification      map[string]any
	OrderID           string
	OrderNumber       string
	FailureCode       FailureCode
	FailureMessage    string
	Acknowledged      bool
	ReconcileAttempts int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	VerifyStartedAt   time.Time
}

// VerificationUnresolved reports whether verification ended without a definitive answer, so the
// shopper may have been charged. Only these failed attempts can be verified again.
func (a Attempt) VerificationUnresolved() bool {
	switch a.Status {
	case StatusVerifyTimedOut:
		return true
	case StatusVerifyFailed:
		return a.FailureCode == FailureVerificationUnavailable || a.FailureCode == FailureVerificationPending
	default:
		return false
	}
}

// NeedsReconciliation reports whether the attempt belongs in the reconciliation queue.
func (a Attempt) NeedsReconciliation() bool {
	return a.Status.NeedsReconciliation() || a.VerificationUnresolved()
}

// Transition applies event to attempt and returns the updated copy. The input is not modified.
func Transition(attempt Attempt, event Event, now time.Time) (Attempt, error) {
	next := attempt
	var to Status

	switch event.Kind {
	case EventLoad:
		to = StatusInitiated
		if len(event.Meta) > 0 {
			next.LoadMeta = copyAnyMap(event.Meta)
		}
	case EventSuccess:
		to = StatusSucceededClient
		if attempt.Status == StatusInitiated {
			reference := strings.TrimSpace(event.Reference)
			if reference == "" {
				return attempt, ErrMissingReference
			}
			if attempt.ExpectedReference != "" && reference != attempt.ExpectedReference {
				return attempt, fmt.Errorf("%w: got %q", ErrReferenceMismatch, reference)
			}
			next.Reference = reference
			next.ClientStatus = strings.TrimSpace(event.Status)
			next.RawIDs = textutil.NormalizeStringMap(event.RawIDs)
		}
	case EventCancel:
		to = StatusCancelled
	case EventError:
		to = StatusErrored
		next.FailureCode = FailureGatewayError
		next.FailureMessage = strings.TrimSpace(event.Message)
	case EventVerifyStarted:
		to = StatusVerifying
		next.VerifyStartedAt = now
	case EventVerified:
		to = StatusVerified
		next.Verification = copyAnyMap(event.Verification)
		next.FailureCode = ""
		next.FailureMessage = ""
	case EventVerifyRejected, EventVerifyUnavailable, EventVerifyPending:
		to = StatusVerifyFailed
		switch event.Kind {
		case EventVerifyUnavailable:
			next.FailureCode = FailureVerificationUnavailable
		case EventVerifyPending:
			next.FailureCode = FailureVerificationPending
		default:
			next.FailureCode = FailureVerificationRejected
		}
		next.FailureMessage = strings.TrimSpace(event.Message)
		if len(event.Verification) > 0 {
			next.Verification = copyAnyMap(event.Verification)
		}
	case EventVerifyTimedOut:
		to = StatusVerifyTimedOut
		next.FailureCode = FailureVerificationTimedOut
		next.FailureMessage = strings.TrimSpace(event.Message)
	case EventOrderCreated:
		if attempt.Status != StatusVerified {
			return attempt, invalidTransition(attempt.Status, event.Kind)
		}
		to = StatusOrderCreated
		next.OrderID = event.OrderID
		next.OrderNumber = event.OrderNumber
		next.FailureCode = ""
		next.FailureMessage = ""
	case EventOrderFailed:
		to = StatusOrderCreationFailed
		next.FailureCode = FailureOrderCreation
		next.FailureMessage = strings.TrimSpace(event.Message)
		next.Acknowledged = false
	case EventReconciled:
		if attempt.Status != StatusOrderCreationFailed {
			return attempt, invalidTransition(attempt.Status, event.Kind)
		}
		to = StatusOrderCreated
		next.OrderID = event.OrderID
		next.OrderNumber = event.OrderNumber
		next.FailureCode = ""
		next.FailureMessage = ""
	default:
		return attempt, fmt.Errorf("%w: %q", ErrUnknownEvent, event.Kind)
	}

	if !CanTransition(attempt.Status, to) {
		return attempt, invalidTransition(attempt.Status, event.Kind)
	}
	if attempt.Status == StatusVerifyFailed && !attempt.VerificationUnresolved() {
		return attempt, invalidTransition(attempt.Status, event.Kind)
	}
	next.Status = to
	next.UpdatedAt = now
	return next, nil
}

func invalidTransition(from Status, kind EventKind) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, kind, from)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
