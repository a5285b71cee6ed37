package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/repositories"
)

var (
	errPaymentAttemptsRequired = errors.New("payment service: attempt repository is required")
	errPaymentCartsRequired    = errors.New("payment service: cart repository is required")
	errPaymentCheckoutRequired = errors.New("payment service: checkout service is required")
	errPaymentGatewayRequired  = errors.New("payment service: gateway is required")
	errPaymentOrdersRequired   = errors.New("payment service: order submitter is required")
)

const (
	defaultVerifyTimeout = 15 * time.Second
	defaultOrderTimeout  = 30 * time.Second
)

// BeginPaymentCommand submits the checkout form and opens a gateway session.
type BeginPaymentCommand struct {
	Scope string
	Form  CheckoutForm
	// AcknowledgeUnresolvedPayment lets a shopper start over after being told a previous payment
	// succeeded without an order.
	AcknowledgeUnresolvedPayment bool
}

// PaymentEventCommand forwards a gateway callback for an attempt of the session.
type PaymentEventCommand struct {
	Scope     string
	AttemptID string
	Event     payments.Event
}

// PaymentResult is the attempt after a command, with the shopper-facing notice. Session is set
// by Begin; Order is set once the order exists.
type PaymentResult struct {
	Attempt payments.Attempt
	Session *payments.Session
	Order   *domain.Order
	Notice  Notice
}

// PaymentServiceDeps wires the dependencies of the payment workflow.
type PaymentServiceDeps struct {
	Attempts      repositories.AttemptRepository
	Carts         repositories.CartRepository
	Checkout      CheckoutService
	Gateway       PaymentGateway
	Orders        OrderSubmitter
	Escalator     Escalator
	Locks         *SessionLocks
	Metrics       Metrics
	Clock         func() time.Time
	Logger        Logger
	IDGenerator   func() string
	Channels      []string
	VerifyTimeout time.Duration
	OrderTimeout  time.Duration
	// OutcomeRetries and OutcomeBackoff bound the retries of saves that follow a verification
	// or order call.
	OutcomeRetries int
	OutcomeBackoff time.Duration
}

type paymentService struct {
	attempts      repositories.AttemptRepository
	carts         repositories.CartRepository
	checkout      CheckoutService
	gateway       PaymentGateway
	orders        OrderSubmitter
	escalator     Escalator
	locks         *SessionLocks
	metrics       Metrics
	now           func() time.Time
	logger        Logger
	newID         func() string
	channels      []string
	verifyTimeout time.Duration
	orderTimeout  time.Duration
	recorder      outcomeRecorder
}

// NewPaymentService constructs a PaymentService enforcing dependency validation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	switch {
	case deps.Attempts == nil:
		return nil, errPaymentAttemptsRequired
	case deps.Carts == nil:
		return nil, errPaymentCartsRequired
	case deps.Checkout == nil:
		return nil, errPaymentCheckoutRequired
	case deps.Gateway == nil:
		return nil, errPaymentGatewayRequired
	case deps.Orders == nil:
		return nil, errPaymentOrdersRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	escalator := deps.Escalator
	if escalator == nil {
		escalator = NewLogEscalator(logger)
	}
	var metrics Metrics = noopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewSessionLocks(0)
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	verifyTimeout := deps.VerifyTimeout
	if verifyTimeout <= 0 {
		verifyTimeout = defaultVerifyTimeout
	}
	orderTimeout := deps.OrderTimeout
	if orderTimeout <= 0 {
		orderTimeout = defaultOrderTimeout
	}

	return &paymentService{
		attempts:      deps.Attempts,
		carts:         deps.Carts,
		checkout:      deps.Checkout,
		gateway:       deps.Gateway,
		orders:        deps.Orders,
		escalator:     escalator,
		locks:         locks,
		metrics:       metrics,
		now:           utcClock(deps.Clock),
		logger:        logger,
		newID:         idGen,
		channels:      append([]string(nil), deps.Channels...),
		verifyTimeout: verifyTimeout,
		orderTimeout:  orderTimeout,
		recorder:      newOutcomeRecorder(deps.Attempts, locks, metrics, logger, deps.OutcomeRetries, deps.OutcomeBackoff),
	}, nil
}

// Begin validates the checkout, records an Initiated attempt and opens the gateway session.
// The attempt is persisted before the gateway is contacted so a concurrent submit sees it.
func (s *paymentService) Begin(ctx context.Context, cmd BeginPaymentCommand) (PaymentResult, error) {
	scope := strings.TrimSpace(cmd.Scope)
	if scope == "" {
		return PaymentResult{}, ErrPaymentInvalidInput
	}

	quote, err := s.checkout.Quote(ctx, scope, cmd.Form)
	if err != nil {
		return PaymentResult{}, err
	}
	if quote.Cart.IsEmpty() {
		return PaymentResult{}, ErrCheckoutEmptyCart
	}
	if !quote.Valid {
		return PaymentResult{}, &CheckoutValidationError{MissingFields: quote.MissingFields}
	}

	attempt, err := s.createAttempt(ctx, scope, quote, cmd.AcknowledgeUnresolvedPayment)
	if err != nil {
		return PaymentResult{}, err
	}

	session, err := s.gateway.Open(ctx, payments.Request{
		Email:            attempt.Checkout.Contact.Email,
		Phone:            attempt.Checkout.Contact.Phone,
		AmountMinorUnits: attempt.AmountMinorUnits,
		Currency:         attempt.Currency,
		Channels:         s.channels,
		IdempotencyKey:   attempt.ID,
		Metadata:         map[string]string{"attemptId": attempt.ID},
	})
	if err != nil {
		s.logger(ctx, "payment.gateway.open.failed", map[string]any{"attemptId": attempt.ID, "error": err.Error()})
		errored, uerr := s.update(ctx, scope, attempt.ID, func(a payments.Attempt) (payments.Attempt, error) {
			return payments.Transition(a, payments.Event{Kind: payments.EventError, Message: "payment gateway unavailable"}, s.now())
		})
		if uerr != nil {
			return PaymentResult{}, uerr
		}
		return s.result(errored), fmt.Errorf("%w: %w", ErrPaymentGatewayUnavailable, err)
	}

	opened, err := s.update(ctx, scope, attempt.ID, func(a payments.Attempt) (payments.Attempt, error) {
		if a.Status != payments.StatusInitiated {
			return a, fmt.Errorf("%w: gateway opened in %s", payments.ErrInvalidTransition, a.Status)
		}
		a.Provider = session.Provider
		a.ExpectedReference = strings.TrimSpace(session.Reference)
		a.UpdatedAt = s.now()
		return a, nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	result := s.result(opened)
	result.Session = &session
	return result, nil
}

func (s *paymentService) createAttempt(ctx context.Context, scope string, quote CheckoutQuote, acknowledge bool) (payments.Attempt, error) {
	unlock := s.locks.Lock(scope)
	defer unlock()

	if err := s.ensureIdle(ctx, scope, acknowledge); err != nil {
		return payments.Attempt{}, err
	}

	now := s.now()
	attempt := payments.Attempt{
		ID:               s.newID(),
		SessionScope:     scope,
		Status:           payments.StatusInitiated,
		AmountMinorUnits: quote.Session.Totals.GrandTotal,
		Currency:         quote.Session.Totals.Currency,
		Checkout:         quote.Session,
		Lines:            append([]domain.CartLine(nil), quote.Cart.Lines...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		attempt.UserID = identity.UserID
	}
	if err := s.attempts.Save(ctx, attempt); err != nil {
		return payments.Attempt{}, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	s.metrics.ObserveTransition("", string(attempt.Status))
	s.logger(ctx, "payment.attempt.created", map[string]any{
		"attemptId": attempt.ID,
		"amount":    attempt.AmountMinorUnits,
		"currency":  attempt.Currency,
	})
	return attempt, nil
}

// ensureIdle must be called with the session lock held.
func (s *paymentService) ensureIdle(ctx context.Context, scope string, acknowledge bool) error {
	current, err := s.attempts.Current(ctx, scope)
	switch {
	case repositories.IsNotFound(err):
		return nil
	case repositories.IsCorrupt(err):
		s.logger(ctx, "payment.attempt.corrupt", map[string]any{"error": err.Error()})
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}

	if !current.Status.IsTerminal() {
		return ErrPaymentInProgress
	}
	if current.Status != payments.StatusOrderCreationFailed || current.Acknowledged {
		return nil
	}
	if !acknowledge {
		return ErrPaymentUnresolved
	}
	current.Acknowledged = true
	current.UpdatedAt = s.now()
	if err := s.attempts.Save(ctx, current); err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	s.logger(ctx, "payment.unresolved.acknowledged", map[string]any{
		"attemptId": current.ID,
		"reference": current.Reference,
	})
	return nil
}

// HandleEvent applies a gateway callback. A success report is verified before any order is
// created; verification and order creation run outside the session lock and survive the caller
// going away.
func (s *paymentService) HandleEvent(ctx context.Context, cmd PaymentEventCommand) (PaymentResult, error) {
	scope := strings.TrimSpace(cmd.Scope)
	attemptID := strings.TrimSpace(cmd.AttemptID)
	if scope == "" || attemptID == "" {
		return PaymentResult{}, ErrPaymentInvalidInput
	}
	if !cmd.Event.Kind.ClientEvent() {
		return PaymentResult{}, fmt.Errorf("%w: %q", ErrPaymentInvalidEvent, cmd.Event.Kind)
	}

	attempt, err := s.update(ctx, scope, attemptID, func(a payments.Attempt) (payments.Attempt, error) {
		return payments.Transition(a, cmd.Event, s.now())
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if attempt.Status != payments.StatusSucceededClient {
		return s.result(attempt), nil
	}

	// A SucceededClient attempt is queued, so the reconciler picks it up if this save never lands.
	attempt, err = s.recorder.record(ctx, scope, attemptID, func(a payments.Attempt) (payments.Attempt, error) {
		return payments.Transition(a, payments.Event{Kind: payments.EventVerifyStarted}, s.now())
	})
	if err != nil {
		return PaymentResult{}, err
	}
	return s.verifyAndSubmit(context.WithoutCancel(ctx), attempt)
}

func (s *paymentService) verifyAndSubmit(ctx context.Context, attempt payments.Attempt) (PaymentResult, error) {
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	verification, err := s.gateway.Verify(vctx, attempt.Provider, payments.VerifyRequest{
		Reference:        attempt.Reference,
		AmountMinorUnits: attempt.AmountMinorUnits,
		Currency:         attempt.Currency,
	})
	timedOut := err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(vctx.Err(), context.DeadlineExceeded))
	cancel()

	event := payments.Event{Kind: payments.EventVerified, Verification: verification.Data}
	var escalation EscalationKind
	switch {
	case timedOut:
		event = payments.Event{Kind: payments.EventVerifyTimedOut, Message: "verification timed out"}
		escalation = EscalationVerificationTimedOut
	case err != nil:
		event = payments.Event{Kind: payments.EventVerifyUnavailable, Message: "verification unavailable"}
		escalation = EscalationVerificationUnavailable
	case verification.Pending:
		event = payments.Event{Kind: payments.EventVerifyPending, Message: verification.Message, Verification: verification.Data}
	case !verification.Verified:
		event = payments.Event{Kind: payments.EventVerifyRejected, Message: verification.Message, Verification: verification.Data}
	}
	if err != nil {
		s.logger(ctx, "payment.verify.failed", map[string]any{
			"attemptId": attempt.ID,
			"reference": attempt.Reference,
			"timedOut":  timedOut,
			"error":     err.Error(),
		})
	}

	verified, uerr := s.recorder.record(ctx, attempt.SessionScope, attempt.ID, func(a payments.Attempt) (payments.Attempt, error) {
		return payments.Transition(a, event, s.now())
	})
	if uerr != nil {
		s.escalateUnrecorded(ctx, attempt, string(event.Kind), uerr)
		return PaymentResult{}, uerr
	}
	if escalation != "" {
		s.escalate(ctx, verified, escalation, event.Message)
	}
	if verified.Status != payments.StatusVerified {
		return s.result(verified), nil
	}
	return s.submitOrder(ctx, verified)
}

func (s *paymentService) submitOrder(ctx context.Context, attempt payments.Attempt) (PaymentResult, error) {
	octx, cancel := context.WithTimeout(ctx, s.orderTimeout)
	order, err := s.orders.CreateOrder(octx, orderRequestFor(attempt))
	cancel()

	if err != nil {
		message := orderFailureMessage(err)
		s.logger(ctx, "payment.order.failed", map[string]any{
			"attemptId": attempt.ID,
			"reference": attempt.Reference,
			"error":     err.Error(),
		})
		failed, uerr := s.recorder.record(ctx, attempt.SessionScope, attempt.ID, func(a payments.Attempt) (payments.Attempt, error) {
			return payments.Transition(a, payments.Event{Kind: payments.EventOrderFailed, Message: message}, s.now())
		})
		if uerr != nil {
			s.escalateUnrecorded(ctx, attempt, string(payments.EventOrderFailed), uerr)
			return PaymentResult{}, uerr
		}
		s.escalate(ctx, failed, EscalationOrderCreationFailed, err.Error())
		return s.result(failed), nil
	}

	created, err := s.recorder.record(ctx, attempt.SessionScope, attempt.ID, func(a payments.Attempt) (payments.Attempt, error) {
		return payments.Transition(a, payments.Event{
			Kind:        payments.EventOrderCreated,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
		}, s.now())
	})
	if err != nil {
		s.escalateUnrecorded(ctx, attempt, fmt.Sprintf("%s %s", payments.EventOrderCreated, order.OrderNumber), err)
		return PaymentResult{}, err
	}
	clearOrderedCart(ctx, s.locks, s.attempts, s.carts, s.logger, created)

	result := s.result(created)
	result.Order = &order
	return result, nil
}

// Current returns the session's latest attempt.
func (s *paymentService) Current(ctx context.Context, scope string) (PaymentResult, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return PaymentResult{}, ErrPaymentInvalidInput
	}
	attempt, err := s.attempts.Current(ctx, scope)
	switch {
	case repositories.IsNotFound(err):
		return PaymentResult{}, ErrPaymentNotFound
	case repositories.IsCorrupt(err):
		s.logger(ctx, "payment.attempt.corrupt", map[string]any{"error": err.Error()})
		return PaymentResult{}, ErrPaymentNotFound
	case err != nil:
		return PaymentResult{}, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	return s.result(attempt), nil
}

// update loads the attempt under the session lock, applies fn and saves the result.
func (s *paymentService) update(ctx context.Context, scope, attemptID string, fn func(payments.Attempt) (payments.Attempt, error)) (payments.Attempt, error) {
	return s.recorder.update(ctx, scope, attemptID, fn)
}

// escalateUnrecorded reports an outcome that was learned but could not be saved. The attempt
// stays queued at its last saved status until the reconciler asks again.
func (s *paymentService) escalateUnrecorded(ctx context.Context, attempt payments.Attempt, outcome string, err error) {
	s.logger(ctx, "payment.outcome.unrecorded", map[string]any{
		"attemptId": attempt.ID,
		"reference": attempt.Reference,
		"outcome":   outcome,
		"error":     err.Error(),
	})
	escalation := s.escalation(attempt, EscalationOutcomeUnrecorded, err.Error())
	escalation.Outcome = outcome
	publishEscalation(ctx, s.escalator, s.metrics, s.logger, escalation)
}

func (s *paymentService) escalate(ctx context.Context, attempt payments.Attempt, kind EscalationKind, message string) {
	publishEscalation(ctx, s.escalator, s.metrics, s.logger, s.escalation(attempt, kind, message))
}

func (s *paymentService) escalation(attempt payments.Attempt, kind EscalationKind, message string) Escalation {
	return Escalation{
		Kind:             kind,
		AttemptID:        attempt.ID,
		Reference:        attempt.Reference,
		Scope:            attempt.SessionScope,
		UserID:           attempt.UserID,
		AmountMinorUnits: attempt.AmountMinorUnits,
		Currency:         attempt.Currency,
		Message:          message,
		OccurredAt:       s.now(),
	}
}

func (s *paymentService) result(attempt payments.Attempt) PaymentResult {
	return PaymentResult{Attempt: attempt, Notice: NoticeFor(attempt)}
}

func saveTransition(ctx context.Context, attempts repositories.AttemptRepository, metrics Metrics, logger Logger, scope, attemptID string, fn func(payments.Attempt) (payments.Attempt, error)) (payments.Attempt, error) {
	current, err := attempts.Get(ctx, scope, attemptID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return payments.Attempt{}, ErrPaymentNotFound
		}
		return payments.Attempt{}, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if err := attempts.Save(ctx, next); err != nil {
		return current, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	if next.Status != current.Status {
		metrics.ObserveTransition(string(current.Status), string(next.Status))
		logger(ctx, "payment.attempt.transitioned", map[string]any{
			"attemptId": next.ID,
			"from":      string(current.Status),
			"to":        string(next.Status),
		})
	}
	return next, nil
}

func publishEscalation(ctx context.Context, escalator Escalator, metrics Metrics, logger Logger, escalation Escalation) {
	metrics.ObserveEscalation(string(escalation.Kind))
	if err := escalator.Escalate(ctx, escalation); err != nil {
		logger(ctx, "payment.escalation.failed", map[string]any{
			"kind":      string(escalation.Kind),
			"attemptId": escalation.AttemptID,
			"reference": escalation.Reference,
			"error":     err.Error(),
		})
	}
}

func orderRequestFor(attempt payments.Attempt) backend.OrderRequest {
	return backend.OrderRequest{
		UserID:          attempt.UserID,
		Lines:           attempt.Lines,
		ShippingAddress: attempt.Checkout.Shipping,
		Contact:         attempt.Checkout.Contact,
		PaymentMethod:   attempt.Provider,
		Payment: domain.PaymentDetails{
			Reference:           attempt.Reference,
			Status:              attempt.ClientStatus,
			RawIDs:              attempt.RawIDs,
			VerificationPayload: attempt.Verification,
		},
	}
}

func orderFailureMessage(err error) string {
	var rejected *backend.RejectionError
	if errors.As(err, &rejected) && rejected.Message != "" {
		return rejected.Message
	}
	if errors.Is(err, backend.ErrUnavailable) {
		return "order service unavailable"
	}
	return "order could not be created"
}
