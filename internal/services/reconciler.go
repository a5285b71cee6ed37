package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/repositories"
)

var (
	errReconcilerAttemptsRequired = errors.New("reconciler: attempt repository is required")
	errReconcilerCartsRequired    = errors.New("reconciler: cart repository is required")
	errReconcilerGatewayRequired  = errors.New("reconciler: gateway is required")
	errReconcilerOrdersRequired   = errors.New("reconciler: order submitter is required")
)

const (
	defaultReconcileStaleAfter  = 2 * time.Minute
	defaultReconcileMaxAttempts = 10
)

// ReconcilerDeps wires the background reconciliation of attempts left mid-flight.
type ReconcilerDeps struct {
	Attempts      repositories.AttemptRepository
	Carts         repositories.CartRepository
	Gateway       PaymentGateway
	Orders        OrderSubmitter
	Escalator     Escalator
	Metrics       Metrics
	Locks         *SessionLocks
	Clock         func() time.Time
	Logger        Logger
	StaleAfter    time.Duration
	MaxAttempts   int
	VerifyTimeout time.Duration
	OrderTimeout  time.Duration
	// OutcomeRetries and OutcomeBackoff bound the retries of saves that follow a verification
	// or order call.
	OutcomeRetries int
	OutcomeBackoff time.Duration
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Scanned       int
	Skipped       int
	Verified      int
	Rejected      int
	OrdersCreated int
	Retried       int
	Exhausted     int
	Dequeued      int
}

// Reconciler re-verifies attempts whose verification never reached a definitive answer and
// resubmits orders for verified payments that have none. It only ever verifies references; it
// never charges.
type Reconciler struct {
	attempts      repositories.AttemptRepository
	carts         repositories.CartRepository
	gateway       PaymentGateway
	orders        OrderSubmitter
	escalator     Escalator
	metrics       Metrics
	locks         *SessionLocks
	now           func() time.Time
	logger        Logger
	staleAfter    time.Duration
	maxAttempts   int
	verifyTimeout time.Duration
	orderTimeout  time.Duration
	recorder      outcomeRecorder
}

// NewReconciler validates deps and applies defaults.
func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	switch {
	case deps.Attempts == nil:
		return nil, errReconcilerAttemptsRequired
	case deps.Carts == nil:
		return nil, errReconcilerCartsRequired
	case deps.Gateway == nil:
		return nil, errReconcilerGatewayRequired
	case deps.Orders == nil:
		return nil, errReconcilerOrdersRequired
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
	r := &Reconciler{
		attempts:      deps.Attempts,
		carts:         deps.Carts,
		gateway:       deps.Gateway,
		orders:        deps.Orders,
		escalator:     escalator,
		metrics:       metrics,
		locks:         locks,
		now:           utcClock(deps.Clock),
		logger:        logger,
		staleAfter:    deps.StaleAfter,
		maxAttempts:   deps.MaxAttempts,
		verifyTimeout: deps.VerifyTimeout,
		orderTimeout:  deps.OrderTimeout,
		recorder:      newOutcomeRecorder(deps.Attempts, locks, metrics, logger, deps.OutcomeRetries, deps.OutcomeBackoff),
	}
	if r.staleAfter <= 0 {
		r.staleAfter = defaultReconcileStaleAfter
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultReconcileMaxAttempts
	}
	if r.verifyTimeout <= 0 {
		r.verifyTimeout = defaultVerifyTimeout
	}
	if r.orderTimeout <= 0 {
		r.orderTimeout = defaultOrderTimeout
	}
	return r, nil
}

// Run calls RunOnce every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconciler: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil {
				r.logger(ctx, "reconcile.pass.failed", map[string]any{"error": err.Error()})
				continue
			}
			if report.Scanned > 0 {
				r.logger(ctx, "reconcile.pass.completed", map[string]any{
					"scanned":       report.Scanned,
					"skipped":       report.Skipped,
					"verified":      report.Verified,
					"rejected":      report.Rejected,
					"ordersCreated": report.OrdersCreated,
					"retried":       report.Retried,
					"exhausted":     report.Exhausted,
					"dequeued":      report.Dequeued,
				})
			}
		}
	}
}

// RunOnce processes the reconciliation queue oldest first. Failures on one entry are logged and
// counted; only a failure to read the queue is returned.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	entries, err := r.attempts.PendingReconciliation(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		r.reconcile(ctx, entry, &report)
	}
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, entry repositories.ReconcileEntry, report *ReconcileReport) {
	attempt, err := r.attempts.Get(ctx, entry.Scope, entry.AttemptID)
	if err != nil {
		if repositories.IsNotFound(err) || repositories.IsCorrupt(err) {
			r.dequeue(ctx, entry, report)
			return
		}
		r.logger(ctx, "reconcile.attempt.load_failed", map[string]any{"reference": entry.Reference, "error": err.Error()})
		report.Skipped++
		return
	}
	if !attempt.NeedsReconciliation() || attempt.Reference != entry.Reference {
		r.dequeue(ctx, entry, report)
		return
	}

	switch attempt.Status {
	case payments.StatusSucceededClient:
		if r.now().Sub(attempt.UpdatedAt) < r.staleAfter {
			report.Skipped++
			return
		}
		started, err := r.update(ctx, attempt, func(a payments.Attempt) (payments.Attempt, error) {
			return payments.Transition(a, payments.Event{Kind: payments.EventVerifyStarted}, r.now())
		})
		if err != nil {
			r.logger(ctx, "reconcile.transition.failed", map[string]any{"reference": attempt.Reference, "error": err.Error()})
			report.Skipped++
			return
		}
		r.reverify(ctx, started, report)
	case payments.StatusVerifying:
		if r.now().Sub(attempt.VerifyStartedAt) < r.staleAfter {
			report.Skipped++
			return
		}
		r.reverify(ctx, attempt, report)
	case payments.StatusVerifyTimedOut, payments.StatusVerifyFailed:
		if r.now().Sub(attempt.UpdatedAt) < r.staleAfter {
			report.Skipped++
			return
		}
		r.reverify(ctx, attempt, report)
	case payments.StatusVerified:
		if r.now().Sub(attempt.UpdatedAt) < r.staleAfter {
			report.Skipped++
			return
		}
		r.submit(ctx, attempt, report)
	case payments.StatusOrderCreationFailed:
		r.submit(ctx, attempt, report)
	}
}

func (r *Reconciler) reverify(ctx context.Context, attempt payments.Attempt, report *ReconcileReport) {
	vctx, cancel := context.WithTimeout(ctx, r.verifyTimeout)
	verification, err := r.gateway.Verify(vctx, attempt.Provider, payments.VerifyRequest{
		Reference:        attempt.Reference,
		AmountMinorUnits: attempt.AmountMinorUnits,
		Currency:         attempt.Currency,
	})
	cancel()
	if err != nil {
		r.logger(ctx, "reconcile.verify.failed", map[string]any{"reference": attempt.Reference, "error": err.Error()})
		r.retryLater(ctx, attempt, report, fmt.Sprintf("verification still unavailable: %v", err))
		return
	}

	if verification.Pending {
		r.stillPending(ctx, attempt, verification, report)
		return
	}

	event := payments.Event{Kind: payments.EventVerified, Verification: verification.Data}
	if !verification.Verified {
		event = payments.Event{Kind: payments.EventVerifyRejected, Message: verification.Message, Verification: verification.Data}
	}
	next, err := r.recorder.record(ctx, attempt.SessionScope, attempt.ID, func(a payments.Attempt) (payments.Attempt, error) {
		return payments.Transition(a, event, r.now())
	})
	if err != nil {
		r.logger(ctx, "reconcile.transition.failed", map[string]any{"reference": attempt.Reference, "error": err.Error()})
		report.Skipped++
		return
	}
	// The shopper was told this payment failed or timed out; support follows up on the real outcome.
	if attempt.VerificationUnresolved() {
		escalation := r.escalation(next, EscalationVerificationResolved, fmt.Sprintf("verification resolved after %s", attempt.Status))
		escalation.Outcome = string(next.Status)
		publishEscalation(ctx, r.escalator, r.metrics, r.logger, escalation)
	}
	if next.Status != payments.StatusVerified {
		report.Rejected++
		return
	}
	report.Verified++
	r.submit(ctx, next, report)
}

// stillPending records that the provider has not settled the payment and keeps the attempt
// queued.
func (r *Reconciler) stillPending(ctx context.Context, attempt payments.Attempt, verification payments.Verification, report *ReconcileReport) {
	r.logger(ctx, "reconcile.verify.pending", map[string]any{"reference": attempt.Reference, "status": string(attempt.Status)})
	if attempt.Status == payments.StatusVerifying {
		pending, err := r.update(ctx, attempt, func(a payments.Attempt) (payments.Attempt, error) {
			return payments.Transition(a, payments.Event{Kind: payments.EventVerifyPending, Message: verification.Message, Verification: verification.Data}, r.now())
		})
		if err != nil {
			r.logger(ctx, "reconcile.transition.failed", map[string]any{"reference": attempt.Reference, "error": err.Error()})
			report.Skipped++
			return
		}
		attempt = pending
	}
	r.retryLater(ctx, attempt, report, "payment still pending at provider")
}

func (r *Reconciler) submit(ctx context.Context, attempt payments.Attempt, report *ReconcileReport) {
	octx, cancel := context.WithTimeout(ctx, r.orderTimeout)
	order, err := r.orders.CreateOrder(octx, orderRequestFor(attempt))
	cancel()

	if err != nil {
		r.logger(ctx, "reconcile.order.failed", map[string]any{"reference": attempt.Reference, "error": err.Error()})
		if attempt.Status == payments.StatusVerified {
			message := orderFailureMessage(err)
			failed, uerr := r.update(ctx, attempt, func(a payments.Attempt) (payments.Attempt, error) {
				next, terr := payments.Transition(a, payments.Event{Kind: payments.EventOrderFailed, Message: message}, r.now())
				if terr != nil {
					return a, terr
				}
				next.ReconcileAttempts++
				return next, nil
			})
			if uerr != nil {
				report.Skipped++
				return
			}
			r.escalate(ctx, failed, EscalationOrderCreationFailed, err.Error())
			report.Retried++
			return
		}
		r.retryLater(ctx, attempt, report, orderFailureMessage(err))
		return
	}

	kind := payments.EventOrderCreated
	if attempt.Status == payments.StatusOrderCreationFailed {
		kind = payments.EventReconciled
	}
	created, err := r.recorder.record(ctx, attempt.SessionScope, attempt.ID, func(a payments.Attempt) (payments.Attempt, error) {
		return payments.Transition(a, payments.Event{Kind: kind, OrderID: order.ID, OrderNumber: order.OrderNumber}, r.now())
	})
	if err != nil {
		r.logger(ctx, "reconcile.transition.failed", map[string]any{"reference": attempt.Reference, "error": err.Error()})
		escalation := r.escalation(attempt, EscalationOutcomeUnrecorded, err.Error())
		escalation.Outcome = fmt.Sprintf("%s %s", payments.EventOrderCreated, order.OrderNumber)
		publishEscalation(ctx, r.escalator, r.metrics, r.logger, escalation)
		report.Skipped++
		return
	}
	clearOrderedCart(ctx, r.locks, r.attempts, r.carts, r.logger, created)
	r.logger(ctx, "reconcile.order.created", map[string]any{
		"attemptId":   created.ID,
		"reference":   created.Reference,
		"orderId":     created.OrderID,
		"orderNumber": created.OrderNumber,
	})
	report.OrdersCreated++
}

// retryLater counts a failed pass; once the budget is spent the attempt leaves the queue and
// support is told.
func (r *Reconciler) retryLater(ctx context.Context, attempt payments.Attempt, report *ReconcileReport, message string) {
	next, err := r.update(ctx, attempt, func(a payments.Attempt) (payments.Attempt, error) {
		if a.Status != attempt.Status {
			return a, fmt.Errorf("%w: attempt moved to %s", payments.ErrInvalidTransition, a.Status)
		}
		a.ReconcileAttempts++
		a.UpdatedAt = r.now()
		return a, nil
	})
	if err != nil {
		report.Skipped++
		return
	}
	if next.ReconcileAttempts < r.maxAttempts {
		report.Retried++
		return
	}
	if err := r.attempts.Dequeue(ctx, next.Reference); err != nil {
		r.logger(ctx, "reconcile.dequeue.failed", map[string]any{"reference": next.Reference, "error": err.Error()})
	}
	r.escalate(ctx, next, EscalationReconciliationExhausted, message)
	report.Exhausted++
}

func (r *Reconciler) dequeue(ctx context.Context, entry repositories.ReconcileEntry, report *ReconcileReport) {
	if err := r.attempts.Dequeue(ctx, entry.Reference); err != nil {
		r.logger(ctx, "reconcile.dequeue.failed", map[string]any{"reference": entry.Reference, "error": err.Error()})
		report.Skipped++
		return
	}
	report.Dequeued++
}

func (r *Reconciler) update(ctx context.Context, attempt payments.Attempt, fn func(payments.Attempt) (payments.Attempt, error)) (payments.Attempt, error) {
	return r.recorder.update(ctx, attempt.SessionScope, attempt.ID, fn)
}

func (r *Reconciler) escalate(ctx context.Context, attempt payments.Attempt, kind EscalationKind, message string) {
	publishEscalation(ctx, r.escalator, r.metrics, r.logger, r.escalation(attempt, kind, message))
}

func (r *Reconciler) escalation(attempt payments.Attempt, kind EscalationKind, message string) Escalation {
	return Escalation{
		Kind:             kind,
		AttemptID:        attempt.ID,
		Reference:        attempt.Reference,
		Scope:            attempt.SessionScope,
		UserID:           attempt.UserID,
		AmountMinorUnits: attempt.AmountMinorUnits,
		Currency:         attempt.Currency,
		Message:          message,
		OccurredAt:       r.now(),
	}
}
