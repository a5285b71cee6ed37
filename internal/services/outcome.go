package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/repositories"
)

const (
	defaultOutcomeRetries = 3
	defaultOutcomeBackoff = 100 * time.Millisecond
)

// outcomeRecorder saves transitions that follow a call to the gateway or the order backend.
// Those answers cannot be asked for again without repeating the call, so storage failures are
// retried before the caller gives up and escalates.
type outcomeRecorder struct {
	attempts repositories.AttemptRepository
	locks    *SessionLocks
	metrics  Metrics
	logger   Logger
	retries  int
	backoff  time.Duration
}

func newOutcomeRecorder(attempts repositories.AttemptRepository, locks *SessionLocks, metrics Metrics, logger Logger, retries int, wait time.Duration) outcomeRecorder {
	if retries <= 0 {
		retries = defaultOutcomeRetries
	}
	if wait <= 0 {
		wait = defaultOutcomeBackoff
	}
	return outcomeRecorder{
		attempts: attempts,
		locks:    locks,
		metrics:  metrics,
		logger:   logger,
		retries:  retries,
		backoff:  wait,
	}
}

// update applies fn once under the session lock.
func (r outcomeRecorder) update(ctx context.Context, scope, attemptID string, fn func(payments.Attempt) (payments.Attempt, error)) (payments.Attempt, error) {
	unlock := r.locks.Lock(scope)
	defer unlock()
	return saveTransition(ctx, r.attempts, r.metrics, r.logger, scope, attemptID, fn)
}

// record applies fn like update and retries while storage is unavailable. A write that landed
// before the failure is saved again as is, so the queue and session pointer catch up without
// the transition being applied twice.
func (r outcomeRecorder) record(ctx context.Context, scope, attemptID string, fn func(payments.Attempt) (payments.Attempt, error)) (payments.Attempt, error) {
	var written *payments.Attempt
	apply := func(a payments.Attempt) (payments.Attempt, error) {
		if written != nil && a.Status == written.Status && a.UpdatedAt.Equal(written.UpdatedAt) {
			return a, nil
		}
		next, err := fn(a)
		if err == nil {
			written = &next
		}
		return next, err
	}

	var saved payments.Attempt
	tries := 0
	operation := func() error {
		tries++
		next, err := r.update(ctx, scope, attemptID, apply)
		if err != nil {
			if errors.Is(err, ErrPaymentUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		saved = next
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.backoff
	policy.MaxInterval = 8 * r.backoff
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.retries)), ctx), func(err error, wait time.Duration) {
		r.logger(ctx, "payment.attempt.save_retry", map[string]any{
			"attemptId": attemptID,
			"try":       tries,
			"wait":      wait.String(),
			"error":     err.Error(),
		})
	})
	if err != nil {
		return payments.Attempt{}, err
	}
	return saved, nil
}

// clearOrderedCart deletes the session cart once the attempt's order exists. The cart is kept
// when the shopper has started another attempt or changed the cart since the attempt was made.
func clearOrderedCart(ctx context.Context, locks *SessionLocks, attempts repositories.AttemptRepository, carts repositories.CartRepository, logger Logger, attempt payments.Attempt) {
	unlock := locks.Lock(attempt.SessionScope)
	defer unlock()

	skip := func(reason string) {
		logger(ctx, "cart.clear.skipped", map[string]any{"attemptId": attempt.ID, "orderId": attempt.OrderID, "reason": reason})
	}
	current, err := attempts.Current(ctx, attempt.SessionScope)
	switch {
	case err != nil && !repositories.IsNotFound(err):
		logger(ctx, "cart.clear.failed", map[string]any{"attemptId": attempt.ID, "error": err.Error()})
		return
	case err != nil || current.ID != attempt.ID:
		skip("superseded")
		return
	}
	lines, err := carts.Load(ctx, attempt.SessionScope)
	if err != nil {
		logger(ctx, "cart.clear.failed", map[string]any{"attemptId": attempt.ID, "error": err.Error()})
		return
	}
	if !sameLines(domain.NewCart(lines).Lines, attempt.Lines) {
		skip("cart_changed")
		return
	}
	if err := carts.Delete(ctx, attempt.SessionScope); err != nil {
		logger(ctx, "cart.clear.failed", map[string]any{"attemptId": attempt.ID, "error": err.Error()})
		return
	}
	logger(ctx, "cart.cleared", map[string]any{"attemptId": attempt.ID, "orderId": attempt.OrderID})
}

func sameLines(a, b []domain.CartLine) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Key() != y.Key() || x.Quantity != y.Quantity || x.UnitPrice != y.UnitPrice {
			return false
		}
	}
	return true
}
