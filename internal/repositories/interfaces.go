package repositories

import (
	"context"
	"time"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
)

// CartRepository persists the cart lines of a session scope.
type CartRepository interface {
	// Load returns the persisted lines. A missing snapshot yields no lines and no error; an
	// undecodable snapshot yields a RepositoryError with IsCorrupt.
	Load(ctx context.Context, scope string) ([]domain.CartLine, error)
	Save(ctx context.Context, scope string, lines []domain.CartLine) error
	Delete(ctx context.Context, scope string) error
}

// AttemptRepository persists payment attempts and the per-session current attempt pointer.
type AttemptRepository interface {
	// Save stores the attempt, points the session's current attempt at it, and keeps the
	// reconciliation queue in step with the attempt status.
	Save(ctx context.Context, attempt payments.Attempt) error
	Get(ctx context.Context, scope, attemptID string) (payments.Attempt, error)
	// Current returns the attempt the session pointer names. A session without one yields a
	// RepositoryError with IsNotFound.
	Current(ctx context.Context, scope string) (payments.Attempt, error)
	// PendingReconciliation lists queued attempts ordered by when they were queued.
	PendingReconciliation(ctx context.Context) ([]ReconcileEntry, error)
	// Dequeue drops the attempt from the reconciliation queue without touching the attempt.
	Dequeue(ctx context.Context, reference string) error
}

// ReconcileEntry points at an attempt awaiting reconciliation.
type ReconcileEntry struct {
	Reference string
	Scope     string
	AttemptID string
	Status    payments.Status
	QueuedAt  time.Time
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsCorrupt() bool
	IsUnavailable() bool
}
