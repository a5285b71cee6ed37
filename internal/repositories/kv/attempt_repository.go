package kv

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/platform/kvstore"
	"finitefield.org/storefront/internal/repositories"
)

const (
	attemptKeyPrefix = "attempt:"
	currentKey       = "payment_attempt"
	// ReconcileScope is the system scope holding the reconciliation queue, keyed by reference.
	ReconcileScope = "_reconcile"
)

// AttemptRepository stores attempts in their session scope and mirrors attempts needing
// reconciliation into ReconcileScope.
type AttemptRepository struct {
	store kvstore.Store
	clock func() time.Time
}

var _ repositories.AttemptRepository = (*AttemptRepository)(nil)

// NewAttemptRepository constructs a KV-backed attempt repository.
func NewAttemptRepository(store kvstore.Store, clock func() time.Time) (*AttemptRepository, error) {
	if store == nil {
		return nil, errors.New("attempt repository requires kv store")
	}
	if clock == nil {
		clock = time.Now
	}
	return &AttemptRepository{store: store, clock: clock}, nil
}

// Save persists the attempt and its session pointer, then updates the reconciliation queue.
func (r *AttemptRepository) Save(ctx context.Context, attempt payments.Attempt) error {
	scope := strings.TrimSpace(attempt.SessionScope)
	if scope == "" || strings.TrimSpace(attempt.ID) == "" {
		return repositories.NewError("attempt.save", repositories.ErrorUnknown, errors.New("attempt id and scope are required"))
	}
	raw, err := json.Marshal(newAttemptDocument(attempt))
	if err != nil {
		return repositories.NewError("attempt.save", repositories.ErrorUnknown, err)
	}
	session := kvstore.Scope(r.store, scope)
	if err := session.Put(ctx, attemptKeyPrefix+attempt.ID, raw); err != nil {
		return repositories.NewError("attempt.save", repositories.ErrorUnavailable, err)
	}
	if err := r.point(ctx, session, attempt); err != nil {
		return err
	}
	return r.syncQueue(ctx, attempt)
}

// point moves the session pointer to a newly created attempt. Saving an older attempt, as the
// reconciler does, leaves the pointer on whatever the shopper started since.
func (r *AttemptRepository) point(ctx context.Context, session kvstore.Scoped, attempt payments.Attempt) error {
	if attempt.Status != payments.StatusInitiated {
		current, err := session.Get(ctx, currentKey)
		switch {
		case err == nil && len(current) > 0:
			return nil
		case err != nil && !errors.Is(err, kvstore.ErrNotFound):
			return repositories.NewError("attempt.save", repositories.ErrorUnavailable, err)
		}
	}
	if err := session.Put(ctx, currentKey, []byte(attempt.ID)); err != nil {
		return repositories.NewError("attempt.save", repositories.ErrorUnavailable, err)
	}
	return nil
}

func (r *AttemptRepository) syncQueue(ctx context.Context, attempt payments.Attempt) error {
	reference := strings.TrimSpace(attempt.Reference)
	if reference == "" {
		return nil
	}
	queue := kvstore.Scope(r.store, ReconcileScope)
	if !attempt.NeedsReconciliation() {
		if err := queue.Delete(ctx, reference); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return repositories.NewError("attempt.dequeue", repositories.ErrorUnavailable, err)
		}
		return nil
	}

	queuedAt := r.clock().UTC()
	if existing, err := queue.Get(ctx, reference); err == nil {
		var doc reconcileDocument
		if json.Unmarshal(existing, &doc) == nil && !doc.QueuedAt.IsZero() {
			queuedAt = doc.QueuedAt
		}
	}
	raw, err := json.Marshal(reconcileDocument{
		Scope:     attempt.SessionScope,
		AttemptID: attempt.ID,
		Status:    string(attempt.Status),
		QueuedAt:  queuedAt,
	})
	if err != nil {
		return repositories.NewError("attempt.enqueue", repositories.ErrorUnknown, err)
	}
	if err := queue.Put(ctx, reference, raw); err != nil {
		return repositories.NewError("attempt.enqueue", repositories.ErrorUnavailable, err)
	}
	return nil
}

// Get loads an attempt by id from its session scope.
func (r *AttemptRepository) Get(ctx context.Context, scope, attemptID string) (payments.Attempt, error) {
	raw, err := kvstore.Scope(r.store, scope).Get(ctx, attemptKeyPrefix+attemptID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) || errors.Is(err, kvstore.ErrInvalidKey) {
			return payments.Attempt{}, repositories.NewError("attempt.get", repositories.ErrorNotFound, err)
		}
		return payments.Attempt{}, repositories.NewError("attempt.get", repositories.ErrorUnavailable, err)
	}
	var doc attemptDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return payments.Attempt{}, repositories.NewError("attempt.get", repositories.ErrorCorrupt, err)
	}
	attempt := doc.toDomain()
	if !attempt.Status.Valid() {
		return payments.Attempt{}, repositories.NewError("attempt.get", repositories.ErrorCorrupt, errors.New("unknown status "+doc.Status))
	}
	return attempt, nil
}

// Current follows the session pointer.
func (r *AttemptRepository) Current(ctx context.Context, scope string) (payments.Attempt, error) {
	raw, err := kvstore.Scope(r.store, scope).Get(ctx, currentKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) || errors.Is(err, kvstore.ErrInvalidKey) {
			return payments.Attempt{}, repositories.NewError("attempt.current", repositories.ErrorNotFound, err)
		}
		return payments.Attempt{}, repositories.NewError("attempt.current", repositories.ErrorUnavailable, err)
	}
	return r.Get(ctx, scope, strings.TrimSpace(string(raw)))
}

// PendingReconciliation lists the queue oldest first. Undecodable entries are skipped.
func (r *AttemptRepository) PendingReconciliation(ctx context.Context) ([]repositories.ReconcileEntry, error) {
	entries, err := r.store.List(ctx, ReconcileScope)
	if err != nil {
		return nil, repositories.NewError("attempt.pending", repositories.ErrorUnavailable, err)
	}
	out := make([]repositories.ReconcileEntry, 0, len(entries))
	for reference, raw := range entries {
		var doc reconcileDocument
		if err := json.Unmarshal(raw, &doc); err != nil || doc.Scope == "" || doc.AttemptID == "" {
			continue
		}
		out = append(out, repositories.ReconcileEntry{
			Reference: reference,
			Scope:     doc.Scope,
			AttemptID: doc.AttemptID,
			Status:    payments.Status(doc.Status),
			QueuedAt:  doc.QueuedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out, nil
}

// Dequeue removes reference from the queue.
func (r *AttemptRepository) Dequeue(ctx context.Context, reference string) error {
	err := kvstore.Scope(r.store, ReconcileScope).Delete(ctx, reference)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return repositories.NewError("attempt.dequeue", repositories.ErrorUnavailable, err)
	}
	return nil
}
