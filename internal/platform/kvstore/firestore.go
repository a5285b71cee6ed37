package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "finitefield.org/storefront/internal/platform/firestore"
)

type firestoreEntry struct {
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
	ExpiresAt time.Time `firestore:"expiresAt,omitempty"`
}

// FirestoreStore keeps entries at storefrontKV/{scope}/entries/{key}. ExpiresAt is written so a
// Firestore TTL policy can reap abandoned sessions; reads also ignore expired entries.
type FirestoreStore struct {
	provider *pfirestore.Provider
	ttl      time.Duration
	now      func() time.Time
}

// NewFirestoreStore builds a Store over the shared Firestore provider.
func NewFirestoreStore(provider *pfirestore.Provider, ttl time.Duration) *FirestoreStore {
	return &FirestoreStore{provider: provider, ttl: ttl, now: time.Now}
}

func (s *FirestoreStore) entries(ctx context.Context, scope string) (*firestore.CollectionRef, error) {
	col, err := s.provider.Entries(ctx, scope)
	if err != nil {
		return nil, pfirestore.WrapError("kvstore.firestore.client", err)
	}
	return col, nil
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if err := validate(scope, key); err != nil {
		return nil, err
	}
	col, err := s.entries(ctx, scope)
	if err != nil {
		return nil, err
	}
	snap, err := col.Doc(key).Get(ctx)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, pfirestore.WrapError("kvstore.firestore.get", err)
	}
	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		return nil, fmt.Errorf("kvstore: decode firestore entry: %w", err)
	}
	if s.expired(entry) {
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

// Put implements Store.
func (s *FirestoreStore) Put(ctx context.Context, scope, key string, value []byte) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	col, err := s.entries(ctx, scope)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	entry := firestoreEntry{Value: value, UpdatedAt: now}
	if s.ttl > 0 {
		entry.ExpiresAt = now.Add(s.ttl)
	}
	if _, err := col.Doc(key).Set(ctx, entry); err != nil {
		return pfirestore.WrapError("kvstore.firestore.put", err)
	}
	return nil
}

// Delete implements Store.
func (s *FirestoreStore) Delete(ctx context.Context, scope, key string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	col, err := s.entries(ctx, scope)
	if err != nil {
		return err
	}
	if _, err := col.Doc(key).Delete(ctx); err != nil && !pfirestore.IsNotFound(err) {
		return pfirestore.WrapError("kvstore.firestore.delete", err)
	}
	return nil
}

// List implements Store.
func (s *FirestoreStore) List(ctx context.Context, scope string) (map[string][]byte, error) {
	if err := validate(scope, "-"); err != nil {
		return nil, err
	}
	col, err := s.entries(ctx, scope)
	if err != nil {
		return nil, err
	}
	iter := col.Documents(ctx)
	defer iter.Stop()

	out := make(map[string][]byte)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("kvstore.firestore.list", err)
		}
		var entry firestoreEntry
		if err := snap.DataTo(&entry); err != nil {
			continue
		}
		if s.expired(entry) {
			continue
		}
		out[snap.Ref.ID] = entry.Value
	}
	return out, nil
}

// Close implements Store.
func (s *FirestoreStore) Close() error {
	return s.provider.Close()
}

func (s *FirestoreStore) expired(entry firestoreEntry) bool {
	return !entry.ExpiresAt.IsZero() && !s.now().Before(entry.ExpiresAt)
}
