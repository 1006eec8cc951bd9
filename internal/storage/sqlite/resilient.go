package sqlite

import (
	"context"
	"time"

	"github.com/veilchat/presence/internal/core"
	"github.com/veilchat/presence/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every method of *Store with CircuitBreaker +
// RetryOnDBLock to provide resilience against transient SQLite errors
// (database-is-locked, connection failures, etc.).
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient creates a ResilientStore with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker creates a ResilientStore with a custom circuit breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// CircuitBreakerState returns the current state of the circuit breaker as a
// string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

func (r *ResilientStore) SetManualStatus(ctx context.Context, userID string, status core.Status) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.SetManualStatus(ctx, userID, status)
		})
	})
}

func (r *ResilientStore) ManualStatus(ctx context.Context, userID string) (core.Status, error) {
	var result core.Status
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ManualStatus(ctx, userID)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) AddContact(ctx context.Context, ownerID, contactID string) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.AddContact(ctx, ownerID, contactID)
		})
	})
}

func (r *ResilientStore) RemoveContact(ctx context.Context, ownerID, contactID string) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.RemoveContact(ctx, ownerID, contactID)
		})
	})
}

func (r *ResilientStore) ContactsOf(ctx context.Context, userID string) ([]string, error) {
	var result []string
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ContactsOf(ctx, userID)
			return innerErr
		})
	})
	return result, err
}

// Close delegates directly to the inner store without CB or retry.
func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
