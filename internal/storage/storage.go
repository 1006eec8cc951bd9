package storage

import (
	"context"
	"sync"
	"time"

	"github.com/veilchat/presence/internal/core"
)

// Store persists the contact graph and manual status choices. Connectivity
// never touches this store; it changes through the presence store instead.
type Store interface {
	SetManualStatus(ctx context.Context, userID string, status core.Status) error
	// ManualStatus returns the user's explicit choice, or core.DefaultStatus
	// when the user never set one. Absence is not an error.
	ManualStatus(ctx context.Context, userID string) (core.Status, error)

	AddContact(ctx context.Context, ownerID, contactID string) error
	RemoveContact(ctx context.Context, ownerID, contactID string) error
	// ContactsOf returns the notification audience for a user: every V such
	// that (U,V) or (V,U) exists.
	ContactsOf(ctx context.Context, userID string) ([]string, error)

	Close() error
}

// InMemory is a minimal in-memory store for tests.
type InMemory struct {
	mu       sync.Mutex
	statuses map[string]core.Status
	edges    map[string]map[string]time.Time // ownerID -> contactID -> created
}

func NewInMemory() *InMemory {
	return &InMemory{
		statuses: make(map[string]core.Status),
		edges:    make(map[string]map[string]time.Time),
	}
}

func (m *InMemory) SetManualStatus(_ context.Context, userID string, status core.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[userID] = status
	return nil
}

func (m *InMemory) ManualStatus(_ context.Context, userID string) (core.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[userID]; ok {
		return s, nil
	}
	return core.DefaultStatus, nil
}

func (m *InMemory) AddContact(_ context.Context, ownerID, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edges[ownerID] == nil {
		m.edges[ownerID] = make(map[string]time.Time)
	}
	m.edges[ownerID][contactID] = time.Now().UTC()
	return nil
}

func (m *InMemory) RemoveContact(_ context.Context, ownerID, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edges[ownerID], contactID)
	return nil
}

func (m *InMemory) ContactsOf(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for contactID := range m.edges[userID] {
		seen[contactID] = struct{}{}
	}
	for ownerID, contacts := range m.edges {
		if ownerID == userID {
			continue
		}
		if _, ok := contacts[userID]; ok {
			seen[ownerID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (m *InMemory) Close() error { return nil }
