package presence

import (
	"context"
	"sync"
	"time"

	"github.com/veilchat/presence/internal/core"
)

// MemoryStore is an in-process Store used by tests and the embedded server.
// It applies the same snapshot transitions as the Redis store but holds
// everything under one mutex, so every update is trivially atomic.
type MemoryStore struct {
	mu        sync.Mutex
	devices   map[string]map[string]core.Connection // userID -> connID -> conn
	snapshots map[string]Snapshot
	online    map[string]struct{}
	contacts  map[string]contactEntry
	contactTTL time.Duration
}

type contactEntry struct {
	ids     []string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:    make(map[string]map[string]core.Connection),
		snapshots:  make(map[string]Snapshot),
		online:     make(map[string]struct{}),
		contacts:   make(map[string]contactEntry),
		contactTTL: 30 * time.Second,
	}
}

func (s *MemoryStore) AddConnection(_ context.Context, conn core.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn.LastHeartbeat.IsZero() {
		conn.LastHeartbeat = conn.ConnectedAt
	}
	perUser, ok := s.devices[conn.UserID]
	if !ok {
		perUser = make(map[string]core.Connection)
		s.devices[conn.UserID] = perUser
	}
	perUser[conn.ID] = conn
	prev, found := s.snapshots[conn.UserID]
	s.snapshots[conn.UserID] = connectSnapshot(prev, found, conn.UserID, len(perUser), time.Now().UTC())
	s.online[conn.UserID] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveConnection(_ context.Context, userID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perUser := s.devices[userID]
	delete(perUser, connID)
	prev, found := s.snapshots[userID]
	if len(perUser) > 0 {
		s.snapshots[userID] = connectSnapshot(prev, found, userID, len(perUser), time.Now().UTC())
		return nil
	}
	delete(s.devices, userID)
	delete(s.online, userID)
	if found || perUser != nil {
		s.snapshots[userID] = disconnectSnapshot(prev, found, userID, time.Now().UTC())
	}
	return nil
}

func (s *MemoryStore) TouchDevice(_ context.Context, userID, connID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.devices[userID][connID]
	if !ok {
		return false, nil
	}
	conn.LastHeartbeat = at
	s.devices[userID][connID] = conn
	return true, nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices[userID]) > 0, nil
}

func (s *MemoryStore) ListDevices(_ context.Context, userID string) ([]core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perUser := s.devices[userID]
	out := make([]core.Connection, 0, len(perUser))
	for _, c := range perUser {
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) DeviceCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices[userID]), nil
}

func (s *MemoryStore) ListOnline(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, userID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[userID]
	return snap, ok, nil
}

func (s *MemoryStore) SetManualStatus(_ context.Context, userID string, status core.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[userID]
	if !ok {
		snap = Snapshot{UserID: userID, LastSeen: time.Now().UTC()}
	}
	snap.Manual = status
	snap.Connected = len(s.devices[userID]) > 0
	snap.DeviceCount = len(s.devices[userID])
	s.snapshots[userID] = snap
	return nil
}

func (s *MemoryStore) CacheContacts(_ context.Context, userID string, contactIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[userID] = contactEntry{ids: append([]string(nil), contactIDs...), expires: time.Now().Add(s.contactTTL)}
	return nil
}

func (s *MemoryStore) CachedContacts(_ context.Context, userID string) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.contacts[userID]
	if !ok || time.Now().After(entry.expires) {
		delete(s.contacts, userID)
		return nil, false, nil
	}
	return append([]string(nil), entry.ids...), true, nil
}

func (s *MemoryStore) SweepStale(_ context.Context, olderThan time.Duration) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result SweepResult
	cutoff := time.Now().UTC().Add(-olderThan)
	for userID, perUser := range s.devices {
		for connID, conn := range perUser {
			last := conn.LastHeartbeat
			if last.IsZero() {
				last = conn.ConnectedAt
			}
			if last.Before(cutoff) {
				delete(perUser, connID)
				result.Evicted++
			}
		}
		if len(perUser) == 0 {
			delete(s.devices, userID)
			delete(s.online, userID)
			prev, found := s.snapshots[userID]
			s.snapshots[userID] = disconnectSnapshot(prev, found, userID, time.Now().UTC())
			result.WentOffline = append(result.WentOffline, userID)
		}
	}
	return result, nil
}

func (s *MemoryStore) Close() error { return nil }
