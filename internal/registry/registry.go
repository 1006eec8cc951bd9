// Package registry tracks live transport connections for this process.
// It is the only source of truth for "is this process holding a live
// connection right now"; the distributed presence store lags it.
package registry

import (
	"sync"
	"time"

	"github.com/veilchat/presence/internal/core"
)

type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]*core.Connection // userID -> connID -> conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]map[string]*core.Connection)}
}

// Add registers a connection. Mutations are visible to IsOnline immediately.
func (r *Registry) Add(conn core.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perUser, ok := r.conns[conn.UserID]
	if !ok {
		perUser = make(map[string]*core.Connection)
		r.conns[conn.UserID] = perUser
	}
	c := conn
	perUser[conn.ID] = &c
}

// Remove drops a connection and reports whether the user still has at least
// one live connection. Removing an unknown user or connection is a no-op:
// disconnect-after-already-removed is an expected race.
func (r *Registry) Remove(userID, connID string) (stillConnected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perUser, ok := r.conns[userID]
	if !ok {
		return false
	}
	delete(perUser, connID)
	if len(perUser) == 0 {
		delete(r.conns, userID)
		return false
	}
	return true
}

// IsOnline reports whether the user's connection set is non-empty.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Connections returns copies of a user's live connections.
func (r *Registry) Connections(userID string) []core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perUser := r.conns[userID]
	if len(perUser) == 0 {
		return nil
	}
	out := make([]core.Connection, 0, len(perUser))
	for _, c := range perUser {
		out = append(out, *c)
	}
	return out
}

// ListOnline returns every user with at least one live connection.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		out = append(out, userID)
	}
	return out
}

// Touch records a heartbeat for a connection. Unknown connections are ignored.
func (r *Registry) Touch(userID, connID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[userID][connID]; ok {
		c.LastHeartbeat = at
	}
}

// Stale returns copies of connections whose last heartbeat is older than
// olderThan. Connections that never heartbeated are judged by ConnectedAt.
func (r *Registry) Stale(olderThan time.Duration, now time.Time) []core.Connection {
	cutoff := now.Add(-olderThan)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.Connection
	for _, perUser := range r.conns {
		for _, c := range perUser {
			last := c.LastHeartbeat
			if last.IsZero() {
				last = c.ConnectedAt
			}
			if last.Before(cutoff) {
				out = append(out, *c)
			}
		}
	}
	return out
}
