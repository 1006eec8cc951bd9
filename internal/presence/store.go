// Package presence implements the connection and presence reconciliation
// engine: device-level presence in a shared store, heartbeat and staleness
// sweeping, anti-flicker disconnect handling, effective-status resolution,
// and contact-scoped fan-out.
package presence

import (
	"context"
	"time"

	"github.com/veilchat/presence/internal/core"
)

// Store is the device presence store: the shared, TTL-bound record of which
// devices are currently connected, independent of any one process's memory.
//
// All multi-step updates are issued as a single batch against the backing
// store; a partial failure surfaces as an error, never as a partially-mutated
// state the caller must clean up.
type Store interface {
	// AddConnection upserts the device record, refreshes the TTL on the
	// user's device map, adds the user to the global online set, and
	// refreshes the status snapshot.
	AddConnection(ctx context.Context, conn core.Connection) error

	// RemoveConnection deletes the device record; if the resulting device
	// count is zero it removes the user from the online set and writes a
	// disconnected snapshot with a long retention TTL. Removing an unknown
	// user or device is a no-op success.
	RemoveConnection(ctx context.Context, userID, connID string) error

	// TouchDevice updates a device's last heartbeat and refreshes TTLs. The
	// bool reports whether the device record existed; a miss means the record
	// was lost (failed write, TTL expiry) and the caller should re-mirror it.
	TouchDevice(ctx context.Context, userID, connID string, at time.Time) (bool, error)

	IsOnline(ctx context.Context, userID string) (bool, error)
	ListDevices(ctx context.Context, userID string) ([]core.Connection, error)
	DeviceCount(ctx context.Context, userID string) (int, error)
	ListOnline(ctx context.Context) ([]string, error)

	// GetSnapshot returns the stored status snapshot. The second return
	// reports whether a snapshot exists.
	GetSnapshot(ctx context.Context, userID string) (Snapshot, bool, error)

	// SetManualStatus rewrites the manual status carried in the snapshot.
	// The persisted record of the user's choice lives in relational storage;
	// the snapshot only mirrors it.
	SetManualStatus(ctx context.Context, userID string, status core.Status) error

	// CacheContacts / CachedContacts implement the write-through contact
	// cache used to avoid a relational query on every broadcast.
	CacheContacts(ctx context.Context, userID string, contactIDs []string) error
	CachedContacts(ctx context.Context, userID string) ([]string, bool, error)

	// SweepStale evicts every device record whose last heartbeat is older
	// than olderThan. Users whose device set is emptied go through the same
	// offline transition as RemoveConnection. This is the self-healing path
	// for devices that vanished without a clean disconnect.
	SweepStale(ctx context.Context, olderThan time.Duration) (SweepResult, error)

	Close() error
}

// SweepResult reports the outcome of a staleness sweep.
type SweepResult struct {
	Evicted     int      // device records removed
	WentOffline []string // users whose device set was emptied
}
