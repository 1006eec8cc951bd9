package presence

import (
	"context"
	"testing"
	"time"

	"github.com/veilchat/presence/internal/core"
)

var _ Store = (*MemoryStore)(nil)

func testConn(userID, connID string, heartbeat time.Time) core.Connection {
	return core.Connection{
		ID:            connID,
		UserID:        userID,
		DeviceID:      "d-" + connID,
		ConnectedAt:   heartbeat,
		LastHeartbeat: heartbeat,
	}
}

func TestMemoryStoreDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	if err := s.AddConnection(ctx, testConn("alice", "c1", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConnection(ctx, testConn("alice", "c2", now)); err != nil {
		t.Fatal(err)
	}

	online, err := s.IsOnline(ctx, "alice")
	if err != nil || !online {
		t.Fatalf("IsOnline = %v, %v; want true", online, err)
	}
	if n, _ := s.DeviceCount(ctx, "alice"); n != 2 {
		t.Fatalf("device count = %d, want 2", n)
	}

	// Removing one device keeps the user online.
	if err := s.RemoveConnection(ctx, "alice", "c1"); err != nil {
		t.Fatal(err)
	}
	if online, _ := s.IsOnline(ctx, "alice"); !online {
		t.Fatal("expected online with one device left")
	}
	snap, ok, _ := s.GetSnapshot(ctx, "alice")
	if !ok || !snap.Connected || snap.DeviceCount != 1 {
		t.Fatalf("snapshot after partial disconnect: %+v", snap)
	}

	// Removing the last device flips the snapshot to disconnected.
	if err := s.RemoveConnection(ctx, "alice", "c2"); err != nil {
		t.Fatal(err)
	}
	if online, _ := s.IsOnline(ctx, "alice"); online {
		t.Fatal("expected offline after last device removed")
	}
	snap, ok, _ = s.GetSnapshot(ctx, "alice")
	if !ok || snap.Connected || snap.DeviceCount != 0 {
		t.Fatalf("snapshot after full disconnect: %+v", snap)
	}
	if ids, _ := s.ListOnline(ctx); len(ids) != 0 {
		t.Fatalf("online set not emptied: %v", ids)
	}
}

func TestMemoryStoreRemoveUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.RemoveConnection(ctx, "ghost", "c1"); err != nil {
		t.Fatalf("remove unknown user: %v", err)
	}
	if _, ok, _ := s.GetSnapshot(ctx, "ghost"); ok {
		t.Fatal("no-op remove must not create a snapshot")
	}
}

func TestMemoryStoreManualStatusMirror(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	if err := s.AddConnection(ctx, testConn("alice", "c1", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetManualStatus(ctx, "alice", core.StatusBusy); err != nil {
		t.Fatal(err)
	}
	snap, ok, _ := s.GetSnapshot(ctx, "alice")
	if !ok || snap.Manual != core.StatusBusy {
		t.Fatalf("snapshot manual = %q, want busy", snap.Manual)
	}

	// Busy survives disconnect and the following reconnect.
	if err := s.RemoveConnection(ctx, "alice", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConnection(ctx, testConn("alice", "c2", now)); err != nil {
		t.Fatal(err)
	}
	snap, _, _ = s.GetSnapshot(ctx, "alice")
	if snap.Manual != core.StatusBusy {
		t.Fatalf("manual after reconnect = %q, want busy", snap.Manual)
	}
}

func TestMemoryStoreSweepStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	stale := now.Add(-5 * time.Minute)

	// alice: one fresh, one stale device. bob: only a stale device.
	if err := s.AddConnection(ctx, testConn("alice", "c1", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConnection(ctx, testConn("alice", "c2", stale)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConnection(ctx, testConn("bob", "c3", stale)); err != nil {
		t.Fatal(err)
	}

	res, err := s.SweepStale(ctx, 90*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Evicted != 2 {
		t.Fatalf("evicted = %d, want 2", res.Evicted)
	}
	if len(res.WentOffline) != 1 || res.WentOffline[0] != "bob" {
		t.Fatalf("went offline = %v, want [bob]", res.WentOffline)
	}

	if online, _ := s.IsOnline(ctx, "alice"); !online {
		t.Fatal("alice must stay online on her fresh device")
	}
	if online, _ := s.IsOnline(ctx, "bob"); online {
		t.Fatal("bob must be offline after his only device was evicted")
	}
	snap, ok, _ := s.GetSnapshot(ctx, "bob")
	if !ok || snap.Connected {
		t.Fatalf("bob's snapshot not transitioned: %+v", snap)
	}
}

func TestMemoryStoreTouchDeviceRescuesFromSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	stale := time.Now().UTC().Add(-5 * time.Minute)

	if err := s.AddConnection(ctx, testConn("alice", "c1", stale)); err != nil {
		t.Fatal(err)
	}
	found, err := s.TouchDevice(ctx, "alice", "c1", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("touch must report the device as present")
	}

	res, err := s.SweepStale(ctx, 90*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Evicted != 0 {
		t.Fatalf("evicted = %d, want 0 after heartbeat", res.Evicted)
	}
}

func TestMemoryStoreContactCache(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, hit, _ := s.CachedContacts(ctx, "alice"); hit {
		t.Fatal("expected miss on empty cache")
	}
	if err := s.CacheContacts(ctx, "alice", []string{"bob", "carol"}); err != nil {
		t.Fatal(err)
	}
	ids, hit, _ := s.CachedContacts(ctx, "alice")
	if !hit || len(ids) != 2 {
		t.Fatalf("cached = %v hit=%v, want 2 ids", ids, hit)
	}

	// An expired entry reads as a miss.
	s.mu.Lock()
	entry := s.contacts["alice"]
	entry.expires = time.Now().Add(-time.Second)
	s.contacts["alice"] = entry
	s.mu.Unlock()
	if _, hit, _ := s.CachedContacts(ctx, "alice"); hit {
		t.Fatal("expected miss after expiry")
	}
}
