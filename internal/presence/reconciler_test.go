package presence

import (
	"sync"
	"testing"
	"time"
)

type commitRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *commitRecorder) commit(userID, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, userID+"/"+connID)
}

func (c *commitRecorder) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestReconcilerFiresAfterGrace(t *testing.T) {
	rec := &commitRecorder{}
	r := NewReconciler(20*time.Millisecond, rec.commit)
	defer r.Stop()

	r.ScheduleOffline("alice", "c1")
	if !r.Pending("alice") {
		t.Fatal("expected alice pending inside the grace window")
	}

	waitFor(t, 500*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 1
	})
	if got := rec.snapshot(); got[0] != "alice/c1" {
		t.Fatalf("commit = %v, want alice/c1", got)
	}
	if r.Pending("alice") {
		t.Fatal("expected pending entry cleared after fire")
	}
}

func TestReconcilerCancelSuppressesCommit(t *testing.T) {
	rec := &commitRecorder{}
	r := NewReconciler(20*time.Millisecond, rec.commit)
	defer r.Stop()

	r.ScheduleOffline("alice", "c1")
	if !r.Cancel("alice") {
		t.Fatal("expected cancel to report a pending timer")
	}
	if r.Cancel("alice") {
		t.Fatal("second cancel should find nothing")
	}

	time.Sleep(60 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("commit fired despite cancel: %v", got)
	}
}

func TestReconcilerRescheduleReplacesTimer(t *testing.T) {
	rec := &commitRecorder{}
	r := NewReconciler(20*time.Millisecond, rec.commit)
	defer r.Stop()

	// A second disconnect for the same user replaces the armed timer; only
	// the latest connection id commits.
	r.ScheduleOffline("alice", "c1")
	r.ScheduleOffline("alice", "c2")

	waitFor(t, 500*time.Millisecond, func() bool {
		return len(rec.snapshot()) >= 1
	})
	time.Sleep(40 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 || got[0] != "alice/c2" {
		t.Fatalf("commits = %v, want exactly [alice/c2]", got)
	}
}

func TestReconcilerStopDisarmsEverything(t *testing.T) {
	rec := &commitRecorder{}
	r := NewReconciler(20*time.Millisecond, rec.commit)

	r.ScheduleOffline("alice", "c1")
	r.ScheduleOffline("bob", "c2")
	r.Stop()

	r.ScheduleOffline("carol", "c3") // ignored after stop

	time.Sleep(60 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("commits after stop: %v", got)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
