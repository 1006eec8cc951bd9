package sqlite

import (
	"context"
	"sort"
	"testing"

	"github.com/veilchat/presence/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestManualStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Never-set reads as the default.
	status, err := s.ManualStatus(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status != core.DefaultStatus {
		t.Fatalf("status = %q, want %q", status, core.DefaultStatus)
	}

	if err := s.SetManualStatus(ctx, "alice", core.StatusBusy); err != nil {
		t.Fatal(err)
	}
	status, _ = s.ManualStatus(ctx, "alice")
	if status != core.StatusBusy {
		t.Fatalf("status = %q, want busy", status)
	}

	// Upsert replaces in place.
	if err := s.SetManualStatus(ctx, "alice", core.StatusAway); err != nil {
		t.Fatal(err)
	}
	status, _ = s.ManualStatus(ctx, "alice")
	if status != core.StatusAway {
		t.Fatalf("status = %q, want away", status)
	}

	if err := s.SetManualStatus(ctx, "alice", "sleeping"); err == nil {
		t.Fatal("expected an error for an unknown status")
	}
}

func TestContactsBothDirections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddContact(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddContact(ctx, "carol", "alice"); err != nil {
		t.Fatal(err)
	}

	got, err := s.ContactsOf(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)
	want := []string{"bob", "carol"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("contacts of alice = %v, want %v", got, want)
	}

	got, _ = s.ContactsOf(ctx, "bob")
	if len(got) != 1 || got[0] != "alice" {
		t.Fatalf("contacts of bob = %v, want [alice]", got)
	}
}

func TestAddContactIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddContact(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddContact(ctx, "alice", "bob"); err != nil {
		t.Fatalf("duplicate insert must be a no-op, got %v", err)
	}
	got, _ := s.ContactsOf(ctx, "alice")
	if len(got) != 1 {
		t.Fatalf("contacts = %v, want a single edge", got)
	}
}

func TestAddContactRejectsSelfAndEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddContact(ctx, "alice", "alice"); err == nil {
		t.Fatal("expected self-edge rejection")
	}
	if err := s.AddContact(ctx, "", "bob"); err == nil {
		t.Fatal("expected empty owner rejection")
	}
	if err := s.AddContact(ctx, "alice", ""); err == nil {
		t.Fatal("expected empty contact rejection")
	}
}

func TestRemoveContact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddContact(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveContact(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.ContactsOf(ctx, "alice")
	if len(got) != 0 {
		t.Fatalf("contacts after removal = %v, want empty", got)
	}

	// Removing a missing edge is not an error.
	if err := s.RemoveContact(ctx, "alice", "bob"); err != nil {
		t.Fatalf("remove missing edge: %v", err)
	}
}
