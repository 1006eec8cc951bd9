package sqlite

import (
	"errors"
	"testing"
	"time"
)

var errLocked = errors.New("database is locked (5) (SQLITE_BUSY)")

func TestRetrySucceedsAfterLockClears(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, JitterPct: 0.25}
	attempts := 0
	err := retryOnDBLockInternal(cfg, func() error {
		attempts++
		if attempts < 3 {
			return errLocked
		}
		return nil
	}, func(time.Duration) {})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}
	attempts := 0
	err := retryOnDBLockInternal(cfg, func() error {
		attempts++
		return errLocked
	}, func(time.Duration) {})
	if err == nil {
		t.Fatal("expected the lock error to surface")
	}
	if attempts != 4 { // initial try + 3 retries
		t.Fatalf("attempts = %d, want 4", attempts)
	}
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond}
	attempts := 0
	err := retryOnDBLockInternal(cfg, func() error {
		attempts++
		return errors.New("no such table: contacts")
	}, func(time.Duration) {})
	if err == nil || attempts != 1 {
		t.Fatalf("err = %v attempts = %d, want immediate failure", err, attempts)
	}
}

func TestRetryBackoffGrows(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}
	var delays []time.Duration
	_ = retryOnDBLockInternal(cfg, func() error { return errLocked }, func(d time.Duration) {
		delays = append(delays, d)
	})
	if len(delays) != 3 {
		t.Fatalf("got %d sleeps, want 3", len(delays))
	}
	for i, want := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond} {
		if delays[i] < want {
			t.Fatalf("delay %d = %v, want at least %v", i, delays[i], want)
		}
	}
}

func TestIsDBLocked(t *testing.T) {
	if !isDBLocked(errLocked) {
		t.Fatal("expected SQLITE_BUSY message to match")
	}
	if isDBLocked(errors.New("constraint failed")) {
		t.Fatal("unrelated error must not match")
	}
}
