package presence

import (
	"sync"
	"time"
)

// Reconciler delays the "user went offline" decision to absorb reconnect
// races (tab refresh, flaky network). Naively broadcasting offline on every
// disconnect makes contacts see the user flap; the grace window trades a
// small notification delay for eliminated false negatives.
//
// Timers are keyed by user and cancellable by a later connect for the same
// user, which makes cancellation-on-reconnect a first-class operation.
type Reconciler struct {
	mu      sync.Mutex
	pending map[string]*pendingOffline
	grace   time.Duration
	commit  func(userID, connID string)
	stopped bool
}

type pendingOffline struct {
	timer  *time.Timer
	connID string
}

// NewReconciler creates a reconciler that calls commit once the grace window
// elapses without a reconnect. commit runs on the timer goroutine.
func NewReconciler(grace time.Duration, commit func(userID, connID string)) *Reconciler {
	return &Reconciler{
		pending: make(map[string]*pendingOffline),
		grace:   grace,
		commit:  commit,
	}
}

// ScheduleOffline arms the grace timer for a user whose last connection just
// closed. A previously armed timer is replaced.
func (r *Reconciler) ScheduleOffline(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if prev, ok := r.pending[userID]; ok {
		prev.timer.Stop()
	}
	p := &pendingOffline{connID: connID}
	p.timer = time.AfterFunc(r.grace, func() {
		r.fire(userID, connID)
	})
	r.pending[userID] = p
}

func (r *Reconciler) fire(userID, connID string) {
	r.mu.Lock()
	p, ok := r.pending[userID]
	if !ok || p.connID != connID {
		// Cancelled, or replaced by a later disconnect.
		r.mu.Unlock()
		return
	}
	delete(r.pending, userID)
	r.mu.Unlock()
	r.commit(userID, connID)
}

// Cancel disarms a pending offline transition. It returns true when a timer
// was pending, meaning the offline broadcast was suppressed.
func (r *Reconciler) Cancel(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[userID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(r.pending, userID)
	return true
}

// Pending reports whether a user is in the grace window.
func (r *Reconciler) Pending(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[userID]
	return ok
}

// Stop disarms every timer. Used on shutdown so no commit fires against a
// torn-down engine.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for userID, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, userID)
	}
}
