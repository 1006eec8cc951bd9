package presence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/contacts"
	"github.com/veilchat/presence/internal/core"
	"github.com/veilchat/presence/internal/metrics"
	"github.com/veilchat/presence/internal/registry"
	"github.com/veilchat/presence/internal/storage"
)

// Broadcaster pushes an event to every live connection of one user and
// reports delivery counts. Per-connection failures are handled inside the
// transport; one broken connection must not abort delivery to the others.
type Broadcaster interface {
	Push(userID string, event any) (delivered, failed int)
}

// ConnCloser force-closes a live connection, used when the sweep finds a
// socket whose heartbeats stopped.
type ConnCloser interface {
	CloseConnection(userID, connID string)
}

type EngineConfig struct {
	// GraceWindow is the anti-flicker delay between "last connection closed"
	// and "broadcast offline".
	GraceWindow time.Duration
	// StaleTimeout is how long a device may go without a heartbeat before
	// the sweep evicts it.
	StaleTimeout time.Duration
}

// Engine reconciles the three views of "is this user reachable": the
// in-process connection registry, the distributed device presence store, and
// the persisted manual status. The registry is mutated synchronously and
// always precedes the store write; a transient store failure leaves the
// registry authoritative for this process and the next heartbeat or sweep
// retries the store side.
type Engine struct {
	reg    *registry.Registry
	store  Store
	db     storage.Store
	graph  *contacts.Graph
	bus    Broadcaster
	closer ConnCloser
	rec    *Reconciler
	m      *metrics.Metrics
	logger *zap.Logger

	staleTimeout time.Duration
}

func NewEngine(cfg EngineConfig, reg *registry.Registry, store Store, db storage.Store, graph *contacts.Graph, bus Broadcaster, logger *zap.Logger) *Engine {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 2 * time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		reg:          reg,
		store:        store,
		db:           db,
		graph:        graph,
		bus:          bus,
		logger:       logger.Named("engine"),
		staleTimeout: cfg.StaleTimeout,
	}
	e.rec = NewReconciler(cfg.GraceWindow, e.commitOffline)
	return e
}

// WithConnCloser wires the transport hook used to close stale sockets.
func (e *Engine) WithConnCloser(c ConnCloser) *Engine {
	e.closer = c
	return e
}

// WithMetrics wires Prometheus collectors. Without it the engine runs
// unmetered.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.m = m
	return e
}

// Registry exposes the live-connection registry for read-side collaborators.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Connect handles a new transport connection for a user device. Registry
// mutation is immediate; the store write follows. A reconnect inside the
// grace window cancels the pending offline transition and suppresses the
// broadcast entirely, so contacts never see the reload flicker.
func (e *Engine) Connect(ctx context.Context, conn core.Connection) {
	wasPending := e.rec.Cancel(conn.UserID)
	wasOnline := e.reg.IsOnline(conn.UserID)
	e.reg.Add(conn)
	e.trackGauges()

	// An appear-offline choice left over from a fully disconnected session
	// does not carry into the new one. The store applies the same rule to its
	// snapshot; this keeps the persisted choice in agreement.
	if snap, found, err := e.store.GetSnapshot(ctx, conn.UserID); err == nil && found &&
		!snap.Connected && snap.Manual == core.StatusOffline {
		if err := e.db.SetManualStatus(ctx, conn.UserID, core.DefaultStatus); err != nil {
			e.logger.Warn("manual status reset failed",
				zap.String("user_id", conn.UserID), zap.Error(err))
		}
	}

	if err := e.store.AddConnection(ctx, conn); err != nil {
		// Registry stays authoritative; the next heartbeat retries the
		// store write.
		e.logger.Warn("presence store add failed",
			zap.String("user_id", conn.UserID), zap.String("connection_id", conn.ID), zap.Error(err))
	}

	if wasPending {
		if e.m != nil {
			e.m.FlapsSuppressed.Inc()
		}
		e.logger.Debug("reconnect within grace window",
			zap.String("user_id", conn.UserID), zap.String("connection_id", conn.ID))
		return
	}
	if !wasOnline {
		e.BroadcastPresence(ctx, conn.UserID, true, time.Now().UTC())
	}
}

// Disconnect handles a transport close. If other connections remain the
// store is updated right away; losing the last connection only arms the
// grace timer, and the store plus contacts hear about it after the window
// elapses without a reconnect.
func (e *Engine) Disconnect(ctx context.Context, userID, connID string) {
	still := e.reg.Remove(userID, connID)
	e.trackGauges()
	if still {
		if err := e.store.RemoveConnection(ctx, userID, connID); err != nil {
			e.logger.Warn("presence store remove failed",
				zap.String("user_id", userID), zap.String("connection_id", connID), zap.Error(err))
		}
		return
	}
	e.rec.ScheduleOffline(userID, connID)
}

// commitOffline runs when the grace timer fires with the registry still
// showing zero connections for the user.
func (e *Engine) commitOffline(userID, connID string) {
	if e.reg.IsOnline(userID) {
		return
	}
	ctx := context.Background()
	if err := e.store.RemoveConnection(ctx, userID, connID); err != nil {
		// The sweep converges the store later; contacts still get told now.
		e.logger.Warn("offline commit: store remove failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	e.BroadcastPresence(ctx, userID, false, time.Now().UTC())
}

// Heartbeat records client liveness for one connection in both the registry
// and the store. A store miss means the device record was lost, either to a
// failed write on connect or to a TTL expiry, and is re-mirrored from the
// registry here.
func (e *Engine) Heartbeat(ctx context.Context, userID, connID string) error {
	now := time.Now().UTC()
	e.reg.Touch(userID, connID, now)
	found, err := e.store.TouchDevice(ctx, userID, connID, now)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	if !found {
		for _, conn := range e.reg.Connections(userID) {
			if conn.ID != connID {
				continue
			}
			conn.LastHeartbeat = now
			if err := e.store.AddConnection(ctx, conn); err != nil {
				return fmt.Errorf("restore device record: %w", err)
			}
			e.logger.Info("restored lost device record",
				zap.String("user_id", userID), zap.String("connection_id", connID))
			break
		}
	}
	return nil
}

// UpdateManualStatus persists the user's explicit status choice, mirrors it
// into the presence store snapshot, and tells the user's contacts what they
// now see.
func (e *Engine) UpdateManualStatus(ctx context.Context, userID string, status core.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	if err := e.db.SetManualStatus(ctx, userID, status); err != nil {
		return fmt.Errorf("persist manual status: %w", err)
	}
	if err := e.store.SetManualStatus(ctx, userID, status); err != nil {
		// Snapshot is a mirror; relational storage already holds the truth.
		e.logger.Warn("snapshot status mirror failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	displayed := Resolve(status, e.reg.IsOnline(userID))
	e.BroadcastStatus(ctx, userID, displayed)
	return nil
}

// EffectiveStatus derives the presence view for one user. Connectivity comes
// from the registry when this process holds a connection, falling back to
// the store for devices connected elsewhere or before a restart.
func (e *Engine) EffectiveStatus(ctx context.Context, userID string) (core.EffectiveStatus, error) {
	now := time.Now().UTC()
	connected := e.reg.IsOnline(userID)
	deviceCount := e.reg.ConnectionCount(userID)
	lastSeen := now

	snap, snapFound, snapErr := e.store.GetSnapshot(ctx, userID)
	if snapErr != nil {
		e.logger.Warn("snapshot read failed", zap.String("user_id", userID), zap.Error(snapErr))
	}

	if !connected {
		storeOnline, err := e.store.IsOnline(ctx, userID)
		if err == nil && storeOnline {
			connected = true
			deviceCount, _ = e.store.DeviceCount(ctx, userID)
		}
		if snapFound {
			lastSeen = snap.LastSeen
		} else {
			lastSeen = time.Time{}
		}
	}

	manual, err := e.db.ManualStatus(ctx, userID)
	if err != nil {
		// Degraded mode: serve the mirrored value rather than failing the read.
		e.logger.Warn("manual status read failed", zap.String("user_id", userID), zap.Error(err))
		manual = core.DefaultStatus
		if snapFound && snap.Manual.Valid() {
			manual = snap.Manual
		}
	}

	return Effective(userID, manual, connected, lastSeen, deviceCount), nil
}

// IsUserOnline answers from the registry only: the local, propagation-free
// view.
func (e *Engine) IsUserOnline(userID string) bool {
	return e.reg.IsOnline(userID)
}

// ListOnlineUsers returns every online user known to the store; if the store
// is unreachable the registry-only view is served instead.
func (e *Engine) ListOnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := e.store.ListOnline(ctx)
	if err != nil {
		e.logger.Warn("store list online failed, serving registry view", zap.Error(err))
		return e.reg.ListOnline(), nil
	}
	return ids, nil
}

// SweepStale evicts connections whose heartbeats stopped, both from this
// process's registry (closing the socket) and from the store (records left
// by processes that died). Users whose last device was evicted are
// broadcast offline exactly once.
func (e *Engine) SweepStale(ctx context.Context) (evicted, wentOffline int, err error) {
	now := time.Now().UTC()

	for _, conn := range e.reg.Stale(e.staleTimeout, now) {
		e.logger.Info("evicting stale connection",
			zap.String("user_id", conn.UserID), zap.String("connection_id", conn.ID))
		if e.closer != nil {
			e.closer.CloseConnection(conn.UserID, conn.ID)
		}
		e.Disconnect(ctx, conn.UserID, conn.ID)
		evicted++
	}

	res, sweepErr := e.store.SweepStale(ctx, e.staleTimeout)
	if sweepErr != nil {
		return evicted, 0, fmt.Errorf("store sweep: %w", sweepErr)
	}
	evicted += res.Evicted
	if e.m != nil && evicted > 0 {
		e.m.SweeperEvictions.Add(float64(evicted))
	}

	for _, userID := range res.WentOffline {
		// Skip users mid-grace-window; the reconciler owns that broadcast.
		if e.reg.IsOnline(userID) || e.rec.Pending(userID) {
			continue
		}
		e.BroadcastPresence(ctx, userID, false, now)
		wentOffline++
	}
	return evicted, wentOffline, nil
}

// BroadcastPresence fans a connectivity change out to every live connection
// of every contact. Delivery failures are logged and swallowed per contact.
func (e *Engine) BroadcastPresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) {
	e.fanout(ctx, userID, core.NewPresenceEvent(userID, isOnline, lastSeen))
}

// BroadcastStatus fans a displayed-status change out to the user's contacts.
func (e *Engine) BroadcastStatus(ctx context.Context, userID string, status core.Status) {
	e.fanout(ctx, userID, core.NewStatusEvent(userID, status, time.Now().UTC()))
}

func (e *Engine) fanout(ctx context.Context, userID string, event any) {
	if e.bus == nil {
		return
	}
	audience, err := e.graph.Resolve(ctx, userID)
	if err != nil {
		e.logger.Warn("audience resolution failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	var delivered, failed int
	for _, contactID := range audience {
		d, f := e.bus.Push(contactID, event)
		delivered += d
		failed += f
	}
	if e.m != nil {
		e.m.BroadcastsSent.Add(float64(delivered))
		e.m.BroadcastFailures.Add(float64(failed))
	}
}

func (e *Engine) trackGauges() {
	if e.m == nil {
		return
	}
	online := e.reg.ListOnline()
	var conns int
	for _, userID := range online {
		conns += e.reg.ConnectionCount(userID)
	}
	e.m.OnlineUsers.Set(float64(len(online)))
	e.m.Connections.Set(float64(conns))
}

// Close disarms pending grace timers. Live sockets are torn down by the
// transport.
func (e *Engine) Close() {
	e.rec.Stop()
}
