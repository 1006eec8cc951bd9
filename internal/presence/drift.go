package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DriftReport describes a cross-store consistency check for one user. The
// registry wins for "is this process connected"; the store and snapshot are
// corrected toward it.
type DriftReport struct {
	UserID            string `json:"user_id"`
	RegistryOnline    bool   `json:"registry_online"`
	StoreOnline       bool   `json:"store_online"`
	SnapshotConnected bool   `json:"snapshot_connected"`
	Corrected         bool   `json:"corrected"`
}

// Reconcile compares the three views of a user's reachability and repairs
// the minority. Inconsistency is never raised as an error; this is the
// maintenance surface that detects and corrects drift left behind by store
// outages.
func (e *Engine) Reconcile(ctx context.Context, userID string) (DriftReport, error) {
	report := DriftReport{UserID: userID}
	report.RegistryOnline = e.reg.IsOnline(userID)

	storeOnline, err := e.store.IsOnline(ctx, userID)
	if err != nil {
		return report, err
	}
	report.StoreOnline = storeOnline

	snap, found, err := e.store.GetSnapshot(ctx, userID)
	if err != nil {
		return report, err
	}
	report.SnapshotConnected = found && snap.Connected

	if report.RegistryOnline {
		// Re-mirror every live connection; AddConnection also rewrites the
		// snapshot as connected.
		if !report.StoreOnline || !report.SnapshotConnected {
			for _, conn := range e.reg.Connections(userID) {
				if err := e.store.AddConnection(ctx, conn); err != nil {
					return report, err
				}
			}
			report.Corrected = true
			e.logger.Info("drift repaired: store re-mirrored from registry",
				zap.String("user_id", userID))
		}
		return report, nil
	}

	if report.StoreOnline || report.SnapshotConnected {
		devices, err := e.store.ListDevices(ctx, userID)
		if err != nil {
			return report, err
		}
		for _, d := range devices {
			if err := e.store.RemoveConnection(ctx, userID, d.ID); err != nil {
				return report, err
			}
		}
		if len(devices) == 0 {
			// Snapshot claims connected with no device records; rewrite it.
			if err := e.store.RemoveConnection(ctx, userID, "unknown"); err != nil {
				return report, err
			}
		}
		report.Corrected = true
		e.logger.Info("drift repaired: stale store presence cleared",
			zap.String("user_id", userID))
		// Contacts were seeing a stale online indicator.
		e.BroadcastPresence(ctx, userID, false, time.Now().UTC())
	}
	return report, nil
}
