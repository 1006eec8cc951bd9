package presence

import (
	"time"

	"github.com/veilchat/presence/internal/core"
)

// Resolve derives the displayed status from connectivity and manual choice.
// Precedence:
//  1. not connected -> offline, regardless of manual status
//  2. connected with manual offline -> offline (appear-offline mode)
//  3. connected -> manual status
//
// Manual status and connectivity change at different rates through different
// code paths, so the result is recomputed on every read rather than stored.
func Resolve(manual core.Status, connected bool) core.Status {
	if !connected {
		return core.StatusOffline
	}
	if !manual.Valid() {
		manual = core.DefaultStatus
	}
	return manual
}

// Effective assembles the full derived view returned to readers.
func Effective(userID string, manual core.Status, connected bool, lastSeen time.Time, deviceCount int) core.EffectiveStatus {
	return core.EffectiveStatus{
		UserID:      userID,
		IsConnected: connected,
		Status:      Resolve(manual, connected),
		LastSeen:    lastSeen,
		DeviceCount: deviceCount,
	}
}
