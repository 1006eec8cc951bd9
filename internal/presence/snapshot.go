package presence

import (
	"time"

	"github.com/veilchat/presence/internal/core"
)

// Snapshot is the status record cached in the presence store. Connected and
// DeviceCount reflect the device map at write time; Manual mirrors the user's
// persisted status choice so a restarted process can serve reads before the
// relational store is consulted.
type Snapshot struct {
	UserID      string      `json:"user_id"`
	Connected   bool        `json:"connected"`
	Manual      core.Status `json:"manual_status"`
	LastSeen    time.Time   `json:"last_seen"`
	DeviceCount int         `json:"device_count"`
}

// connectSnapshot computes the snapshot written when a device connects.
// A previously chosen manual status survives the reconnect; the one
// exception is a prior snapshot that recorded offline with no devices, which
// a fresh connection bootstraps back to the default.
func connectSnapshot(prev Snapshot, found bool, userID string, deviceCount int, now time.Time) Snapshot {
	manual := core.DefaultStatus
	if found && prev.Manual.Valid() {
		manual = prev.Manual
		if !prev.Connected && prev.Manual == core.StatusOffline {
			manual = core.DefaultStatus
		}
	}
	return Snapshot{
		UserID:      userID,
		Connected:   true,
		Manual:      manual,
		LastSeen:    now,
		DeviceCount: deviceCount,
	}
}

// disconnectSnapshot computes the snapshot written when the last device goes
// away. The manual status is preserved so it is still in effect on the next
// connect.
func disconnectSnapshot(prev Snapshot, found bool, userID string, now time.Time) Snapshot {
	manual := core.DefaultStatus
	if found && prev.Manual.Valid() {
		manual = prev.Manual
	}
	return Snapshot{
		UserID:      userID,
		Connected:   false,
		Manual:      manual,
		LastSeen:    now,
		DeviceCount: 0,
	}
}
