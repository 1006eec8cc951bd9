package core

import (
	"fmt"
	"time"
)

// Status is a user's manually chosen availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// DefaultStatus is assumed when a user never set a status explicitly.
const DefaultStatus = StatusOnline

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusAway, StatusOffline:
		return true
	}
	return false
}

// ParseStatus validates a client-supplied status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Connection is one live transport session for one device of one user.
// The registry owns it for the process lifetime; the presence store holds
// a serialized mirror with a TTL.
type Connection struct {
	ID            string    `json:"connection_id"`
	UserID        string    `json:"user_id"`
	DeviceID      string    `json:"device_id"`
	UserAgent     string    `json:"user_agent,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// EffectiveStatus is the presence view shown to other users. It is derived
// from connectivity plus manual status on every read, never stored as
// independent truth. Status here is the resolved (displayed) status.
type EffectiveStatus struct {
	UserID      string    `json:"user_id"`
	IsConnected bool      `json:"is_connected"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	DeviceCount int       `json:"device_count"`
}

// ContactEdge is a directed contact relation. The notification audience for
// a user is the union of both edge directions.
type ContactEdge struct {
	OwnerID   string    `json:"owner_id"`
	ContactID string    `json:"contact_id"`
	CreatedAt time.Time `json:"created_at"`
}
