package core

import "time"

// EventType tags every frame exchanged over the websocket transport.
type EventType string

const (
	// Server -> client
	EventConnected      EventType = "connected"
	EventPing           EventType = "ping"
	EventPresenceUpdate EventType = "presence:update"
	EventStatusUpdate   EventType = "status:update"

	// Client -> server
	EventHeartbeat EventType = "heartbeat"
	EventStatusSet EventType = "status:set"
)

// ClientEvent is the envelope for frames originated by a client. The read
// loop switches on Type; unknown types are ignored.
type ClientEvent struct {
	Type   EventType `json:"type"`
	Status string    `json:"status,omitempty"`
}

// ConnectedEvent acknowledges a successful handshake and tells the client
// its connection id.
type ConnectedEvent struct {
	Type         EventType `json:"type"`
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
}

// PingEvent is a liveness probe; clients answer with a heartbeat event.
type PingEvent struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

// PresenceEvent notifies contacts that a user's connectivity changed.
type PresenceEvent struct {
	Type     EventType `json:"type"`
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// StatusEvent notifies contacts that a user's displayed status changed.
type StatusEvent struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPresenceEvent(userID string, isOnline bool, lastSeen time.Time) PresenceEvent {
	return PresenceEvent{Type: EventPresenceUpdate, UserID: userID, IsOnline: isOnline, LastSeen: lastSeen}
}

func NewStatusEvent(userID string, status Status, at time.Time) StatusEvent {
	return StatusEvent{Type: EventStatusUpdate, UserID: userID, Status: status, Timestamp: at}
}
