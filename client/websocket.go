package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is a server frame received on a subscription.
type Event struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connection_id,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	IsOnline     bool      `json:"isOnline,omitempty"`
	LastSeen     time.Time `json:"lastSeen,omitempty"`
	Status       string    `json:"status,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Subscription is a live websocket session. Server pings are answered with
// heartbeats automatically; everything else arrives on Events.
type Subscription struct {
	conn   *websocket.Conn
	Events <-chan Event
	cancel context.CancelFunc
}

// Subscribe opens the websocket and starts the read loop. The device query
// parameter identifies this device across reconnects.
func (c *Client) Subscribe(ctx context.Context, deviceID string) (*Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws?token=" + url.QueryEscape(c.Token)
	if deviceID != "" {
		wsURL += "&device=" + url.QueryEscape(deviceID)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 16)
	sub := &Subscription{conn: conn, Events: events, cancel: cancel}

	go func() {
		defer close(events)
		for {
			var ev Event
			if err := wsjson.Read(loopCtx, conn, &ev); err != nil {
				return
			}
			if ev.Type == "ping" {
				writeCtx, writeCancel := context.WithTimeout(loopCtx, 5*time.Second)
				_ = wsjson.Write(writeCtx, conn, map[string]string{"type": "heartbeat"})
				writeCancel()
				continue
			}
			select {
			case events <- ev:
			case <-loopCtx.Done():
				return
			}
		}
	}()
	return sub, nil
}

// Heartbeat sends an unsolicited liveness frame.
func (s *Subscription) Heartbeat(ctx context.Context) error {
	return wsjson.Write(ctx, s.conn, map[string]string{"type": "heartbeat"})
}

// SetStatus changes manual status over the socket instead of the REST API.
func (s *Subscription) SetStatus(ctx context.Context, status string) error {
	return wsjson.Write(ctx, s.conn, map[string]string{"type": "status:set", "status": status})
}

func (s *Subscription) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
