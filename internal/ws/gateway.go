// Package ws is the websocket transport: it accepts authenticated
// connections, runs the typed event read loop and the per-connection
// heartbeat probe, and feeds connect/disconnect lifecycle events into the
// presence engine.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/veilchat/presence/internal/auth"
	"github.com/veilchat/presence/internal/core"
	"github.com/veilchat/presence/internal/presence"
)

type Gateway struct {
	engine            *presence.Engine
	hub               *Hub
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func NewGateway(engine *presence.Engine, hub *Hub, heartbeatInterval time.Duration, logger *zap.Logger) *Gateway {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		engine:            engine,
		hub:               hub,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.Named("ws"),
	}
}

func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.FromContext(r.Context())
		if !ok || identity.UserID == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		deviceID := r.URL.Query().Get("device")
		if deviceID == "" {
			deviceID = identity.DeviceID
		}
		if deviceID == "" {
			deviceID = uuid.NewString()
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		now := time.Now().UTC()
		record := core.Connection{
			ID:            uuid.NewString(),
			UserID:        identity.UserID,
			DeviceID:      deviceID,
			UserAgent:     r.UserAgent(),
			ConnectedAt:   now,
			LastHeartbeat: now,
		}

		g.hub.add(record.UserID, record.ID, conn)
		g.engine.Connect(r.Context(), record)
		defer func() {
			g.hub.remove(record.UserID, record.ID)
			// The request context is already cancelled here; the store write
			// must still go through.
			g.engine.Disconnect(context.Background(), record.UserID, record.ID)
		}()

		g.serve(r.Context(), conn, record)
	}
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, record core.Connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ack := core.ConnectedEvent{Type: core.EventConnected, ConnectionID: record.ID, UserID: record.UserID}
	if err := g.write(conn, ack); err != nil {
		return
	}

	go g.probe(ctx, conn)

	for {
		var ev core.ClientEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return
		}
		switch ev.Type {
		case core.EventHeartbeat:
			if err := g.engine.Heartbeat(ctx, record.UserID, record.ID); err != nil {
				g.logger.Warn("heartbeat update failed",
					zap.String("user_id", record.UserID), zap.Error(err))
			}
		case core.EventStatusSet:
			status, err := core.ParseStatus(ev.Status)
			if err != nil {
				g.logger.Debug("ignoring invalid status",
					zap.String("user_id", record.UserID), zap.String("status", ev.Status))
				continue
			}
			if err := g.engine.UpdateManualStatus(ctx, record.UserID, status); err != nil {
				g.logger.Warn("status update failed",
					zap.String("user_id", record.UserID), zap.Error(err))
			}
		default:
			// Unknown client frames are ignored rather than fatal.
		}
	}
}

// probe emits liveness pings on a fixed cadence until the connection's
// context ends. The ticker dies with the connection, so no timers leak.
func (g *Gateway) probe(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := core.PingEvent{Type: core.EventPing, At: time.Now().UTC()}
			if err := g.write(conn, ping); err != nil {
				if !errors.Is(err, context.Canceled) {
					conn.Close(websocket.StatusGoingAway, "ping write failed")
				}
				return
			}
		}
	}
}

func (g *Gateway) write(conn *websocket.Conn, event any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
