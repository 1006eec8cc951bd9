package ws

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Hub indexes live websocket connections by user and connection id so
// fan-out can reach every open tab and device of a user.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[string]*websocket.Conn // userID -> connID -> conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[string]*websocket.Conn)}
}

func (h *Hub) add(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.conns[userID]
	if !ok {
		perUser = make(map[string]*websocket.Conn)
		h.conns[userID] = perUser
	}
	perUser[connID] = conn
}

func (h *Hub) remove(userID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(perUser, connID)
	if len(perUser) == 0 {
		delete(h.conns, userID)
	}
}

type connEntry struct {
	connID string
	conn   *websocket.Conn
}

func (h *Hub) snapshot(userID string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	perUser := h.conns[userID]
	if len(perUser) == 0 {
		return nil
	}
	out := make([]connEntry, 0, len(perUser))
	for connID, conn := range perUser {
		out = append(out, connEntry{connID: connID, conn: conn})
	}
	return out
}

// Push delivers an event to every live connection of one user. A failed
// write closes and drops that connection; a missing or broken connection is
// equivalent to "not currently reachable", which is already the state the
// system converges to.
func (h *Hub) Push(userID string, event any) (delivered, failed int) {
	for _, e := range h.snapshot(userID) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			failed++
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(userID, e.connID)
			}(e)
			continue
		}
		delivered++
	}
	return delivered, failed
}

// CloseConnection force-closes one connection, which also unblocks its read
// loop and runs the normal disconnect path.
func (h *Hub) CloseConnection(userID, connID string) {
	h.mu.RLock()
	conn := h.conns[userID][connID]
	h.mu.RUnlock()
	if conn == nil {
		return
	}
	conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
}
