package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/veilchat/presence/internal/auth"
	"github.com/veilchat/presence/internal/contacts"
	"github.com/veilchat/presence/internal/presence"
	"github.com/veilchat/presence/internal/registry"
	"github.com/veilchat/presence/internal/storage"
)

const testSecret = "gateway-test-secret"

type wsEvent struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"userId"`
	IsOnline     bool      `json:"isOnline"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
}

type gatewayFixture struct {
	srv    *httptest.Server
	engine *presence.Engine
	db     *storage.InMemory
}

func newGatewayFixture(t *testing.T, grace, heartbeat time.Duration) *gatewayFixture {
	t.Helper()
	db := storage.NewInMemory()
	if err := db.AddContact(context.Background(), "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	store := presence.NewMemoryStore()
	reg := registry.New()
	hub := NewHub()
	graph := contacts.NewGraph(db, store, nil)
	engine := presence.NewEngine(presence.EngineConfig{GraceWindow: grace}, reg, store, db, graph, hub, nil).
		WithConnCloser(hub)
	gw := NewGateway(engine, hub, heartbeat, nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", auth.Middleware(testSecret)(gw.Handler()))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})
	return &gatewayFixture{srv: srv, engine: engine, db: db}
}

// dial opens an authenticated websocket and consumes the connected ack.
func (f *gatewayFixture) dial(t *testing.T, userID, deviceID string) *websocket.Conn {
	t.Helper()
	token, err := auth.Token(testSecret, userID, "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + url.QueryEscape(token)
	if deviceID != "" {
		wsURL += "&device=" + url.QueryEscape(deviceID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	ack := readEvent(t, conn, 5*time.Second)
	if ack.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", ack.Type)
	}
	if ack.ConnectionID == "" {
		t.Fatal("ack missing connection id")
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) wsEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var ev wsEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func expectNoEvent(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	var ev wsEvent
	if err := wsjson.Read(ctx, conn, &ev); err == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestHandlerRejectsUnauthenticatedUpgrade(t *testing.T) {
	f := newGatewayFixture(t, 50*time.Millisecond, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("expected the unauthenticated dial to fail")
	}
}

func TestConnectFansOutToContacts(t *testing.T) {
	f := newGatewayFixture(t, 50*time.Millisecond, time.Minute)

	bob := f.dial(t, "bob", "laptop")
	// bob coming online reaches nobody yet; alice connecting must reach bob.
	f.dial(t, "alice", "phone")

	ev := readEvent(t, bob, 5*time.Second)
	if ev.Type != "presence:update" || ev.UserID != "alice" || !ev.IsOnline {
		t.Fatalf("bob got %+v, want alice online", ev)
	}
	if !f.engine.IsUserOnline("alice") {
		t.Fatal("engine must show alice online")
	}
}

func TestFanOutReachesEveryDeviceAndOnlyContacts(t *testing.T) {
	f := newGatewayFixture(t, 50*time.Millisecond, time.Minute)

	bobLaptop := f.dial(t, "bob", "laptop")
	bobPhone := f.dial(t, "bob", "phone")
	carol := f.dial(t, "carol", "tablet")

	f.dial(t, "alice", "phone")

	for name, conn := range map[string]*websocket.Conn{"laptop": bobLaptop, "phone": bobPhone} {
		ev := readEvent(t, conn, 5*time.Second)
		if ev.Type != "presence:update" || ev.UserID != "alice" || !ev.IsOnline {
			t.Fatalf("bob %s got %+v, want alice online", name, ev)
		}
	}
	// carol shares no edge with alice and must stay silent.
	expectNoEvent(t, carol, 300*time.Millisecond)
}

func TestStatusSetOverSocket(t *testing.T) {
	f := newGatewayFixture(t, 50*time.Millisecond, time.Minute)

	bob := f.dial(t, "bob", "laptop")
	alice := f.dial(t, "alice", "phone")
	readEvent(t, bob, 5*time.Second) // alice online

	send(t, alice, map[string]string{"type": "status:set", "status": "busy"})

	ev := readEvent(t, bob, 5*time.Second)
	if ev.Type != "status:update" || ev.UserID != "alice" || ev.Status != "busy" {
		t.Fatalf("bob got %+v, want alice busy", ev)
	}

	// Invalid statuses are dropped without killing the session.
	send(t, alice, map[string]string{"type": "status:set", "status": "lurking"})
	send(t, alice, map[string]string{"type": "status:set", "status": "away"})
	ev = readEvent(t, bob, 5*time.Second)
	if ev.Status != "away" {
		t.Fatalf("bob got %+v, want away after the invalid frame was dropped", ev)
	}
}

func TestDisconnectBroadcastsOfflineAfterGrace(t *testing.T) {
	f := newGatewayFixture(t, 80*time.Millisecond, time.Minute)

	bob := f.dial(t, "bob", "laptop")
	alice := f.dial(t, "alice", "phone")
	readEvent(t, bob, 5*time.Second) // alice online

	alice.Close(websocket.StatusNormalClosure, "")

	ev := readEvent(t, bob, 5*time.Second)
	if ev.Type != "presence:update" || ev.UserID != "alice" || ev.IsOnline {
		t.Fatalf("bob got %+v, want alice offline", ev)
	}
}

func TestReloadDoesNotFlicker(t *testing.T) {
	f := newGatewayFixture(t, 300*time.Millisecond, time.Minute)

	bob := f.dial(t, "bob", "laptop")
	alice := f.dial(t, "alice", "phone")
	readEvent(t, bob, 5*time.Second) // alice online

	// Page reload: drop and redial inside the grace window.
	alice.Close(websocket.StatusNormalClosure, "")
	time.Sleep(50 * time.Millisecond)
	f.dial(t, "alice", "phone")

	// bob must see neither an offline nor a duplicate online event.
	expectNoEvent(t, bob, 600*time.Millisecond)
}

func TestUnknownFramesAreIgnored(t *testing.T) {
	f := newGatewayFixture(t, 50*time.Millisecond, time.Minute)

	alice := f.dial(t, "alice", "phone")
	send(t, alice, map[string]string{"type": "subscribe", "status": "x"})
	send(t, alice, map[string]string{"type": "heartbeat"})

	// The session survives both frames.
	waitForCondition(t, 2*time.Second, func() bool {
		return f.engine.IsUserOnline("alice")
	})
}

func TestServerProbesOnHeartbeatInterval(t *testing.T) {
	f := newGatewayFixture(t, 50*time.Millisecond, 40*time.Millisecond)

	alice := f.dial(t, "alice", "phone")
	ev := readEvent(t, alice, 2*time.Second)
	if ev.Type != "ping" {
		t.Fatalf("got %+v, want a ping probe", ev)
	}
	send(t, alice, map[string]string{"type": "heartbeat"})
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
