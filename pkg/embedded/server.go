// Package embedded provides an in-process presence server, used by other
// services' test suites that need a live presence endpoint without Redis or
// an external daemon.
package embedded

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/auth"
	"github.com/veilchat/presence/internal/contacts"
	httpapi "github.com/veilchat/presence/internal/http"
	"github.com/veilchat/presence/internal/presence"
	"github.com/veilchat/presence/internal/registry"
	"github.com/veilchat/presence/internal/storage"
	"github.com/veilchat/presence/internal/ws"
)

// Config configures the embedded server.
type Config struct {
	// Addr to bind; empty means an ephemeral localhost port.
	Addr string
	// JWTSecret signs and verifies identity tokens. Required.
	JWTSecret string
	// GraceWindow for the anti-flicker reconciler; defaults to 2s.
	GraceWindow time.Duration
	// HeartbeatInterval for server pings; defaults to 25s.
	HeartbeatInterval time.Duration
	// Logger is optional.
	Logger *zap.Logger
}

// Server is an embedded presence server backed by in-memory stores.
type Server struct {
	cfg     Config
	engine  *presence.Engine
	db      *storage.InMemory
	http    *http.Server
	ln      net.Listener
	mu      sync.Mutex
	started bool
}

func New(cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}

	db := storage.NewInMemory()
	store := presence.NewMemoryStore()
	reg := registry.New()
	graph := contacts.NewGraph(db, store, cfg.Logger)
	hub := ws.NewHub()
	engine := presence.NewEngine(presence.EngineConfig{GraceWindow: cfg.GraceWindow}, reg, store, db, graph, hub, cfg.Logger).
		WithConnCloser(hub)
	gateway := ws.NewGateway(engine, hub, cfg.HeartbeatInterval, cfg.Logger)

	router := httpapi.NewRouter(
		httpapi.NewService(engine, graph, cfg.Logger),
		gateway.Handler(),
		nil,
		auth.Middleware(cfg.JWTSecret),
	)

	return &Server{
		cfg:    cfg,
		engine: engine,
		db:     db,
		http:   &http.Server{Handler: router},
	}, nil
}

// Start begins listening. Safe to call once.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.started = true
	go s.http.Serve(ln)
	return nil
}

// URL returns the base URL of the running server.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return "http://" + s.ln.Addr().String()
}

// Token mints an identity token accepted by this server.
func (s *Server) Token(userID, deviceID string) (string, error) {
	return auth.Token(s.cfg.JWTSecret, userID, deviceID, time.Hour)
}

// AddContact seeds a contact edge directly into the backing store.
func (s *Server) AddContact(ownerID, contactID string) error {
	return s.db.AddContact(context.Background(), ownerID, contactID)
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.engine.Close()
	s.started = false
	return s.http.Shutdown(ctx)
}
