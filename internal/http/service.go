package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/contacts"
	"github.com/veilchat/presence/internal/presence"
)

type Service struct {
	engine *presence.Engine
	graph  *contacts.Graph
	logger *zap.Logger
}

func NewService(engine *presence.Engine, graph *contacts.Graph, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, graph: graph, logger: logger.Named("http")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
