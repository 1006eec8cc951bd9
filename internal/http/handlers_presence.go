package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type onlineUsersResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

func (s *Service) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	users, err := s.engine.ListOnlineUsers(r.Context())
	if err != nil {
		s.logger.Error("list online failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, onlineUsersResponse{Count: len(users), Users: users})
}

// handlePresence serves /api/presence/{userID} and
// /api/presence/{userID}/devices.
func (s *Service) handlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/presence/"), "/")
	if path == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if userID, ok := strings.CutSuffix(path, "/devices"); ok {
		s.serveDevices(w, r, strings.Trim(userID, "/"))
		return
	}
	if strings.Contains(path, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	status, err := s.engine.EffectiveStatus(r.Context(), path)
	if err != nil {
		s.logger.Error("effective status failed", zap.String("user_id", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Service) serveDevices(w http.ResponseWriter, r *http.Request, userID string) {
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	devices := s.engine.Registry().Connections(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"count":   len(devices),
		"devices": devices,
	})
}

func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reconcile/"), "/")
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	report, err := s.engine.Reconcile(r.Context(), userID)
	if err != nil {
		s.logger.Error("reconcile failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
