package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/auth"
	"github.com/veilchat/presence/internal/core"
)

type setStatusRequest struct {
	Status string `json:"status"`
}

// handleSetStatus lets the authenticated caller change their own manual
// status. Contacts are notified of the resulting displayed status.
func (s *Service) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := auth.FromContext(r.Context())
	if !ok || identity.UserID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	status, err := core.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.UpdateManualStatus(r.Context(), identity.UserID, status); err != nil {
		s.logger.Error("set status failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": identity.UserID,
		"status":  string(status),
	})
}
