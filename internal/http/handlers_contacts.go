package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/auth"
)

type addContactRequest struct {
	ContactID string `json:"contact_id"`
}

func (s *Service) handleContacts(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok || identity.UserID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		ids, err := s.graph.Resolve(r.Context(), identity.UserID)
		if err != nil {
			s.logger.Error("list contacts failed", zap.String("user_id", identity.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"contacts": ids})

	case http.MethodPost:
		var req addContactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		contactID := strings.TrimSpace(req.ContactID)
		if contactID == "" {
			writeError(w, http.StatusBadRequest, "contact_id required")
			return
		}
		if err := s.graph.Add(r.Context(), identity.UserID, contactID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"owner_id":   identity.UserID,
			"contact_id": contactID,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := auth.FromContext(r.Context())
	if !ok || identity.UserID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	contactID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/contacts/"), "/")
	if contactID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.graph.Remove(r.Context(), identity.UserID, contactID); err != nil {
		s.logger.Error("remove contact failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
