package httpapi

import (
	"net/http"
)

// NewRouter assembles the API surface. Health and metrics stay outside the
// auth middleware; everything under /api and /ws requires a verified
// identity.
func NewRouter(svc *Service, wsHandler http.HandlerFunc, metricsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/presence/online", svc.handleOnlineUsers)
	api.HandleFunc("/api/presence/", svc.handlePresence)
	api.HandleFunc("/api/status", svc.handleSetStatus)
	api.HandleFunc("/api/contacts", svc.handleContacts)
	api.HandleFunc("/api/contacts/", svc.handleRemoveContact)
	api.HandleFunc("/api/reconcile/", svc.handleReconcile)
	api.HandleFunc("/ws", wsHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	if mw != nil {
		mux.Handle("/", mw(api))
	} else {
		mux.Handle("/", api)
	}
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
