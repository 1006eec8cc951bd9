package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func protected(t *testing.T) (http.Handler, *Identity) {
	t.Helper()
	var got Identity
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		if !ok {
			t.Error("identity missing from context")
		}
		got = identity
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(testSecret)(h), &got
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	h, got := protected(t)
	token, err := Token(testSecret, "alice", "phone", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/presence/online", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.UserID != "alice" || got.DeviceID != "phone" {
		t.Fatalf("identity = %+v, want alice/phone", got)
	}
}

func TestMiddlewareAcceptsQueryToken(t *testing.T) {
	// Browsers cannot set headers on websocket upgrades.
	h, got := protected(t)
	token, err := Token(testSecret, "alice", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.UserID != "alice" {
		t.Fatalf("identity = %+v, want alice", got)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	expired, err := Token(testSecret, "alice", "", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	wrongKey, err := Token("other-secret", "alice", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"no token", ""},
		{"malformed header", "Bearer"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong signing key", "Bearer " + wrongKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := protected(t)
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestMiddlewareRejectsTokenWithoutSubject(t *testing.T) {
	h, _ := protected(t)
	token, err := Token(testSecret, "", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a token without sub", rec.Code)
	}
}
