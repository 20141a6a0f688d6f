package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	service := NewService(Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen string
	handler := Middleware(service, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			t.Error("user missing from context")
			return
		}
		seen = user.ID
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		userID string
		status int
	}{
		{"authenticated", "alice", http.StatusNoContent},
		{"missing identity", "", http.StatusUnauthorized},
		{"anonymous", "anonymous", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
			if tt.userID != "" {
				req.Header.Set(HeaderUserID, tt.userID)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusNoContent && seen != tt.userID {
				t.Errorf("handler saw %q", seen)
			}
		})
	}
}
