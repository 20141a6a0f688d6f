package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Middleware authenticates every request and stores the user in the
// request context. Missing or invalid credentials are 401; anonymous
// callers are 403.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := service.Authenticate(r)
			if err != nil {
				status, detail := http.StatusUnauthorized, "Missing authentication headers. Request must come through Jenkins proxy."
				switch {
				case errors.Is(err, ErrAnonymous):
					status, detail = http.StatusForbidden, "Authentication required. Please log in to Jenkins to use the chatbot."
				case errors.Is(err, ErrInvalidToken):
					detail = "Invalid token."
				case errors.Is(err, ErrInvalidKey):
					detail = "Invalid API key."
				}
				logger.WarnContext(r.Context(), "authentication failed", "path", r.URL.Path, "status", status, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
