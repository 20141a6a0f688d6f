package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/chatcore/internal/chat"
	"github.com/haasonsaas/chatcore/internal/sessions"
)

// errorStatus maps a service error to a status code and a user-facing
// message. Internal detail never reaches the client.
func errorStatus(err error) (int, string) {
	var attErr *chat.AttachmentError
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound, "Session not found."
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden, "You do not have access to this session."
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusUnprocessableEntity, "Either message or files must be provided."
	case errors.As(err, &attErr):
		return http.StatusUnprocessableEntity, attErr.Error()
	case errors.Is(err, sessions.ErrOwnerRequired):
		return http.StatusBadRequest, "A user id is required."
	case errors.Is(err, chat.ErrClosed):
		return http.StatusServiceUnavailable, "The service is shutting down."
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The request timed out."
	default:
		return http.StatusInternalServerError, "An unexpected error occurred."
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, detail)
}
