package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haasonsaas/chatcore/internal/auth"
	"github.com/haasonsaas/chatcore/internal/observability"
	"github.com/haasonsaas/chatcore/pkg/models"
)

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type fileAttachment struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type,omitempty"`
}

type chatRequest struct {
	Message string           `json:"message"`
	Files   []fileAttachment `json:"files,omitempty"`
}

type chatResponse struct {
	Reply          string   `json:"reply"`
	ProcessedFiles []string `json:"processed_files,omitempty"`
}

type listResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

type deleteResponse struct {
	Message string `json:"message"`
}

func (f fileAttachment) model() models.Attachment {
	return models.Attachment{
		Filename: f.Filename,
		Kind:     models.AttachmentKind(f.Type),
		MimeType: f.MimeType,
		Payload:  f.Content,
	}
}

func attachmentsFrom(files []fileAttachment) []models.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]models.Attachment, len(files))
	for i, f := range files {
		out[i] = f.model()
	}
	return out
}

// owner returns the authenticated user id and tags the context with it.
func owner(r *http.Request) (*http.Request, string) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return r, ""
	}
	return r.WithContext(observability.AddUserID(r.Context(), user.ID)), user.ID
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r, userID := owner(r)
	id, err := s.chat.CreateSession(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/sessions/%s/message", s.cfg.Prefix, id))
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	r, userID := owner(r)
	list, err := s.chat.ListSessions(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: list})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r, userID := owner(r)
	sessionID := r.PathValue("id")

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusUnprocessableEntity, "Either message or files must be provided.")
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		}
		return
	}

	reply, err := s.chat.PostMessage(r.Context(), sessionID, userID, req.Message, attachmentsFrom(req.Files))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply.Reply, ProcessedFiles: reply.ProcessedFiles})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	r, userID := owner(r)
	sessionID := r.PathValue("id")
	removed, err := s.chat.DeleteSession(r.Context(), sessionID, userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Session not found.")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: fmt.Sprintf("Session %s deleted.", sessionID)})
}
