package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsMaxPayloadBytes = 32 << 20
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 25 * time.Second
	wsWriteWait       = 10 * time.Second
)

type streamRequest struct {
	Message string           `json:"message"`
	Files   []fileAttachment `json:"files,omitempty"`
}

type streamFrame struct {
	Token string `json:"token,omitempty"`
	End   bool   `json:"end,omitempty"`
	Error string `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(frame streamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleStream streams answers over a websocket. Each client frame
// {"message": ...} produces {"token": ...} frames followed by {"end": true};
// failures are reported as {"error": ...} and the connection stays open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	r, userID := owner(r)
	sessionID := r.PathValue("id")

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := s.chat.Authorize(ctx, sessionID, userID); err != nil {
		_, detail := errorStatus(err)
		_ = conn.send(streamFrame{Error: detail})
		return
	}
	s.logger.InfoContext(ctx, "websocket connected", "session_id", sessionID)

	raw.SetReadLimit(wsMaxPayloadBytes)
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		// Generation can outlast the pong wait while no reads happen.
		_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.DebugContext(ctx, "websocket closed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = conn.send(streamFrame{Error: "Invalid JSON frame."})
			continue
		}
		if strings.TrimSpace(req.Message) == "" && len(req.Files) == 0 {
			continue
		}
		if s.limiter != nil && !s.limiter.Allow(userID) {
			s.metrics.RecordRateLimited()
			_ = conn.send(streamFrame{Error: "Too many requests. Please slow down."})
			continue
		}

		var sendErr error
		_, err = s.chat.StreamMessage(ctx, sessionID, userID, req.Message, attachmentsFrom(req.Files), func(token string) {
			if sendErr == nil {
				if sendErr = conn.send(streamFrame{Token: token}); sendErr != nil {
					cancel()
				}
			}
		})
		if sendErr != nil {
			return
		}
		if err != nil {
			status, detail := errorStatus(err)
			if status >= http.StatusInternalServerError {
				s.logger.ErrorContext(ctx, "stream message failed", "error", err)
			}
			if conn.send(streamFrame{Error: detail}) != nil {
				return
			}
			continue
		}
		if conn.send(streamFrame{End: true}) != nil {
			return
		}
	}
}
