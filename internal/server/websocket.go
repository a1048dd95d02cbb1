package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/results"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocket response statuses.
const (
	wsStatusCompleted = "completed"
	wsStatusError     = "error"
)

// WebSocketRequest asks for detection on exactly one image source.
type WebSocketRequest struct {
	ID        string `json:"id,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	ImageData string `json:"image_data,omitempty"` // base64-encoded image bytes
}

// WebSocketResponse answers one WebSocketRequest. Code and Detail mirror the
// status and detail the equivalent HTTP endpoint would return.
type WebSocketResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	Detections []results.Detection `json:"detections,omitzero"`
	Code       int                 `json:"code,omitempty"`
	Detail     string              `json:"detail,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts any origin when CORS is open, otherwise only the
// configured comma-separated origins. Non-browser clients send no Origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "" || s.corsOrigin == "*" {
		return true
	}
	for _, allowed := range strings.Split(s.corsOrigin, ",") {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// predictWebSocketHandler serves one detection per text message.
func (s *Server) predictWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	if limit := s.maxUploadBytes(); limit > 0 {
		// base64 inflates payloads by 4/3; leave room for the JSON envelope.
		conn.SetReadLimit(limit/3*4 + 64*1024)
	}

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages until the client goes away.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var resp WebSocketResponse
		if messageType != websocket.TextMessage {
			resp = wsError("", http.StatusBadRequest, "Only text messages are supported")
		} else {
			resp = s.handleWebSocketMessage(ctx, data)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(resp); err != nil {
			slog.Warn("Failed to write WebSocket response", "error", err)
			return
		}
		websocketMessagesTotal.WithLabelValues("sent").Inc()
	}
}

// handleWebSocketMessage runs one request. Panics are reported as internal
// errors on the message instead of dropping the connection.
func (s *Server) handleWebSocketMessage(ctx context.Context, data []byte) (resp WebSocketResponse) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsError("", http.StatusBadRequest, "Invalid JSON message: "+err.Error())
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	defer func() {
		if rec := recover(); rec != nil {
			httpPanicsTotal.Inc()
			slog.Error("Panic in WebSocket handler", "panic", rec, "id", req.ID)
			resp = wsError(req.ID, http.StatusInternalServerError, "Internal Server Error")
		}
	}()

	src, err := s.wsSource(req)
	if err != nil {
		return wsError(req.ID, http.StatusBadRequest, err.Error())
	}
	if s.pipeline == nil {
		return wsError(req.ID, http.StatusServiceUnavailable, "Model not loaded")
	}

	out, err := s.detect(ctx, src)
	if err != nil {
		status, detail := classifyError(src.Mode(), err)
		if status >= http.StatusInternalServerError {
			slog.Error("WebSocket detection failed", "id", req.ID, "mode", src.Mode(), "error", err)
		}
		return wsError(req.ID, status, detail)
	}

	return WebSocketResponse{ID: req.ID, Status: wsStatusCompleted, Detections: out.Detections}
}

// wsSource picks the image source named by the request; exactly one must be set.
func (s *Server) wsSource(req WebSocketRequest) (imageio.Source, error) {
	set := 0
	for _, v := range []string{req.ImageURL, req.ImagePath, req.ImageData} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of image_url, image_path or image_data is required, got %d", set)
	}

	switch {
	case req.ImageURL != "":
		return imageio.NewURLSource(req.ImageURL, s.fetchClient, s.maxUploadBytes()), nil
	case req.ImagePath != "":
		return imageio.NewPathSource(req.ImagePath), nil
	default:
		raw, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image_data: %w", err)
		}
		return imageio.NewStreamSource(bytes.NewReader(raw), req.ID), nil
	}
}

func wsError(id string, code int, detail string) WebSocketResponse {
	return WebSocketResponse{ID: id, Status: wsStatusError, Code: code, Detail: detail}
}
