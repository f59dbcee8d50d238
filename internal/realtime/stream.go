package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// StreamHandler upgrades a request to a websocket and forwards every push
// published for one key as a text frame. The subscription is released when
// either side closes the socket.
type StreamHandler struct {
	channel  Channel
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewStreamHandler(channel Channel, allowedOrigin string, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		channel: channel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		logger: logger.With().Str("component", "preview_stream").Logger(),
	}
}

// Serve must be called after the caller has authorised key.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request, key string) {
	sub, err := h.channel.Subscribe(r.Context(), key)
	if err != nil {
		h.logger.Error().Err(err).Msg("subscribe failed")
		http.Error(w, "realtime channel unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, sub, closed)
}

// readPump discards client frames; it exists to process control frames and
// notice when the client goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("stream closed unexpectedly")
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, sub Subscription, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "channel closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
