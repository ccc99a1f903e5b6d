package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RoomPathPrefix is the URL prefix of room endpoints: /chat/{roomId}.
const RoomPathPrefix = "/chat/"

// EchoConfig configures EchoHandler.
type EchoConfig struct {
	Logger        *zap.Logger
	ResponseDelay time.Duration // artificial processing delay before each reply
}

// EchoHandler serves the reference chat protocol: it validates every message
// received on /chat/{roomId} and replies with a SUCCESS echo or an ERROR.
// It also answers /health.
type EchoHandler struct {
	cfg      EchoConfig
	upgrader websocket.Upgrader
}

// NewEchoHandler creates an EchoHandler.
func NewEchoHandler(cfg EchoConfig) *EchoHandler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &EchoHandler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type echoReply struct {
	Status          string   `json:"status"`
	OriginalMessage *Message `json:"originalMessage,omitempty"`
	Message         string   `json:"message,omitempty"`
	ServerTimestamp string   `json:"serverTimestamp"`
	RoomID          string   `json:"roomId,omitempty"`
}

func (h *EchoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"UP","service":"chat echo server"}`))
		return
	}

	room, ok := RoomFromPath(r.URL.Path)
	if !ok {
		http.Error(w, "invalid room ID", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	h.cfg.Logger.Debug("room connection opened", zap.String("room", room), zap.String("remote", r.RemoteAddr))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			h.cfg.Logger.Debug("room connection closed", zap.String("room", room), zap.Error(err))
			return
		}
		if h.cfg.ResponseDelay > 0 {
			time.Sleep(h.cfg.ResponseDelay)
		}
		reply, err := json.Marshal(h.reply(room, data))
		if err != nil {
			return
		}
		if err := conn.WriteMessage(msgType, reply); err != nil {
			return
		}
	}
}

func (h *EchoHandler) reply(room string, data []byte) echoReply {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return echoReply{Status: StatusError, Message: "Invalid JSON format", ServerTimestamp: now}
	}
	if err := msg.Validate(); err != nil {
		reason := err.Error()
		var verr *ValidationError
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		return echoReply{Status: StatusError, Message: reason, ServerTimestamp: now}
	}
	return echoReply{Status: StatusSuccess, OriginalMessage: &msg, ServerTimestamp: now, RoomID: room}
}

// RoomFromPath extracts the room segment of /chat/{roomId}.
func RoomFromPath(path string) (string, bool) {
	if !strings.HasPrefix(path, RoomPathPrefix) {
		return "", false
	}
	room := strings.TrimPrefix(path, RoomPathPrefix)
	if i := strings.IndexByte(room, '/'); i >= 0 {
		room = room[:i]
	}
	if room == "" {
		return "", false
	}
	return room, true
}
