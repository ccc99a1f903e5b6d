package chat

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRoomFromPath(t *testing.T) {
	tests := []struct {
		path string
		room string
		ok   bool
	}{
		{"/chat/7", "7", true},
		{"/chat/12/extra", "12", true},
		{"/chat/", "", false},
		{"/other/1", "", false},
	}
	for _, tt := range tests {
		room, ok := RoomFromPath(tt.path)
		if room != tt.room || ok != tt.ok {
			t.Errorf("RoomFromPath(%q) = (%q, %v), want (%q, %v)", tt.path, room, ok, tt.room, tt.ok)
		}
	}
}

func TestEchoHandlerRoundTrip(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	server := httptest.NewServer(NewEchoHandler(EchoConfig{Logger: zap.New(core)}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/chat/5"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(validMessage())
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	resp := ParseResponse(data)
	if !resp.OK() {
		t.Fatalf("expected SUCCESS, got %s", data)
	}
	if n := logs.FilterMessage("room connection opened").FilterField(zap.String("room", "5")).Len(); n != 1 {
		t.Errorf("logged %d room openings, want 1", n)
	}
	if resp.RoomID != "5" {
		t.Errorf("RoomID = %q, want 5", resp.RoomID)
	}
	if !resp.Echoed {
		t.Errorf("expected originalMessage to be echoed: %s", data)
	}

	bad := validMessage()
	bad.DisplayName = "x"
	payload, _ = json.Marshal(bad)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if resp := ParseResponse(data); resp.OK() || resp.Message == "" {
		t.Errorf("expected ERROR with reason, got %s", data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if resp := ParseResponse(data); resp.Message != "Invalid JSON format" {
		t.Errorf("expected invalid JSON error, got %s", data)
	}
}

func TestEchoHandlerHealthAndUnknownPath(t *testing.T) {
	server := httptest.NewServer(NewEchoHandler(EchoConfig{}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"UP"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get(server.URL + "/nowhere")
	if err != nil {
		t.Fatalf("GET /nowhere error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
