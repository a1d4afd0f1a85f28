package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/aibridge/bridge/internal/events"
)

func TestHub_BroadcastsToConnectedClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	router := mux.NewRouter()
	Mount(router, hub)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hub.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
	}

	hub.BroadcastEvent(*events.NewEvent(events.EventResponse, "alpha", "all", events.PriorityNormal, map[string]interface{}{"text": "hi"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"response"`) {
		t.Errorf("message = %s, want it to contain the response event type", msg)
	}
}

func TestHub_SubscribeBus_ForwardsOrchestratorEvents(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub()
	go hub.Run()
	unsubscribe := hub.SubscribeBus(bus)
	defer unsubscribe()

	router := mux.NewRouter()
	Mount(router, hub)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hub.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.NewEvent(events.EventStatus, "alpha", "all", events.PriorityLow, map[string]interface{}{"current": "running"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"status"`) {
		t.Errorf("message = %s, want it to contain the status event type", msg)
	}
}
