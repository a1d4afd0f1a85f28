package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aibridge/bridge/internal/events"
)

func TestEmbeddedServer_StartAndConnect(t *testing.T) {
	srv := NewEmbeddedServer(EmbeddedServerConfig{Port: 18222})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Shutdown()

	if !srv.IsRunning() {
		t.Fatal("expected IsRunning after Start")
	}

	client, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Fatal("expected a connected client")
	}
}

func TestRepublisher_ForwardsBusEventsToSubject(t *testing.T) {
	srv := NewEmbeddedServer(EmbeddedServerConfig{Port: 18223})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Shutdown()

	publisher, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient (publisher side): %v", err)
	}
	defer publisher.Close()

	subscriber, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient (subscriber side): %v", err)
	}
	defer subscriber.Close()

	received := make(chan []byte, 1)
	sub, err := subscriber.Subscribe("bridge.alpha.response", func(subject string, data []byte) {
		received <- data
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	bus := events.NewBus()
	rep := NewRepublisher(publisher, bus)
	defer rep.Stop()

	bus.Publish(events.NewEvent(events.EventResponse, "alpha", "all", events.PriorityNormal, map[string]interface{}{
		"text": "hello",
	}))

	select {
	case data := <-received:
		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Source != "alpha" || ev.Type != events.EventResponse {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive republished event")
	}
}
