package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"city_go/internal/event"
)

func TestHubBroadcastsEvents(t *testing.T) {
	bus := event.NewBus()
	hub := NewHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// The hub subscribes and registers asynchronously; keep publishing
	// until the frame comes through.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(event.New(event.OrderCreated, map[string]any{"order_id": int64(7)}))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var ev event.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if ev.Name != event.OrderCreated {
		t.Errorf("expected %q, got %q", event.OrderCreated, ev.Name)
	}
}

func TestHubSurvivesClientDisconnect(t *testing.T) {
	bus := event.NewBus()
	hub := NewHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.Close()

	// Publishing after the peer left must not panic or block.
	for i := 0; i < 10; i++ {
		bus.Publish(event.New(event.OrderCancelled, nil))
	}
}
