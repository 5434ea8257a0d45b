// Package ws fans ledger events out to websocket clients. It is a pure
// consumer: delivery failures are dropped, never retried, and never
// reach back into the ledger.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"city_go/internal/event"
	"city_go/internal/infra"
)

const (
	writeTimeout  = 5 * time.Second
	clientBuffer  = 32
	busBufferSize = 256
)

// Hub subscribes to the event bus and broadcasts frames to every
// connected client.
type Hub struct {
	bus      *event.Bus
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan []byte
}

func NewHub(bus *event.Bus) *Hub {
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: make(map[*websocket.Conn]chan []byte),
	}
}

// Run consumes the bus until ctx is cancelled. Start it in its own
// goroutine after the engines are wired.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.bus.Subscribe(busBufferSize)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to marshal event", slog.Any("error", err))
				continue
			}
			h.broadcast(b)
		}
	}
}

func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, out := range h.conns {
		select {
		case out <- frame:
		default:
			// Slow client: drop the frame rather than stall the hub.
			infra.GlobalMetrics.RecordEventDropped()
			_ = conn
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, out := range h.conns {
		close(out)
		_ = conn.Close()
		delete(h.conns, conn)
	}
}

// Handler upgrades the request and keeps the connection until the peer
// goes away. Incoming frames are read and discarded; the socket is
// broadcast-only.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}

		out := make(chan []byte, clientBuffer)
		h.mu.Lock()
		h.conns[conn] = out
		h.mu.Unlock()
		infra.GlobalMetrics.IncrementConnections()

		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case frame, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop: detects close, discards input.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		close(done)
		h.mu.Lock()
		if _, ok := h.conns[conn]; ok {
			delete(h.conns, conn)
			close(out)
		}
		h.mu.Unlock()
		_ = conn.Close()
		infra.GlobalMetrics.DecrementConnections()
	}
}
