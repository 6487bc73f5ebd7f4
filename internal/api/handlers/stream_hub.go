package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// StreamClient is one websocket session subscribed to a route
type StreamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (sc *StreamClient) close() {
	sc.once.Do(func() { close(sc.done) })
}

// Done is closed when the client has been dropped
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// StreamHub fans deposit events out to the sessions watching each route
type StreamHub struct {
	mu     sync.RWMutex
	routes map[entities.RouteKey]map[*StreamClient]struct{}
	logger *logger.Logger
}

// NewStreamHub creates an empty hub
func NewStreamHub(log *logger.Logger) *StreamHub {
	return &StreamHub{
		routes: make(map[entities.RouteKey]map[*StreamClient]struct{}),
		logger: log.With("component", "stream_hub"),
	}
}

// Subscribe registers conn on route and starts its writer
func (h *StreamHub) Subscribe(route entities.RouteKey, conn *websocket.Conn) *StreamClient {
	client := &StreamClient{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	clients, ok := h.routes[route]
	if !ok {
		clients = make(map[*StreamClient]struct{})
		h.routes[route] = clients
	}
	clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	return client
}

// Unsubscribe removes client from route and closes it
func (h *StreamHub) Unsubscribe(route entities.RouteKey, client *StreamClient) {
	h.mu.Lock()
	if clients, ok := h.routes[route]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.routes, route)
		}
	}
	h.mu.Unlock()
	client.close()
}

// Subscribers returns the number of sessions on route
func (h *StreamHub) Subscribers(route entities.RouteKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[route])
}

// Notify pushes event to every session on route. Sessions whose buffer is
// full are dropped.
func (h *StreamHub) Notify(route entities.RouteKey, event entities.DepositEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode deposit event", "route", route.String(), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.routes[route] {
		select {
		case client.send <- payload:
		case <-client.done:
		default:
			h.logger.Warn("Dropping slow stream client", "route", route.String())
			client.close()
		}
	}
}

func (h *StreamHub) writePump(client *StreamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.close()
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				client.close()
				return
			}
		case <-client.done:
			client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
