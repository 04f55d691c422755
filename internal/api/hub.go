package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/marketplace/internal/market"
	"github.com/xtrntr/marketplace/internal/models"
)

// BookSource is the read side of the registry the hub publishes
type BookSource interface {
	ActiveListings() []models.Slot
	ListingCount() int
	FeeRate() int64
}

// BookMessage is a full snapshot of the listing book
type BookMessage struct {
	Type     string        `json:"type"`
	Listings []models.Slot `json:"listings"`
	Count    int           `json:"count"`
	FeeRate  int64         `json:"fee_rate"`
}

// EventMessage announces one committed registry operation
type EventMessage struct {
	Type     string         `json:"type"`
	Op       string         `json:"op"`
	Position int            `json:"position"`
	Listing  models.Listing `json:"listing"`
	Sale     *models.Sale   `json:"sale,omitempty"`
	FeeRate  int64          `json:"fee_rate"`
}

// clientQueueSize bounds the messages buffered for one subscriber. A client
// that falls further behind is disconnected.
const clientQueueSize = 64

type wsClient struct {
	conn  *websocket.Conn
	queue chan []byte
}

func newClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, queue: make(chan []byte, clientQueueSize)}
}

// writeLoop drains the queue onto the connection until the hub closes it
func (h *Hub) writeLoop(c *wsClient) {
	for data := range c.queue {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("failed to send message", "error", err)
			h.remove(c)
			return
		}
	}
}

// Hub fans registry updates out to websocket subscribers
type Hub struct {
	source   BookSource
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates a hub publishing source
func NewHub(source BookSource, logger *slog.Logger) *Hub {
	return &Hub{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins; CORS is enforced by the router
			},
		},
		clients: make(map[*wsClient]bool),
	}
}

// ServeHTTP upgrades the connection and streams updates until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(conn)
	// Send initial book
	if data, err := h.bookMessage(); err == nil {
		client.queue <- data
	}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	go h.writeLoop(client)

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify publishes a committed registry event. It is meant to be registered
// with market.WithObserver and never waits on a subscriber.
func (h *Hub) Notify(ev market.Event) {
	data, err := json.Marshal(EventMessage{
		Type:     "event",
		Op:       ev.Op,
		Position: ev.Position,
		Listing:  ev.Listing,
		Sale:     ev.Sale,
		FeeRate:  ev.FeeRate,
	})
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}
	h.broadcast(data)
}

// BroadcastBook sends the full listing book to every subscriber
func (h *Hub) BroadcastBook() {
	data, err := h.bookMessage()
	if err != nil {
		h.logger.Error("failed to marshal listing book", "error", err)
		return
	}
	h.broadcast(data)
}

// Run broadcasts the book every interval until ctx is done
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.BroadcastBook()
		}
	}
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.drop(client)
	}
}

func (h *Hub) bookMessage() ([]byte, error) {
	return json.Marshal(BookMessage{
		Type:     "book",
		Listings: h.source.ActiveListings(),
		Count:    h.source.ListingCount(),
		FeeRate:  h.source.FeeRate(),
	})
}

// broadcast queues data for every subscriber without blocking
func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	var slow []*wsClient
	for client := range h.clients {
		select {
		case client.queue <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("dropping slow subscriber", "remote", client.conn.RemoteAddr().String())
		h.remove(client)
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		h.drop(client)
	}
}

// drop disconnects a registered client. Callers hold h.mu for writing.
func (h *Hub) drop(client *wsClient) {
	client.conn.Close()
	close(client.queue)
	delete(h.clients, client)
}
