package api

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
)

const defaultMaxClients = 1000

// Message is the envelope of every WebSocket frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub fans view updates out to connected WebSocket clients. Late joiners
// receive the most recent views on registration.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	last []byte

	done     chan struct{}
	stopOnce sync.Once

	maxClients int
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		maxClients: defaultMaxClients,
		logger:     logger,
	}
}

// Run runs the hub loop until ctx is done or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.Stop()
		h.closeAll()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxClients {
				h.mu.Unlock()
				h.logger.Warn("max clients reached, rejecting connection", zap.Int("max_clients", h.maxClients))
				close(client.send)
				continue
			}
			h.clients[client] = true
			last := h.last
			h.mu.Unlock()
			if last != nil {
				client.send <- last
			}
			metrics.WSClients.Set(float64(h.ClientCount()))
			h.logger.Debug("client registered", zap.String("client", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.WSClients.Set(float64(h.ClientCount()))
			h.logger.Debug("client unregistered", zap.String("client", client.id))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Stop ends Run and closes every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastViews queues a views frame for every client. A full queue drops
// the frame; the next publish supersedes it anyway.
func (h *Hub) BroadcastViews(views model.Views) {
	msg, err := encodeMessage("views", views)
	if err != nil {
		h.logger.Error("failed to marshal views", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.last = msg
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast channel full, dropping views", zap.Uint64("store_version", views.StoreVersion))
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.logger.Warn("client buffer full, closing connection", zap.String("client", client.id))
			close(client.send)
			delete(h.clients, client)
		}
	}
	metrics.WSClients.Set(float64(len(h.clients)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSClients.Set(0)
}

// join hands a client to the hub loop. It reports false once the hub stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func encodeMessage(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: kind, Payload: data})
}
