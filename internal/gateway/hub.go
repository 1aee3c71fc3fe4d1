package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"patternboard/internal/projection"
)

// Hub manages render-surface WebSocket clients and pushes every engine frame
// to them. It keeps the newest frame so late joiners render immediately.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	latest      projection.Frame
	latestEnv   []byte // envelope of latest, reused for new clients
	hasLatest   bool
	broadcasted int64

	// Event receipt to broadcast latency
	Latency *LatencyTracker

	// OnClientCount is called whenever a client joins or leaves.
	OnClientCount func(n int)

	Broadcaster *Broadcaster

	log *slog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		Latency: NewLatencyTracker(10000), // 10k sample ring buffer
		log:     slog.Default().With(slog.String("component", "gateway")),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Run broadcasts frames until ctx is cancelled or frames is closed.
func (h *Hub) Run(ctx context.Context, frames <-chan projection.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			h.Broadcaster.Broadcast(f)
		}
	}
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", slog.Int("clients", count))
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// LatestFrame returns the newest broadcast frame, if any.
func (h *Hub) LatestFrame() (projection.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.hasLatest
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendAll queues msg for every client, dropping it for clients whose
// buffer is full.
func (h *Hub) sendAll(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// StartMetricsBroadcast sends system metrics to all WS clients every interval.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := CollectMetrics(start)
			if h.Latency != nil {
				m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
				m.LatencyDrop = h.Latency.Evicted()
			}
			envelope, _ := json.Marshal(MetricsOut{Type: MsgMetrics, Metrics: m})
			h.sendAll(envelope)
		}
	}
}
