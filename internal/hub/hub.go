package hub

import (
	"sync"
	"time"

	"github.com/nxtlog/canlogd/internal/can"
	"github.com/nxtlog/canlogd/internal/logging"
	"github.com/nxtlog/canlogd/internal/metrics"
)

// TimestampedFrame is a bus observation stamped at receive time. The stamp
// is taken in the RX goroutine so queueing delays never skew record
// timestamps.
type TimestampedFrame struct {
	Frame can.Frame
	Wall  time.Time
}

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is one consumer of the frame stream. The logger ingest loop is the
// primary client; tests and diagnostic taps attach their own.
type Client struct {
	Out       chan TimestampedFrame
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub fans received frames out to bounded client channels. Broadcast never
// blocks: a full client either loses the frame (drop) or is disconnected
// (kick), keeping the bus RX goroutine responsive no matter how slow a
// consumer gets.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// NewClient allocates a client sized by the hub's configured buffer.
func (h *Hub) NewClient() *Client {
	buf := h.OutBufSize
	if buf <= 0 {
		buf = 64
	}
	return &Client{Out: make(chan TimestampedFrame, buf), Closed: make(chan struct{})}
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
}

// Broadcast sends a frame to all clients honoring the backpressure policy.
func (h *Hub) Broadcast(fr TimestampedFrame) {
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick {
				logging.L().Warn("hub_client_kicked")
				c.Close() // consumer sees Closed and detaches
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
