package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks every connected client and fans outbound messages out to all of
// them. Per-client ordering is preserved by each client's buffered send
// queue; a client too slow to drain its queue is dropped rather than letting
// it stall the others.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub returns an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*Client]struct{})}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast delivers the envelope to every connected client.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(env.Type)).Msg("marshal broadcast")
		return
	}

	h.mu.Lock()
	var slow []*Client
	for c := range h.clients {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		c.closeSend()
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Warn().Str("remote", c.remote()).Msg("dropping slow client")
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("remote", c.remote()).Int("clients", n).Msg("client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("remote", c.remote()).Int("clients", n).Msg("client disconnected")
}
