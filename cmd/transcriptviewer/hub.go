package main

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// client is a browser connection. *websocket.Conn satisfies it.
type client interface {
	WriteJSON(v any) error
	Close() error
}

// Hub fans transcript events out to connected browsers.
type Hub struct {
	mu        sync.Mutex
	clients   map[client]struct{}
	broadcast chan transcriptEvent
}

func newHub(buffer int) *Hub {
	return &Hub{
		clients:   make(map[client]struct{}),
		broadcast: make(chan transcriptEvent, buffer),
	}
}

func (h *Hub) add(c client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("Client connected")
}

func (h *Hub) remove(c client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.Close()
		log.Info().Int("clients", n).Msg("Client disconnected")
	}
}

func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// run delivers broadcast events until the channel is closed.
func (h *Hub) run() {
	for event := range h.broadcast {
		h.mu.Lock()
		var failed []client
		for c := range h.clients {
			if err := c.WriteJSON(event); err != nil {
				log.Warn().Err(err).Msg("Write to client failed")
				failed = append(failed, c)
			}
		}
		h.mu.Unlock()

		for _, c := range failed {
			h.remove(c)
		}
	}
}
