// Package admin implements the optional HTTP surface described in
// SPEC_FULL §6: liveness/metrics endpoints plus a websocket tail of the
// events bus, gated behind JWT/API-key auth when enabled. None of this
// is on the hot path — a queue and its workers function with the admin
// server never started.
package admin

import (
	"context"
	"sync"

	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/metrics"
)

// Hub fans events out to connected websocket clients. Grounded on the
// teacher's internal/api/websocket/hub.go: the same register/unregister/
// broadcast channel trio and drop-on-full backpressure, adapted from a
// concrete *events.RedisPubSub field to the events.Publisher interface
// so the hub works unchanged whether the bus is Redis or NoopPublisher.
type Hub struct {
	publisher events.Publisher

	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan *events.Event
	register   chan *Client
	unregister chan *Client
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub builds a Hub that will tail pub once Run starts.
func NewHub(pub events.Publisher) *Hub {
	return &Hub{
		publisher:  pub,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *events.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
}

// Run subscribes to every event on the bus and fans it out until ctx is
// canceled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	eventCh, err := h.publisher.SubscribeAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("admin: failed to subscribe to events")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-eventCh:
				if !ok {
					return
				}
				select {
				case h.broadcast <- event:
				default:
					logger.Warn().Msg("admin: broadcast channel full, dropping event")
				}
			}
		}
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case <-h.stopCh:
				h.closeAll()
				return
			case c := <-h.register:
				h.mu.Lock()
				h.clients[c] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
			case c := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[c]; ok {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
			case event := <-h.broadcast:
				h.fanOut(event)
			}
		}
	}()
}

// Stop tears down the hub's goroutines and every connected client.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(event *events.Event) {
	data, err := event.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("admin: failed to serialize event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(event.Type) {
			continue
		}
		select {
		case c.send <- data:
			metrics.RecordWebSocketMessage(string(event.Type))
		default:
			go func(c *Client) { h.unregister <- c }(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
