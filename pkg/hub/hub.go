package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	tlog "github.com/teslashibe/go-traffic/internal/log"
)

// Hub tracks subscribers for one topic and broadcasts to them. Only Run
// mutates the subscriber set.
type Hub struct {
	topic  string
	logger *slog.Logger

	subscribers map[*Client]struct{}
	broadcast   chan Message
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}

	mu      sync.RWMutex
	count   int
	dropped atomic.Uint64
	running atomic.Bool
}

// New creates a hub for topic. A nil logger uses the global logger.
func New(topic string, logger *slog.Logger) *Hub {
	return &Hub{
		topic:       topic,
		logger:      tlog.For(logger, "hub").With("topic", topic),
		subscribers: make(map[*Client]struct{}),
		broadcast:   make(chan Message, 64),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled, then disconnects
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.subscribers {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.subscribers[c] = struct{}{}
			h.setCount()
			h.logger.Info("subscriber connected", "subscribers", len(h.subscribers))

		case c := <-h.unregister:
			if _, ok := h.subscribers[c]; ok {
				h.remove(c)
				h.logger.Info("subscriber disconnected", "subscribers", len(h.subscribers))
			}

		case msg := <-h.broadcast:
			for c := range h.subscribers {
				select {
				case c.send <- msg:
				default:
					h.remove(c)
					h.logger.Warn("dropped slow subscriber")
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.subscribers, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.subscribers)
	h.mu.Unlock()
}

// Publish queues msg for every subscriber. It never blocks; when the queue
// is full the message is dropped.
func (h *Hub) Publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		if h.dropped.Add(1)%100 == 1 {
			h.logger.Warn("broadcast queue full, dropping messages", "dropped", h.dropped.Load())
		}
	}
}

// PublishJSON encodes v and publishes it as a text message.
func (h *Hub) PublishJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(Text(data))
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many messages were discarded because the queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Topic returns the hub's name.
func (h *Hub) Topic() string {
	return h.topic
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
