package server

import (
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/call"
)

// Hub fans turn events out to live /events subscribers. Slow subscribers
// lose events rather than stall the pipeline.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	buffer int
	closed bool
	logger *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[chan []byte]struct{}),
		buffer: buffer,
		logger: logger.With(zap.String("component", "events")),
	}
}

// OnTransition implements call.Observer.
func (h *Hub) OnTransition(ev call.TurnEvent) {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	if n == 0 {
		return
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.Error("encode turn event", zap.Error(err))
		return
	}
	h.Broadcast(data)
}

// Broadcast delivers data to every subscriber with room in its buffer.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.logger.Debug("subscriber lagging, event dropped")
		}
	}
}

// Subscribe returns a channel receiving every future event. It is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Subscribers is the number of connected listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
