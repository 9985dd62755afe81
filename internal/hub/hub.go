// Package hub fans push messages out to every connected subscriber.
package hub

import (
	"log/slog"
	"sync"

	"github.com/kingrea/bedtime/internal/logging"
)

const defaultSubscriberCapacity = 16

// Option customizes Hub construction.
type Option func(*Hub)

// Hub delivers each broadcast message to every live subscriber through a
// bounded channel. A subscriber that falls behind loses its oldest queued
// message: every message carries a full document, so the newest one
// supersedes anything older.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	capacity    int
	logger      *slog.Logger
	onDrop      func()
	closed      bool
}

// Subscription is one registered listener.
type Subscription struct {
	Messages <-chan []byte
	cancel   func()
}

// Close unregisters the subscription and closes Messages.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// New constructs a hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		subscribers: map[*subscriber]struct{}{},
		capacity:    defaultSubscriberCapacity,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithCapacity overrides the buffered channel size per subscriber.
func WithCapacity(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithLogger injects a logger for drop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDropHook is called once per message discarded on overflow.
func WithDropHook(fn func()) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// Subscribe registers a listener. seed, when non-nil, is queued before any
// later broadcast. On a closed hub the subscription's channel is already
// closed.
func (h *Hub) Subscribe(seed []byte) Subscription {
	sub := newSubscriber(h.capacity)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return Subscription{Messages: sub.ch}
	}
	h.subscribers[sub] = struct{}{}
	if seed != nil {
		sub.deliver(seed)
	}
	h.mu.Unlock()
	return Subscription{
		Messages: sub.ch,
		cancel:   func() { h.remove(sub) },
	}
}

// Broadcast queues msg for every subscriber and returns how many received it.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		dropped, ok := sub.deliver(msg)
		if !ok {
			continue
		}
		delivered++
		if dropped {
			h.logger.Warn("hub: subscriber lagging, dropped oldest message", "capacity", h.capacity)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return delivered
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription. Later Subscribe calls get closed channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subscribers {
		sub.close()
		delete(h.subscribers, sub)
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	sub.close()
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newSubscriber(capacity int) *subscriber {
	return &subscriber{ch: make(chan []byte, capacity)}
}

// deliver never blocks. ok is false when the subscriber is closed.
func (s *subscriber) deliver(msg []byte) (dropped, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	for {
		select {
		case s.ch <- msg:
			return dropped, true
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
