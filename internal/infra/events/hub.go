// Package events fans auth events out to cancellable subscriptions.
package events

import (
	"sync"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/port"
)

// Hub delivers every published event to every live subscription, in
// publish order. Publish never blocks on a slow subscriber.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscription]struct{})}
}

// Subscribe registers a new subscription.
func (h *Hub) Subscribe() port.Subscription {
	s := &subscription{
		hub:    h,
		ch:     make(chan domain.AuthEvent),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.pump()
	return s
}

// Publish queues ev on every live subscription.
func (h *Hub) Publish(ev domain.AuthEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		s.enqueue(ev)
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

type subscription struct {
	hub *Hub
	ch  chan domain.AuthEvent

	mu     sync.Mutex
	queue  []domain.AuthEvent
	signal chan struct{}

	done chan struct{}
	once sync.Once
}

func (s *subscription) Events() <-chan domain.AuthEvent {
	return s.ch
}

// Cancel stops delivery. Pending events are dropped and the channel is
// closed by the delivery goroutine.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *subscription) enqueue(ev domain.AuthEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.signal:
		case <-s.done:
			return
		}
	}
}
