package notify

import (
	"context"
	"sync"
)

// Hub is an in-process broker. It only reaches subscribers in the same process.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*hubSubscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[*hubSubscription]struct{})}
}

func (h *Hub) Publish(_ context.Context, userID string, event StatusEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[userID] {
		select {
		case sub.events <- event:
		default:
			// slow consumer, drop rather than block the publisher
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, userID string) (Subscription, error) {
	sub := &hubSubscription{hub: h, userID: userID, events: make(chan StatusEvent, 16)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[*hubSubscription]struct{})
	}
	h.subscribers[userID][sub] = struct{}{}
	return sub, nil
}

type hubSubscription struct {
	hub    *Hub
	userID string
	events chan StatusEvent
	once   sync.Once
}

func (s *hubSubscription) Events() <-chan StatusEvent {
	return s.events
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subscribers[s.userID], s)
		if len(s.hub.subscribers[s.userID]) == 0 {
			delete(s.hub.subscribers, s.userID)
		}
		s.hub.mu.Unlock()
		close(s.events)
	})
	return nil
}
