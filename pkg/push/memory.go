package push

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

const subscriptionBuffer = 64

// Hub is an in-process Transport. Every subscriber of a room, the publisher included, receives
// each event published to it.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*hubSub]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*hubSub]struct{})}
}

type hubSub struct {
	hub  *Hub
	room string
	ch   chan Event
	once sync.Once
}

func (s *hubSub) Events() <-chan Event {
	return s.ch
}

func (s *hubSub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		s.hub.remove(s)
	})
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, room string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	s := &hubSub{hub: h, room: room, ch: make(chan Event, subscriptionBuffer)}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*hubSub]struct{})
	}
	h.rooms[room][s] = struct{}{}
	return s, nil
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	for s := range h.rooms[ev.Room] {
		select {
		case s.ch <- ev:
		default:
			log.Warnf("[push][%s] subscriber buffer full, dropping %s", ev.Room, ev.Name)
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions to room.
func (h *Hub) Subscribers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, subs := range h.rooms {
		for s := range subs {
			h.remove(s)
		}
	}
	return nil
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *hubSub) {
	subs, ok := h.rooms[s.room]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.rooms, s.room)
	}
	close(s.ch)
}
