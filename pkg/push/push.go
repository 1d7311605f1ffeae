// Package push delivers discussion events between clients. A Manager owns the single live
// subscription of a view; transports (in-memory hub, Kafka) move the events.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/models"
)

const (
	EventCommentNew    = "comment:new"
	EventCommentUpdate = "comment:update"
	EventCommentDelete = "comment:delete"
)

var (
	ErrClosed   = fmt.Errorf("push transport closed")
	ErrReleased = fmt.Errorf("push handle released")
)

// Room returns the room name of an advice discussion.
func Room(adviceID models.ID) string {
	return "advice_" + adviceID.String()
}

type Event struct {
	Name    string          `json:"event"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Sender identifies the emitting manager. Receivers do not filter on it.
	Sender string `json:"sender,omitempty"`
}

// Subscription is a stream of the events published to one room.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Transport interface {
	Subscribe(ctx context.Context, room string) (Subscription, error)
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Credentials supplies the token a connection is opened with.
type Credentials interface {
	Token() (string, error)
}

// Manager hands out at most one live Handle at a time.
type Manager struct {
	transport Transport
	id        string

	mu      sync.Mutex
	current *Handle
}

func NewManager(t Transport) *Manager {
	id, err := uuid.NewV4()
	if err != nil {
		log.Errorf("[push] failed to generate manager id: %v", err)
	}
	return &Manager{transport: t, id: id.String()}
}

// Connect subscribes to topic, releasing the handle of any previous connection first.
func (m *Manager) Connect(ctx context.Context, topic string, creds Credentials) (*Handle, error) {
	if topic == "" {
		return nil, fmt.Errorf("push: empty topic")
	}
	if creds != nil {
		if _, err := creds.Token(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()
	if prev != nil {
		if err := m.Disconnect(prev); err != nil {
			log.Warnf("[push][%s] failed to release previous subscription: %v", prev.topic, err)
		}
	}

	sub, err := m.transport.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	h := &Handle{m: m, topic: topic, sub: sub}

	m.mu.Lock()
	stale := m.current
	m.current = h
	m.mu.Unlock()
	// A concurrent Connect may have finished first; the last one wins.
	if stale != nil {
		_ = m.Disconnect(stale)
	}

	log.Debugf("[push][%s] subscribed", topic)
	return h, nil
}

// Disconnect releases h. Releasing a handle twice, or a handle already replaced by a newer
// Connect, is a no-op.
func (m *Manager) Disconnect(h *Handle) error {
	if h == nil {
		return nil
	}

	m.mu.Lock()
	if m.current == h {
		m.current = nil
	}
	m.mu.Unlock()

	return h.release()
}

// Current returns the live handle, if any.
func (m *Manager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close releases the live handle and the transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	h := m.current
	m.current = nil
	m.mu.Unlock()

	if err := h.release(); err != nil {
		log.Warnf("[push] failed to release subscription: %v", err)
	}
	return m.transport.Close()
}

// Handle is one room subscription.
type Handle struct {
	m     *Manager
	topic string
	sub   Subscription

	mu       sync.Mutex
	released bool
}

func (h *Handle) Topic() string {
	return h.topic
}

// Events is closed once the handle is released.
func (h *Handle) Events() <-chan Event {
	return h.sub.Events()
}

func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Emit publishes an event with the JSON encoding of payload to the handle's room.
func (h *Handle) Emit(ctx context.Context, name string, payload any) error {
	if h.Released() {
		return ErrReleased
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}

	ev := Event{Name: name, Room: h.topic, Payload: b, Sender: h.m.id}
	if err := h.m.transport.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish %s to %s: %w", name, h.topic, err)
	}
	return nil
}

func (h *Handle) release() error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	log.Debugf("[push][%s] unsubscribed", h.topic)
	return h.sub.Close()
}
