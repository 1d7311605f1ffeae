package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

const (
	headerEvent  = "event"
	headerSender = "sender"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Kafka carries events over one Kafka topic. Messages are keyed by room; every subscription
// reads the topic from its end and keeps the messages of its own room.
type Kafka struct {
	writer    MessageWriter
	newReader func() MessageReader

	mu     sync.Mutex
	closed bool
}

func NewKafka(brokers []string, topic string) *Kafka {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}

	newReader := func() MessageReader {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  500 * time.Millisecond,
		})
		if err := r.SetOffset(kafka.LastOffset); err != nil {
			log.Errorf("[push][kafka] failed to seek to the end of %s: %v", topic, err)
		}
		return r
	}

	return newKafka(w, newReader)
}

func newKafka(w MessageWriter, newReader func() MessageReader) *Kafka {
	return &Kafka{writer: w, newReader: newReader}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return k.writer.WriteMessages(ctx, toMessage(ev))
}

func (k *Kafka) Subscribe(ctx context.Context, room string) (Subscription, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &kafkaSub{
		room:   room,
		reader: k.newReader(),
		ch:     make(chan Event, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.writer.Close()
}

type kafkaSub struct {
	room   string
	reader MessageReader
	ch     chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *kafkaSub) Events() <-chan Event {
	return s.ch
}

func (s *kafkaSub) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		err = s.reader.Close()
	})
	return err
}

func (s *kafkaSub) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Errorf("[push][kafka][%s] failed to read message: %v", s.room, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if string(msg.Key) != s.room {
			continue
		}

		ev, err := fromMessage(msg)
		if err != nil {
			log.Errorf("[push][kafka][%s] dropping malformed message at offset %d: %v", s.room, msg.Offset, err)
			continue
		}
		log.Debugf("[push][kafka][%s] received %s", s.room, ev.Name)

		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func toMessage(ev Event) kafka.Message {
	return kafka.Message{
		Key:   []byte(ev.Room),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: headerEvent, Value: []byte(ev.Name)},
			{Key: headerSender, Value: []byte(ev.Sender)},
		},
	}
}

func fromMessage(msg kafka.Message) (Event, error) {
	ev := Event{Room: string(msg.Key)}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerEvent:
			ev.Name = string(h.Value)
		case headerSender:
			ev.Sender = string(h.Value)
		}
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("missing %q header", headerEvent)
	}
	if len(msg.Value) > 0 {
		if !json.Valid(msg.Value) {
			return Event{}, fmt.Errorf("payload of %s is not JSON", ev.Name)
		}
		ev.Payload = json.RawMessage(msg.Value)
	}
	return ev, nil
}
