// Package logger records every API call made by the client and optionally ships the records to
// Kafka for central log collection.
package logger

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-Id"

type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Host       string    `json:"host"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Duration   float64   `json:"duration_sec"`
	Service    string    `json:"service"`
	Error      string    `json:"error,omitempty"`
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Transport is an http.RoundTripper that logs each request it forwards.
type Transport struct {
	service string
	next    http.RoundTripper
	kw      MessageWriter

	wg sync.WaitGroup
}

// New wraps next. A nil next uses http.DefaultTransport at request time; a nil kw disables
// shipping to Kafka.
func New(service string, next http.RoundTripper, kw MessageWriter) *Transport {
	return &Transport{service: service, next: next, kw: kw}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}

	start := time.Now()
	resp, err := next.RoundTrip(r)

	entry := LogEntry{
		Timestamp: time.Now(),
		Host:      r.URL.Host,
		RequestID: r.Header.Get(RequestIDHeader),
		Method:    r.Method,
		Path:      r.URL.Path,
		Duration:  time.Since(start).Seconds(),
		Service:   t.service,
	}
	if resp != nil {
		entry.StatusCode = resp.StatusCode
	}
	if err != nil {
		entry.Error = err.Error()
	}

	log.Debugf("[logger][%s] %s %s -> %d in %.3fs", Shorten(entry.RequestID), entry.Method, entry.Path, entry.StatusCode, entry.Duration)

	if t.kw != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.ship(entry)
		}()
	}

	return resp, err
}

func (t *Transport) ship(entry LogEntry) {
	jsonEntry, err := json.Marshal(entry)
	if err != nil {
		log.Errorf("[logger] failed to marshal log entry for request %s", entry.RequestID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = t.kw.WriteMessages(ctx, kafka.Message{Key: []byte(entry.RequestID), Value: jsonEntry})
	if err != nil {
		log.Errorf("[logger] failed to write log to Kafka: %v", err)
		return
	}
	log.Debugf("[logger] log entry sent to Kafka request_id:%s", entry.RequestID)
}

// Flush waits until every pending log entry has been handed to Kafka.
func (t *Transport) Flush() {
	t.wg.Wait()
}

// Shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func Shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
