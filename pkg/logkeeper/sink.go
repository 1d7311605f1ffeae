package logkeeper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/logger"
)

// LogrusSink writes every entry as one JSON line.
type LogrusSink struct {
	l *log.Logger
}

func NewLogrusSink(w io.Writer) *LogrusSink {
	l := log.New()
	l.SetOutput(w)
	l.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	l.SetLevel(log.InfoLevel)
	return &LogrusSink{l: l}
}

func (s *LogrusSink) Store(_ context.Context, e logger.LogEntry, _ []byte) error {
	fields := log.Fields{
		"host":         e.Host,
		"status_code":  e.StatusCode,
		"request_id":   e.RequestID,
		"method":       e.Method,
		"path":         e.Path,
		"duration_sec": e.Duration,
		"service":      e.Service,
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}

	entry := s.l.WithFields(fields).WithTime(e.Timestamp)
	switch {
	case e.Error != "" || e.StatusCode >= 500:
		entry.Error("request failed")
	case e.StatusCode >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request served")
	}
	return nil
}

// RedisSink keeps the entries of each service in a hash keyed by request id.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSink connects to redisURL. A non-zero ttl expires a service's hash ttl after its last entry.
func NewRedisSink(redisURL string, ttl time.Duration) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisSink{client: client, prefix: "seertix:logs:", ttl: ttl}, nil
}

func (s *RedisSink) Key(service string) string {
	return s.prefix + service
}

func (s *RedisSink) Store(ctx context.Context, e logger.LogEntry, raw []byte) error {
	key := s.Key(e.Service)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, e.RequestID, raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store %s/%s: %w", e.Service, e.RequestID, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// ElasticSink indexes every entry under the document id service+request id.
type ElasticSink struct {
	es    *elasticsearch.Client
	index string
}

func NewElasticSink(nodes []string, index string) (*ElasticSink, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: nodes})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticSink{es: es, index: index}, nil
}

func (s *ElasticSink) Store(ctx context.Context, e logger.LogEntry, raw []byte) error {
	res, err := s.es.Index(
		s.index,
		bytes.NewReader(raw),
		s.es.Index.WithDocumentID(e.Service+e.RequestID),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", e.Service, e.RequestID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index %s/%s: %s", e.Service, e.RequestID, res.Status())
	}
	return nil
}

// multiSink stores into every sink and reports the first failure.
type multiSink []Sink

func Tee(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multiSink(sinks)
}

func (m multiSink) Store(ctx context.Context, e logger.LogEntry, raw []byte) error {
	var first error
	for _, s := range m {
		if err := s.Store(ctx, e, raw); err != nil && first == nil {
			first = err
		}
	}
	return first
}
