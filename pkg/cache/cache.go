// Package cache stores immutable API resources, such as advice items, between fetches.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"sync"
	"time"

	bmemcache "github.com/bradfitz/gomemcache/memcache"
	log "github.com/sirupsen/logrus"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache is the common cache interface
type Cache interface {
	Get(ctx context.Context, key string, result any) error
	Set(ctx context.Context, key string, data any, ttl time.Duration) error
}

// ToBytes converts a value to []byte
func ToBytes(data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(data)
	return buf.Bytes(), err
}

// FromBytes converts bytes back into result, which must be a pointer.
func FromBytes(byteBuff []byte, result any) error {
	buf := bytes.NewReader(byteBuff)
	dec := gob.NewDecoder(buf)
	return dec.Decode(result)
}

type memcacheClient struct {
	client *bmemcache.Client
}

// NewMemcache returns a cache backed by the given memcached servers.
func NewMemcache(servers ...string) Cache {
	return &memcacheClient{client: bmemcache.New(servers...)}
}

func (m *memcacheClient) Get(ctx context.Context, key string, result any) error {
	item, err := m.client.Get(key)
	if errors.Is(err, bmemcache.ErrCacheMiss) {
		log.Debugf("[cache] miss %s", key)
		return ErrCacheMiss
	} else if err != nil {
		log.Errorf("[cache] failed fetching %s: %v", key, err)
		return err
	}

	if err := FromBytes(item.Value, result); err != nil {
		log.Errorf("[cache] failed to deserialize memcached data for key %s: %v", key, err)
		return err
	}

	return nil
}

func (m *memcacheClient) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	b, err := ToBytes(data)
	if err != nil {
		log.Errorf("[cache] failed to serialize data for key %s: %v", key, err)
		return err
	}

	return m.client.Set(&bmemcache.Item{
		Key:        key,
		Value:      b,
		Expiration: int32(ttl / time.Second),
	})
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process cache used when no memcached server is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(ctx context.Context, key string, result any) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	return FromBytes(e.value, result)
}

// Set stores data; a zero ttl never expires.
func (m *Memory) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	b, err := ToBytes(data)
	if err != nil {
		return err
	}

	e := entry{value: b}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()

	return nil
}
