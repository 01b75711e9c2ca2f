package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/goliatone/go-gentpl/pkg/backend"
)

// Store persists responses by key. A miss is reported as ok == false with a
// nil error.
type Store interface {
	Get(ctx context.Context, key string) (resp backend.Response, ok bool, err error)
	Set(ctx context.Context, key string, resp backend.Response) error
}

// MemoryStore keeps responses in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]backend.Response
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]backend.Response)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (backend.Response, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.entries[key]
	return resp, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, resp backend.Response) error {
	s.mu.Lock()
	s.entries[key] = resp
	s.mu.Unlock()
	return nil
}

// Len returns the number of cached responses.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

const defaultRedisPrefix = "gentpl:response:"

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix namespaces keys. Defaults to "gentpl:response:".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires cached responses. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// RedisStore keeps responses in Redis as JSON documents.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb goredis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// DialRedis connects to addr and checks the connection with PING.
func DialRedis(ctx context.Context, addr string, opts ...RedisOption) (*RedisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("cache: redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return NewRedisStore(rdb, opts...), nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type cachedResponse struct {
	Text         string         `json:"text"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        *backend.Usage `json:"usage,omitempty"`
}

func (s *RedisStore) Get(ctx context.Context, key string) (backend.Response, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return backend.Response{}, false, nil
	}
	if err != nil {
		return backend.Response{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return backend.Response{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return backend.Response{
		Text:         cached.Text,
		FinishReason: cached.FinishReason,
		Usage:        cached.Usage,
	}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, resp backend.Response) error {
	raw, err := json.Marshal(cachedResponse{
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	})
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}
