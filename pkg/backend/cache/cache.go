// Package cache wraps a backend so identical requests are answered from a
// store instead of being generated again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/goliatone/go-gentpl/pkg/backend"
)

const name = "cache"

// Option configures a Backend.
type Option func(*Backend)

// WithNamespace mixes ns into every key, typically the model name, so two
// models never share entries.
func WithNamespace(ns string) Option {
	return func(b *Backend) {
		b.namespace = ns
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.log = logger
		}
	}
}

// Backend answers from Store when it can and forwards misses to the wrapped
// backend. Store failures degrade to misses.
type Backend struct {
	next      backend.Backend
	store     Store
	namespace string
	log       *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.AsyncBackend = (*Backend)(nil)
)

// New wraps next with store.
func New(next backend.Backend, store Store, opts ...Option) (*Backend, error) {
	if next == nil {
		return nil, errors.New("cache: backend is required")
	}
	if store == nil {
		return nil, errors.New("cache: store is required")
	}
	b := &Backend{next: next, store: store, log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Generate answers req from the store or the wrapped backend.
func (b *Backend) Generate(ctx context.Context, req backend.Request) (backend.Response, error) {
	key := b.Key(req)
	if resp, ok := b.lookup(ctx, key); ok {
		return resp, nil
	}
	resp, err := b.next.Generate(ctx, req)
	if err != nil {
		return backend.Response{}, backend.Wrap(name, "generate", -1, err)
	}
	b.save(ctx, key, resp)
	return resp, nil
}

// GenerateBatch answers cached requests from the store and sends every miss
// to the wrapped backend in a single batch.
func (b *Backend) GenerateBatch(ctx context.Context, reqs []backend.Request) ([]backend.Response, error) {
	out := make([]backend.Response, len(reqs))
	keys := make([]string, len(reqs))
	var (
		missIdx  []int
		missReqs []backend.Request
	)
	for i, req := range reqs {
		keys[i] = b.Key(req)
		if resp, ok := b.lookup(ctx, keys[i]); ok {
			out[i] = resp
			continue
		}
		missIdx = append(missIdx, i)
		missReqs = append(missReqs, req)
	}
	if len(missReqs) == 0 {
		return out, nil
	}

	resps, err := b.next.GenerateBatch(ctx, missReqs)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && be.Index >= 0 && be.Index < len(missIdx) {
			return nil, &backend.Error{Backend: be.Backend, Op: be.Op, Index: missIdx[be.Index], Err: be.Err}
		}
		return nil, backend.Wrap(name, "generate batch", -1, err)
	}
	if len(resps) != len(missReqs) {
		return nil, &backend.Error{Backend: name, Op: "generate batch", Index: -1,
			Err: errors.New("wrapped backend returned a short batch")}
	}
	for j, i := range missIdx {
		out[i] = resps[j]
		b.save(ctx, keys[i], resps[j])
	}
	return out, nil
}

// GenerateBatchAsync runs GenerateBatch on its own goroutine.
func (b *Backend) GenerateBatchAsync(ctx context.Context, reqs []backend.Request) <-chan backend.BatchResult {
	return backend.RunAsync(ctx, b, reqs)
}

// Hits returns the number of requests answered from the store.
func (b *Backend) Hits() int64 { return b.hits.Load() }

// Misses returns the number of requests forwarded to the wrapped backend.
func (b *Backend) Misses() int64 { return b.misses.Load() }

type keyMaterial struct {
	Namespace   string   `json:"ns,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Key returns the hex SHA-256 of the request and namespace.
func (b *Backend) Key(req backend.Request) string {
	raw, _ := json.Marshal(keyMaterial{
		Namespace:   b.namespace,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (b *Backend) lookup(ctx context.Context, key string) (backend.Response, bool) {
	resp, ok, err := b.store.Get(ctx, key)
	if err != nil {
		b.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if err != nil || !ok {
		b.misses.Add(1)
		return backend.Response{}, false
	}
	b.hits.Add(1)
	return resp, true
}

func (b *Backend) save(ctx context.Context, key string, resp backend.Response) {
	if err := b.store.Set(ctx, key, resp); err != nil {
		b.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
}
