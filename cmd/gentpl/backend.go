package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-gentpl/pkg/backend"
	"github.com/goliatone/go-gentpl/pkg/backend/cache"
	"github.com/goliatone/go-gentpl/pkg/backend/mock"
	"github.com/goliatone/go-gentpl/pkg/backend/openai"
)

type backendOptions struct {
	kind         string
	model        string
	mockResponse string
	redisAddr    string
	cacheTTL     time.Duration
}

// buildBackend returns the configured backend and a cleanup func that must
// run once rendering is done.
func buildBackend(ctx context.Context, opts backendOptions, log *zap.Logger) (backend.Backend, func() error, error) {
	noop := func() error { return nil }

	var (
		b         backend.Backend
		namespace string
	)
	switch strings.ToLower(strings.TrimSpace(opts.kind)) {
	case "mock":
		var mockOpts []mock.Option
		if opts.mockResponse != "" {
			mockOpts = append(mockOpts, mock.WithDefaultResponse(opts.mockResponse))
		}
		b = mock.New(mockOpts...)
		namespace = "mock"
	case "", "openai":
		cfg := openai.ConfigFromEnv()
		if model := strings.TrimSpace(opts.model); model != "" {
			cfg.Model = model
		}
		client, err := openai.New(cfg, openai.WithLogger(log))
		if err != nil {
			return nil, noop, err
		}
		b = client
		namespace = client.Model()
	default:
		return nil, noop, fmt.Errorf("unknown backend %q (want openai or mock)", opts.kind)
	}

	if strings.TrimSpace(opts.redisAddr) == "" {
		return b, noop, nil
	}

	store, err := cache.DialRedis(ctx, opts.redisAddr, cache.WithTTL(opts.cacheTTL))
	if err != nil {
		return nil, noop, err
	}
	cached, err := cache.New(b, store, cache.WithNamespace(namespace), cache.WithLogger(log))
	if err != nil {
		_ = store.Close()
		return nil, noop, err
	}
	cleanup := func() error {
		log.Debug("response cache stats",
			zap.Int64("hits", cached.Hits()),
			zap.Int64("misses", cached.Misses()),
		)
		return store.Close()
	}
	return cached, cleanup, nil
}
