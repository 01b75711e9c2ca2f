// Package mock provides a deterministic in-process backend for tests, demos
// and dry runs of a template.
package mock

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/goliatone/go-gentpl/pkg/backend"
)

const name = "mock"

// Option configures a Backend.
type Option func(*Backend)

// WithResponseFunc derives the generated text from the prompt.
func WithResponseFunc(fn func(prompt string) string) Option {
	return func(b *Backend) {
		b.respond = fn
	}
}

// WithDefaultResponse returns the same text for every prompt. Ignored when a
// response func is set.
func WithDefaultResponse(text string) Option {
	return func(b *Backend) {
		b.fixed = &text
	}
}

// WithFailure makes requests fail whenever fn returns a non-nil error.
func WithFailure(fn func(req backend.Request) error) Option {
	return func(b *Backend) {
		b.fail = fn
	}
}

// Backend answers prompts without any I/O. Without options it echoes the
// prompt as "[MOCK: <prompt>]". It records every request it sees.
type Backend struct {
	respond func(prompt string) string
	fixed   *string
	fail    func(req backend.Request) error

	mu       sync.Mutex
	calls    int
	batches  int
	requests []backend.Request
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.AsyncBackend = (*Backend)(nil)
)

// New constructs a mock backend.
func New(options ...Option) *Backend {
	b := &Backend{}
	for _, opt := range options {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Generate answers one request.
func (b *Backend) Generate(ctx context.Context, req backend.Request) (backend.Response, error) {
	return b.generate(ctx, req, -1)
}

// GenerateBatch answers every request in order. The first failure aborts the
// batch.
func (b *Backend) GenerateBatch(ctx context.Context, reqs []backend.Request) ([]backend.Response, error) {
	b.mu.Lock()
	b.batches++
	b.mu.Unlock()

	out := make([]backend.Response, 0, len(reqs))
	for i, req := range reqs {
		resp, err := b.generate(ctx, req, i)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// GenerateBatchAsync runs GenerateBatch on its own goroutine.
func (b *Backend) GenerateBatchAsync(ctx context.Context, reqs []backend.Request) <-chan backend.BatchResult {
	return backend.RunAsync(ctx, b, reqs)
}

func (b *Backend) generate(ctx context.Context, req backend.Request, index int) (backend.Response, error) {
	if err := ctx.Err(); err != nil {
		return backend.Response{}, backend.Wrap(name, "generate", index, err)
	}

	b.mu.Lock()
	b.calls++
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.fail != nil {
		if err := b.fail(req); err != nil {
			return backend.Response{}, backend.Wrap(name, "generate", index, err)
		}
	}

	var text string
	switch {
	case b.respond != nil:
		text = b.respond(req.Prompt)
	case b.fixed != nil:
		text = *b.fixed
	default:
		text = "[MOCK: " + req.Prompt + "]"
	}

	promptTokens := utf8.RuneCountInString(req.Prompt)
	completionTokens := utf8.RuneCountInString(text)
	return backend.Response{
		Text:         text,
		FinishReason: "stop",
		Usage: &backend.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// CallCount is the number of individual requests answered or attempted.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// BatchCount is the number of GenerateBatch invocations.
func (b *Backend) BatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches
}

// Requests returns every request seen so far, oldest first.
func (b *Backend) Requests() []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Request(nil), b.requests...)
}

// LastRequest returns the most recent request.
func (b *Backend) LastRequest() (backend.Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return backend.Request{}, false
	}
	return b.requests[len(b.requests)-1], true
}

// Reset clears recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	b.calls = 0
	b.batches = 0
	b.requests = nil
	b.mu.Unlock()
}
