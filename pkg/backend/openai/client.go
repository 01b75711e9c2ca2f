// Package openai implements backend.Backend against any OpenAI-compatible
// chat completions endpoint (OpenAI, Azure proxies, Ollama, vLLM, LM Studio).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-gentpl/pkg/backend"
)

const name = "openai"

// Option customises a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client. Its timeout wins over
// Config.Timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		if client != nil {
			b.http = client
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.log = logger
		}
	}
}

// Backend sends each prompt as one chat completion. Batches fan out with at
// most Config.MaxConcurrency requests in flight.
type Backend struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.AsyncBackend = (*Backend)(nil)
)

// New validates cfg and builds a backend.
func New(cfg Config, options ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	b := &Backend{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  zap.NewNop(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Model returns the configured model name.
func (b *Backend) Model() string { return b.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *backend.Usage `json:"usage"`
}

// Generate runs one chat completion.
func (b *Backend) Generate(ctx context.Context, req backend.Request) (backend.Response, error) {
	resp, err := b.complete(ctx, req)
	if err != nil {
		return backend.Response{}, backend.Wrap(name, "generate", -1, err)
	}
	return resp, nil
}

// GenerateBatch runs one chat completion per request and returns responses
// in request order. The first failure cancels the rest of the batch.
func (b *Backend) GenerateBatch(ctx context.Context, reqs []backend.Request) ([]backend.Response, error) {
	out := make([]backend.Response, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(b.cfg.MaxConcurrency, len(reqs)))
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := b.complete(gctx, req)
			if err != nil {
				return backend.Wrap(name, "generate batch", i, err)
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateBatchAsync runs GenerateBatch on its own goroutine.
func (b *Backend) GenerateBatchAsync(ctx context.Context, reqs []backend.Request) <-chan backend.BatchResult {
	return backend.RunAsync(ctx, b, reqs)
}

func (b *Backend) complete(ctx context.Context, req backend.Request) (backend.Response, error) {
	body := chatRequest{
		Model:       b.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
	if body.Temperature == nil {
		body.Temperature = b.cfg.Temperature
	}
	if body.MaxTokens == nil {
		body.MaxTokens = b.cfg.MaxTokens
	}
	if system := b.cfg.systemPrompt(); system != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: system})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var out chatResponse
	if err := b.do(ctx, "/chat/completions", body, &out); err != nil {
		return backend.Response{}, err
	}
	if len(out.Choices) == 0 {
		return backend.Response{}, errors.New("response has no choices")
	}
	choice := out.Choices[0]
	return backend.Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        out.Usage,
	}, nil
}

func (b *Backend) doOnce(ctx context.Context, path string, payload []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (b *Backend) do(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	backoff := b.cfg.InitialBackoff
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, raw, err := b.doOnce(ctx, path, payload)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("decode response: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !isRetryable(err) || attempt == b.cfg.MaxRetries {
			return err
		}

		sleepFor := jitter(retryAfter(resp, backoff, b.cfg.MaxBackoff))
		b.log.Warn("OpenAI request retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", b.cfg.MaxRetries),
			zap.Duration("sleep", sleepFor),
			zap.Error(err),
		)
		if err := sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
	return errors.New("unreachable retry loop")
}
