// Package backend defines the contract between the rendering pipeline and the
// text generation sources that fill deferred content.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Request is one generation request. Nil parameters fall back to the
// backend's own defaults.
type Request struct {
	Prompt      string
	MaxTokens   *int
	Temperature *float64
	Stop        []string
}

// Usage reports token accounting when the backend exposes it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response carries generated text plus optional metadata.
type Response struct {
	Text         string
	FinishReason string
	Usage        *Usage
}

// Backend turns prompts into text. GenerateBatch must return exactly one
// response per request, in request order.
type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)
	GenerateBatch(ctx context.Context, reqs []Request) ([]Response, error)
}

// BatchResult is delivered by AsyncBackend once a batch settles.
type BatchResult struct {
	Responses []Response
	Err       error
}

// AsyncBackend is implemented by backends that can run a batch without
// blocking the caller. The returned channel yields exactly one result and is
// then closed.
type AsyncBackend interface {
	Backend
	GenerateBatchAsync(ctx context.Context, reqs []Request) <-chan BatchResult
}

// Error is the failure kind every backend reports. Index is the position of
// the failing request inside a batch, or -1 when the failure is not tied to a
// single request.
type Error struct {
	Backend string
	Op      string
	Index   int
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	name := e.Backend
	if name == "" {
		name = "backend"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("%s: %s request %d: %v", name, e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", name, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap returns err as a *Error unless it already carries one.
func Wrap(name, op string, index int, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Backend: name, Op: op, Index: index, Err: err}
}

// RunAsync adapts a synchronous GenerateBatch to the AsyncBackend shape by
// running it on its own goroutine.
func RunAsync(ctx context.Context, b Backend, reqs []Request) <-chan BatchResult {
	ch := make(chan BatchResult, 1)
	go func() {
		defer close(ch)
		responses, err := b.GenerateBatch(ctx, reqs)
		ch <- BatchResult{Responses: responses, Err: err}
	}()
	return ch
}

// Float returns a pointer to v. Convenience for optional request fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
