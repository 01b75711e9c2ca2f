package render

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-gentpl/pkg/backend"
)

// ErrNoRenderContext is returned when a generation call runs outside the
// collection phase of a render. It signals misuse, not a template problem.
var ErrNoRenderContext = errors.New("render: no active render context")

// PlaceholderPrefix starts every placeholder token.
const PlaceholderPrefix = "__GENTPL_"

// HasPlaceholder reports whether s contains a placeholder token.
func HasPlaceholder(s string) bool {
	return strings.Contains(s, PlaceholderPrefix)
}

// CollectedPrompt is one generation request observed while the template was
// evaluated. It is immutable once returned by Prompts.
type CollectedPrompt struct {
	Placeholder string
	Prompt      string
	CallSiteID  *int
	MaxTokens   *int
	Temperature *float64
	Stop        []string
}

// Request converts the prompt into a backend request.
func (p CollectedPrompt) Request() backend.Request {
	req := backend.Request{
		Prompt:      p.Prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
	if len(p.Stop) > 0 {
		req.Stop = append([]string(nil), p.Stop...)
	}
	return req
}

// CollectParams describes one call to the generation function.
type CollectParams struct {
	Prompt      string
	CallSiteID  *int
	MaxTokens   *int
	Temperature *float64
	Stop        []string
}

// ContextOption configures a RenderContext.
type ContextOption func(*RenderContext)

// WithLogger sets the logger used to report prompt interpolation fallbacks.
func WithLogger(logger *zap.Logger) ContextOption {
	return func(rc *RenderContext) {
		if logger != nil {
			rc.logger = logger
		}
	}
}

// RenderContext holds the state of exactly one render: the prompts collected
// during evaluation, the text generated for them and the render variables.
type RenderContext struct {
	mu        sync.Mutex
	nonce     string
	counter   int
	prompts   []CollectedPrompt
	positions map[string]int
	generated map[string]string
	variables map[string]any
	active    bool
	logger    *zap.Logger
}

// NewRenderContext creates an active context bound to vars. The map is copied
// shallowly and never mutated.
func NewRenderContext(vars map[string]any, opts ...ContextOption) *RenderContext {
	copied := make(map[string]any, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	rc := &RenderContext{
		nonce:     strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")),
		positions: make(map[string]int),
		generated: make(map[string]string),
		variables: copied,
		active:    true,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}
	return rc
}

// Collect registers a generation request and returns the placeholder that
// stands in for its content. The prompt is interpolated against the render
// variables; interpolation failures keep the prompt verbatim.
func (rc *RenderContext) Collect(params CollectParams) (string, error) {
	if rc == nil {
		return "", ErrNoRenderContext
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.active {
		return "", ErrNoRenderContext
	}

	prompt, err := Interpolate(params.Prompt, rc.variables)
	if err != nil {
		rc.logger.Warn("prompt interpolation failed, using prompt verbatim",
			zap.String("prompt", params.Prompt),
			zap.Error(err),
		)
		prompt = params.Prompt
	}

	placeholder := PlaceholderPrefix + rc.nonce + "_" + strconv.Itoa(rc.counter) + "__"
	rc.counter++

	entry := CollectedPrompt{
		Placeholder: placeholder,
		Prompt:      prompt,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	if params.CallSiteID != nil {
		id := *params.CallSiteID
		entry.CallSiteID = &id
	}
	if len(params.Stop) > 0 {
		entry.Stop = append([]string(nil), params.Stop...)
	}
	rc.positions[placeholder] = len(rc.prompts)
	rc.prompts = append(rc.prompts, entry)
	return placeholder, nil
}

// Prompts returns the collected prompts in evaluation order.
func (rc *RenderContext) Prompts() []CollectedPrompt {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]CollectedPrompt(nil), rc.prompts...)
}

// SetGenerated records the generated text for placeholder.
func (rc *RenderContext) SetGenerated(placeholder, text string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, ok := rc.positions[placeholder]; !ok {
		return fmt.Errorf("render: unknown placeholder %q", placeholder)
	}
	rc.generated[placeholder] = text
	return nil
}

// Generated returns the text recorded for placeholder.
func (rc *RenderContext) Generated(placeholder string) (string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	text, ok := rc.generated[placeholder]
	return text, ok
}

// Variables returns a shallow copy of the render variables.
func (rc *RenderContext) Variables() map[string]any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]any, len(rc.variables))
	for k, v := range rc.variables {
		out[k] = v
	}
	return out
}

// Release deactivates the context. Later Collect calls fail with
// ErrNoRenderContext. Release is idempotent.
func (rc *RenderContext) Release() {
	rc.mu.Lock()
	rc.active = false
	rc.mu.Unlock()
}

// Active reports whether the context still accepts prompts.
func (rc *RenderContext) Active() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.active
}

type renderContextKey struct{}

// WithRenderContext binds rc to ctx. Each render owns its own context.Context,
// so the binding never leaks between concurrent renders.
func WithRenderContext(ctx context.Context, rc *RenderContext) context.Context {
	return context.WithValue(ctx, renderContextKey{}, rc)
}

// FromContext returns the active RenderContext bound to ctx.
func FromContext(ctx context.Context) (*RenderContext, error) {
	if ctx == nil {
		return nil, ErrNoRenderContext
	}
	rc, ok := ctx.Value(renderContextKey{}).(*RenderContext)
	if !ok || rc == nil || !rc.Active() {
		return nil, ErrNoRenderContext
	}
	return rc, nil
}
