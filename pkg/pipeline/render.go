package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/goliatone/go-gentpl/internal/callsite"
	"github.com/goliatone/go-gentpl/pkg/backend"
	"github.com/goliatone/go-gentpl/pkg/filters"
	"github.com/goliatone/go-gentpl/pkg/render"
)

// Result is delivered by RenderAsync.
type Result struct {
	Output string
	Err    error
}

type generateFunc func(ctx context.Context, reqs []backend.Request) ([]backend.Response, error)

// Render evaluates the template against vars, generates every collected
// prompt in one backend batch and returns the interpolated output. Failures
// are *RenderError; no partial output is returned.
func (t *Template) Render(ctx context.Context, vars map[string]any) (string, error) {
	return t.render(ctx, vars, t.backend.GenerateBatch)
}

// RenderAsync runs Render on its own goroutine. The generate phase uses the
// backend's GenerateBatchAsync when available. Cancelling ctx while the batch
// is in flight ends the render with ctx.Err(). The channel yields one Result
// and is closed.
func (t *Template) RenderAsync(ctx context.Context, vars map[string]any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		out, err := t.render(ctx, vars, t.generateAsync)
		ch <- Result{Output: out, Err: err}
	}()
	return ch
}

func (t *Template) generateAsync(ctx context.Context, reqs []backend.Request) ([]backend.Response, error) {
	var pending <-chan backend.BatchResult
	if async, ok := t.backend.(backend.AsyncBackend); ok {
		pending = async.GenerateBatchAsync(ctx, reqs)
	} else {
		pending = backend.RunAsync(ctx, t.backend, reqs)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-pending:
		if !ok {
			return nil, errors.New("batch channel closed without a result")
		}
		return res.Responses, res.Err
	}
}

func (t *Template) render(ctx context.Context, vars map[string]any, generate generateFunc) (output string, err error) {
	if ctx == nil {
		return "", errors.New("pipeline: context is required")
	}

	ctx, span := t.tracer.Start(ctx, "gentpl.render", trace.WithAttributes(
		attribute.String("gentpl.template", t.name),
	))
	defer func() {
		endSpan(span, err)
	}()

	if err := ctx.Err(); err != nil {
		return "", &RenderError{Phase: PhaseCollect, Err: err}
	}

	rc := render.NewRenderContext(vars, render.WithLogger(t.logger))
	defer rc.Release()

	collected, err := t.collect(render.WithRenderContext(ctx, rc), vars)
	if err != nil {
		return "", err
	}
	// Collection is over; late generation calls must not register prompts.
	rc.Release()

	prompts := rc.Prompts()
	span.SetAttributes(attribute.Int("gentpl.prompts", len(prompts)))
	if len(prompts) == 0 {
		t.logger.Debug("render collected no prompts")
		return collected, nil
	}

	responses, err := t.generate(ctx, prompts, generate)
	if err != nil {
		return "", err
	}
	for i, p := range prompts {
		if err := rc.SetGenerated(p.Placeholder, responses[i].Text); err != nil {
			return "", &RenderError{Phase: PhaseGenerate, Err: err}
		}
	}

	return t.interpolate(ctx, collected, prompts, rc)
}

func (t *Template) collect(ctx context.Context, vars map[string]any) (string, error) {
	_, span := t.tracer.Start(ctx, "gentpl.collect")
	var buf bytes.Buffer
	err := t.compiled.Execute(ctx, vars, &buf)
	if err != nil {
		err = &RenderError{Phase: PhaseCollect, Err: err}
	}
	endSpan(span, err)
	return buf.String(), err
}

func (t *Template) generate(ctx context.Context, prompts []render.CollectedPrompt, generate generateFunc) (responses []backend.Response, err error) {
	ctx, span := t.tracer.Start(ctx, "gentpl.generate", trace.WithAttributes(
		attribute.Int("gentpl.batch_size", len(prompts)),
	))
	defer func() {
		endSpan(span, err)
	}()

	reqs := make([]backend.Request, len(prompts))
	for i, p := range prompts {
		reqs[i] = t.withDefaults(p.Request())
	}

	started := time.Now()
	responses, err = generate(ctx, reqs)
	t.logger.Debug("render generated batch",
		zap.Int("requests", len(reqs)),
		zap.Duration("duration", time.Since(started)),
		zap.Error(err),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, &RenderError{Phase: PhaseGenerate, Err: err}
		}
		return nil, &RenderError{Phase: PhaseGenerate, Err: backend.Wrap("", "generate batch", -1, err)}
	}
	if len(responses) != len(reqs) {
		return nil, &RenderError{Phase: PhaseGenerate, Err: &backend.Error{
			Op:    "generate batch",
			Index: -1,
			Err:   fmt.Errorf("expected %d responses, got %d", len(reqs), len(responses)),
		}}
	}
	return responses, nil
}

func (t *Template) withDefaults(req backend.Request) backend.Request {
	if req.MaxTokens == nil && t.defaults.MaxTokens != nil {
		n := *t.defaults.MaxTokens
		req.MaxTokens = &n
	}
	if req.Temperature == nil && t.defaults.Temperature != nil {
		v := *t.defaults.Temperature
		req.Temperature = &v
	}
	if len(req.Stop) == 0 && len(t.defaults.Stop) > 0 {
		req.Stop = append([]string(nil), t.defaults.Stop...)
	}
	return req
}

func (t *Template) interpolate(ctx context.Context, collected string, prompts []render.CollectedPrompt, rc *render.RenderContext) (output string, err error) {
	_, span := t.tracer.Start(ctx, "gentpl.interpolate")
	defer func() {
		endSpan(span, err)
	}()

	if err := checkPlaceholders(collected, prompts); err != nil {
		return "", err
	}

	pairs := make([]string, 0, len(prompts)*2)
	for _, p := range prompts {
		text, _ := rc.Generated(p.Placeholder)
		for _, f := range t.chainFor(p.CallSiteID) {
			text, err = t.filters.Apply(f.Name, text, f.Args...)
			if err != nil {
				return "", &RenderError{Phase: PhaseInterpolate, Filter: f.Name, Err: unwrapFilterError(err)}
			}
		}
		pairs = append(pairs, p.Placeholder, text)
	}
	return strings.NewReplacer(pairs...).Replace(collected), nil
}

var placeholderShape = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(render.PlaceholderPrefix) + `[0-9a-z_]{0,40}`)

// checkPlaceholders fails when the collected output still holds something
// shaped like a placeholder once every exact placeholder is removed, so a
// mangled token never reaches the caller.
func checkPlaceholders(collected string, prompts []render.CollectedPrompt) error {
	pairs := make([]string, 0, len(prompts)*2)
	for _, p := range prompts {
		pairs = append(pairs, p.Placeholder, "")
	}
	rest := strings.NewReplacer(pairs...).Replace(collected)
	token := placeholderShape.FindString(rest)
	if token == "" {
		return nil
	}
	return &RenderError{Phase: PhaseInterpolate, Err: fmt.Errorf("%w: %q", ErrUnresolvedPlaceholder, token)}
}

// chainFor resolves the filters applied to a call site: its recorded chain,
// else the default filter. A chain of only "raw" suppresses the default.
// Calls without an id use chain 0.
func (t *Template) chainFor(id *int) []callsite.Filter {
	key := 0
	if id != nil {
		key = *id
	}
	chain := t.table.Chain(key)
	if len(chain) == 1 && chain[0].Name == filters.Raw {
		return nil
	}
	if len(chain) > 0 {
		return chain
	}
	if t.defaultFilter != "" {
		return []callsite.Filter{{Name: t.defaultFilter}}
	}
	return nil
}

func unwrapFilterError(err error) error {
	var fe *filters.Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
