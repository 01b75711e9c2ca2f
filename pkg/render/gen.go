package render

import "context"

// GenOption sets an optional generation parameter on a Gen call.
type GenOption func(*CollectParams)

// WithMaxTokens limits the generated length for one call.
func WithMaxTokens(n int) GenOption {
	return func(p *CollectParams) { p.MaxTokens = &n }
}

// WithTemperature overrides the sampling temperature for one call.
func WithTemperature(t float64) GenOption {
	return func(p *CollectParams) { p.Temperature = &t }
}

// WithStop sets stop sequences for one call.
func WithStop(stop ...string) GenOption {
	return func(p *CollectParams) { p.Stop = append([]string(nil), stop...) }
}

// WithCallSite associates the call with an entry of the filter-chain table.
func WithCallSite(id int) GenOption {
	return func(p *CollectParams) { p.CallSiteID = &id }
}

// Collect registers params with the RenderContext bound to ctx.
func Collect(ctx context.Context, params CollectParams) (string, error) {
	rc, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return rc.Collect(params)
}

// Gen is the generation call site: it records prompt on the active render and
// returns the placeholder that will later carry the generated text.
func Gen(ctx context.Context, prompt string, opts ...GenOption) (string, error) {
	params := CollectParams{Prompt: prompt}
	for _, opt := range opts {
		if opt != nil {
			opt(&params)
		}
	}
	return Collect(ctx, params)
}
