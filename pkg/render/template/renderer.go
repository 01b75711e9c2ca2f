package template

import (
	"context"
	"io"
)

// Evaluator compiles template source once so it can be executed many times.
type Evaluator interface {
	Compile(name, source string) (Compiled, error)
}

// Compiled is a parsed template. Execute evaluates it against vars and writes
// the output to out; it must be safe for concurrent use. Generation calls made
// during evaluation are recorded on the render context bound to ctx.
type Compiled interface {
	Execute(ctx context.Context, vars map[string]any, out io.Writer) error
}
