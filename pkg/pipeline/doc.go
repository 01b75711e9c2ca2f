// Package pipeline renders templates whose content regions are produced by a
// text generation backend.
//
// A Template is built once: the source is scanned for gen(...) calls, the
// filter pipeline written after each call is recorded against a positional
// call-site id, and the rewritten source is compiled. Every Render then runs
// three phases:
//
//   - collect: the template is evaluated once. Each gen call records its
//     prompt and emits a placeholder token instead of content.
//   - generate: all collected prompts are sent to the backend in a single
//     GenerateBatch call, in evaluation order.
//   - interpolate: each generated text runs through the filter chain of its
//     call site and replaces its placeholder in the collected output.
//
// Templates are immutable after construction and safe for concurrent renders.
// Each render owns its own render.RenderContext, bound to the render's
// context.Context and released on every exit path.
package pipeline
