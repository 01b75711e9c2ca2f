// Package template defines the boundary between the rendering pipeline and
// the expression evaluator that runs templates. The pipeline only needs to
// compile a rewritten source once and execute it per render; concrete
// evaluators live in subpackages.
package template
