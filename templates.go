package gentpl

import (
	"embed"
	"io/fs"
)

//go:embed examples/templates/*.tpl
var embeddedExamples embed.FS

// ExampleTemplates exposes the sample templates shipped with the module so
// callers can try the pipeline without writing their own.
func ExampleTemplates() fs.FS {
	sub, err := fs.Sub(embeddedExamples, "examples/templates")
	if err != nil {
		return embeddedExamples
	}
	return sub
}
