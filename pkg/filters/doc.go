// Package filters holds the escaping and text filters applied to generated
// content after generation completes. Each filter receives the generated text
// in isolation, with no knowledge of the surrounding document, so the filter
// alone is responsible for producing output that is valid where it lands.
package filters
