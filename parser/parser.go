// Package parser extracts canonical, chunker-ready text from uploaded
// documents. Each format produces the same shape of output — a single
// Markdown-flavoured string — so the chunker never needs to know which
// parser produced it.
package parser

import "context"

// Result is what a parser produces from a document file: canonical text
// plus the extraction method. It carries no page count or other per-page
// metadata.
type Result struct {
	// Text is the canonical, structure-preserving plain text: Markdown
	// headings (#/##/###) and lists, ready for the chunker's heading-split
	// stage.
	Text string
	// Method records how the text was produced ("native" for all parsers
	// in this package; reserved for a future external/vision fallback).
	Method string
}

// Parser can parse a specific document format into canonical text.
type Parser interface {
	Parse(ctx context.Context, path string) (*Result, error)
	SupportedFormats() []string
}
