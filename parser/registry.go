package parser

import "fmt"

// Registry dispatches a document type (pdf, md, markdown, txt) to the
// parser that handles it.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry with the PDF and Markdown/TXT parsers
// registered under every supported type name.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	pdf := &PDFParser{}
	md := &MarkdownParser{}

	for _, f := range pdf.SupportedFormats() {
		r.parsers[f] = pdf
	}
	for _, f := range md.SupportedFormats() {
		r.parsers[f] = md
	}
	return r
}

// Get returns the parser registered for format, or an error if none is.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// Register overrides or adds a parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
