package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown and plain-text uploads. Both go
// through the same AST walk; for a .txt file the parse simply yields a
// document with no headings and one long paragraph run, which is exactly
// what goldmark produces for text with no Markdown syntax in it.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{"md", "markdown", "txt"} }

var mdGoldmark = goldmark.New()

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewParseError("reading file", err)
	}
	out, err := RenderCanonical(data)
	if err != nil {
		return nil, err
	}
	return &Result{Text: out, Method: "native"}, nil
}

// RenderCanonical walks a Markdown (or Markdown-lax plain text) byte
// slice and emits canonical text: text nodes verbatim, soft/hard breaks
// as "\n", paragraphs suffixed with "\n\n", headings suffixed with "\n"
// and re-marked with their level's "#" so the chunker's heading-split
// regex recognises them consistently with the PDF parser's output.
func RenderCanonical(src []byte) (string, error) {
	doc := mdGoldmark.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			for i := 0; i < node.Level; i++ {
				buf.WriteByte('#')
			}
			buf.WriteByte(' ')
			buf.Write(headingText(node, src))
			buf.WriteByte('\n')
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			buf.Write(inlineText(node, src))
			buf.WriteString("\n\n")
			return ast.WalkSkipChildren, nil
		case *ast.TextBlock:
			buf.Write(inlineText(node, src))
			buf.WriteString("\n\n")
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			buf.WriteString("- ")
			buf.Write(inlineText(node, src))
			buf.WriteByte('\n')
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", NewParseError("walking markdown AST", err)
	}
	return buf.String(), nil
}

// inlineText concatenates the literal text of a node's descendants,
// rendering soft/hard line breaks as "\n".
func inlineText(n ast.Node, src []byte) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.AutoLink:
			buf.Write(node.URL(src))
		default:
			buf.Write(inlineText(node, src))
		}
	}
	return buf.Bytes()
}

func headingText(n *ast.Heading, src []byte) []byte {
	return inlineText(n, src)
}

// NewParseError wraps a low-level parsing failure. Defined here (rather
// than in the root docqa package) to avoid an import cycle; the
// chat/ingest layer re-wraps it with docqa.Error where it needs the
// HTTP-status mapping.
type ParseError struct {
	Msg string
	Err error
}

func NewParseError(msg string, err error) *ParseError { return &ParseError{Msg: msg, Err: err} }

func (e *ParseError) Error() string { return fmt.Sprintf("parse: %s: %v", e.Msg, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }
