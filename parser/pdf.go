package parser

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// PDFParser extracts canonical, Markdown-flavoured text from a PDF:
// content-stream text runs are grouped into visual lines by Y proximity
// and ordered top to bottom, then bare page numbers are stripped and
// numbered or Chinese-section-marker headings are promoted to Markdown
// heading lines.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, NewParseError("opening PDF", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := extractPageTextOrdered(page)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			pages = append(pages, text)
		}
	}

	raw := strings.Join(pages, "\n\n")
	return &Result{Text: canonicalizePDFText(raw), Method: "native"}, nil
}

// extractPageTextOrdered groups a page's content-stream text runs into
// visual lines by Y proximity, then orders those lines top-to-bottom.
// Falls back to the library's plain-text extraction when the structured
// content stream yields nothing (scanned-but-OCR'd pages, unusual
// encodings).
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0
	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var parts []string
	for _, l := range lines {
		if s := strings.TrimSpace(l.buf.String()); s != "" {
			parts = append(parts, s)
		}
	}

	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}

var (
	pageNumberLine = regexp.MustCompile(`^-?\s*\d+\s*-?$`)
	headingLevel1  = regexp.MustCompile(`^(\d+\.\s+.+|第[一二三四五六七八九十百]+[章节条款]\s*.+|[一二三四五六七八九十]+[、.]\s*.+)$`)
	headingLevel2  = regexp.MustCompile(`^(\d+\.\d+\.?\s+.+|\d+\.\d+\.\d+\.?\s+.+)$`)
	bulletLine     = regexp.MustCompile(`^[●•○\-]\s*(.+)$`)
)

// canonicalizePDFText applies the line-level rewrite rules: bare page
// numbers are dropped, headings are promoted to Markdown "##"/"###" lines
// surrounded by blank lines, and bullet glyphs are normalised to "- ".
func canonicalizePDFText(raw string) string {
	lines := strings.Split(raw, "\n")
	var out []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			out = append(out, "")
			continue
		}
		if pageNumberLine.MatchString(trimmed) {
			continue
		}
		switch {
		case headingLevel1.MatchString(trimmed):
			out = append(out, "", "## "+trimmed, "")
		case headingLevel2.MatchString(trimmed):
			out = append(out, "", "### "+trimmed, "")
		default:
			if m := bulletLine.FindStringSubmatch(trimmed); m != nil {
				out = append(out, "- "+strings.TrimSpace(m[1]))
			} else {
				out = append(out, trimmed)
			}
		}
	}

	// Collapse runs of 3+ blank lines introduced by heading promotion down
	// to at most one, keeping the output tidy without losing paragraph
	// boundaries.
	var collapsed []string
	blank := 0
	for _, l := range out {
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		collapsed = append(collapsed, l)
	}
	// PDF content streams frequently emit CJK text with combining marks
	// split across separate glyph runs; normalise to NFC so identical
	// characters produce identical bytes for chunking/embedding.
	return norm.NFC.String(strings.TrimSpace(strings.Join(collapsed, "\n")))
}
