package chunker

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/docqa/tokenizer"
)

// Config controls the two-stage chunking algorithm.
type Config struct {
	ChunkSize    int // target maximum characters per chunk.
	ChunkOverlap int // trailing characters carried into the next chunk.
	MinChunkSize int // floor below which a chunk is appended to the previous chunk instead of emitted alone.
}

// DefaultConfig returns character-based defaults sized for retrieval
// chunks of roughly a few hundred tokens.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, ChunkOverlap: 150, MinChunkSize: 50}
}

// Chunk is one emitted segment of a document: a heading-stack section,
// possibly further split by Stage B's recursive character splitter.
type Chunk struct {
	Heading    string
	Hierarchy  string
	Content    string
	ChunkIndex int
	TokenCount int
}

// Chunker splits canonical parser text into hierarchy-tagged chunks in
// two stages: a heading-stack split (Stage A) followed by a
// recursive-separator character split of each section's body (Stage B).
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 150
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 50
	}
	return &Chunker{cfg: cfg}
}

// headingPattern recognises the three heading forms Stage A splits on:
// Markdown ATX headings, numeric outline headings ("1.2 Title"), and
// Chinese chapter/section markers.
var headingPattern = regexp.MustCompile(`(?m)^(#{1,6}\s+.+|\d+\.\d*\s+.+|第[一二三四五六七八九十百]+[章节条款]\s*.*)$`)

type textSection struct {
	heading   string
	hierarchy string
	content   string
}

// Chunk runs Stage A (heading-stack split) then Stage B (recursive
// character split) over canonical text, returning chunks in document
// order with sequential chunkIndex values.
func (c *Chunker) Chunk(text string) []Chunk {
	sections := splitByHeadings(text)

	var out []Chunk
	idx := 0
	for _, sec := range sections {
		for _, frag := range c.splitSection(sec.content) {
			frag = strings.TrimSpace(frag)
			if frag == "" {
				continue
			}
			out = append(out, Chunk{
				Heading:    sec.heading,
				Hierarchy:  sec.hierarchy,
				Content:    frag,
				ChunkIndex: idx,
				TokenCount: tokenizer.Estimate(frag),
			})
			idx++
		}
	}
	return out
}

// splitByHeadings implements Stage A. A stack of {level, heading} tracks
// ancestor headings; on a new heading of level L, entries with level ≥ L
// are popped before the new heading is pushed — same level replaces,
// rather than nests beside, the prior entry at that depth.
func splitByHeadings(text string) []textSection {
	lines := strings.Split(text, "\n")

	type stackEntry struct {
		level   int
		heading string
	}
	var stack []stackEntry

	var sections []textSection
	var curHeading string
	var curHierarchy string
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		if content == "" && curHeading == "" {
			return
		}
		sections = append(sections, textSection{
			heading:   curHeading,
			hierarchy: curHierarchy,
			content:   content,
		})
		body.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if headingPattern.MatchString(trimmed) {
			flush()

			level := headingLevel(strings.TrimSpace(trimmed))
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			heading := headingText(strings.TrimSpace(trimmed))
			stack = append(stack, stackEntry{level: level, heading: heading})

			parts := make([]string, len(stack))
			for i, e := range stack {
				parts[i] = e.heading
			}
			curHeading = heading
			curHierarchy = strings.Join(parts, " > ")
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	if len(sections) == 0 {
		return []textSection{{content: strings.TrimSpace(text)}}
	}
	return sections
}

// headingLevel computes the Stage A heading level: leading "#" count for
// ATX headings, 1+dotCount for numeric outline headings (a trailing "."
// is not counted, so "1." is level 1 and "1.2" is level 2), else 1.
func headingLevel(line string) int {
	if strings.HasPrefix(line, "#") {
		n := 0
		for n < len(line) && line[n] == '#' {
			n++
		}
		return n
	}
	if dots := strings.Count(strings.TrimSuffix(strings.Fields(line)[0], "."), "."); dots > 0 {
		return 1 + dots
	}
	return 1
}

// headingText strips the leading "#"s (if any) from a heading line,
// leaving the numeric/Chinese prefix intact for non-ATX forms since it
// carries outline-position information the hierarchy string should keep.
func headingText(line string) string {
	if strings.HasPrefix(line, "#") {
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return line
}

// separators is the Stage B priority list: each is tried in order and the
// first one present in the text is used to delimit segments.
var separators = []string{"\n\n", "\n", "。", "！", "？", ".", "!", "?", "；", ";", "，", ",", " "}

// splitSection implements Stage B: a recursive character split of one
// section's body into chunks of at most cfg.ChunkSize characters, with
// cfg.ChunkOverlap characters of trailing context carried into the next
// chunk, and a cfg.MinChunkSize floor below which a flushed accumulator
// is appended to the previous chunk (when there is one) rather than
// emitted alone.
func (c *Chunker) splitSection(content string) []string {
	if content == "" {
		return nil
	}
	if len(content) <= c.cfg.ChunkSize {
		return []string{content}
	}

	sep := pickSeparator(content)
	var segments []string
	if sep == "" {
		return fixedWidthSplit(content, c.cfg.ChunkSize, c.cfg.ChunkOverlap)
	}
	for _, s := range strings.Split(content, sep) {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) <= 1 {
		return fixedWidthSplit(content, c.cfg.ChunkSize, c.cfg.ChunkOverlap)
	}

	var chunks []string
	var acc strings.Builder
	carry := ""

	flush := func() {
		s := strings.TrimSpace(acc.String())
		if s == "" {
			return
		}
		if len(s) < c.cfg.MinChunkSize && len(chunks) > 0 {
			chunks[len(chunks)-1] = chunks[len(chunks)-1] + sep + s
			acc.Reset()
			return
		}
		chunks = append(chunks, s)
		carry = trailingOverlap(s, c.cfg.ChunkOverlap)
		acc.Reset()
	}

	for _, seg := range segments {
		projected := acc.Len() + len(sep) + len(seg)
		if acc.Len() > 0 && projected > c.cfg.ChunkSize {
			flush()
			if carry != "" {
				acc.WriteString(carry)
				acc.WriteString(sep)
			}
		}
		if acc.Len() > 0 {
			acc.WriteString(sep)
		}
		acc.WriteString(seg)

		// A single oversized segment gets recursively split with the next
		// separator in the priority list.
		if len(seg) > c.cfg.ChunkSize {
			flush()
			for _, sub := range c.splitWithSeparators(seg, nextSeparators(sep)) {
				chunks = append(chunks, sub)
			}
			carry = ""
		}
	}
	flush()

	if len(chunks) == 0 {
		return fixedWidthSplit(content, c.cfg.ChunkSize, c.cfg.ChunkOverlap)
	}
	return chunks
}

// splitWithSeparators retries Stage B starting from a narrower separator
// list, for segments that overflowed chunkSize under their first
// separator.
func (c *Chunker) splitWithSeparators(content string, seps []string) []string {
	for _, sep := range seps {
		if sep == "" || !strings.Contains(content, sep) {
			continue
		}
		var segments []string
		for _, s := range strings.Split(content, sep) {
			if s != "" {
				segments = append(segments, s)
			}
		}
		if len(segments) <= 1 {
			continue
		}
		var chunks []string
		var acc strings.Builder
		for _, seg := range segments {
			if acc.Len() > 0 && acc.Len()+len(sep)+len(seg) > c.cfg.ChunkSize {
				chunks = append(chunks, strings.TrimSpace(acc.String()))
				acc.Reset()
			}
			if acc.Len() > 0 {
				acc.WriteString(sep)
			}
			acc.WriteString(seg)
		}
		if acc.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(acc.String()))
		}
		return chunks
	}
	return fixedWidthSplit(content, c.cfg.ChunkSize, c.cfg.ChunkOverlap)
}

func pickSeparator(content string) string {
	for _, sep := range separators {
		if strings.Contains(content, sep) {
			return sep
		}
	}
	return ""
}

func nextSeparators(current string) []string {
	for i, sep := range separators {
		if sep == current {
			return separators[i+1:]
		}
	}
	return nil
}

// fixedWidthSplit is Stage B's last-resort path, used when no separator
// produces more than one non-empty segment.
func fixedWidthSplit(content string, width, overlap int) []string {
	if width <= 0 {
		return []string{content}
	}
	runes := []rune(content)
	var out []string
	stride := width - overlap
	if stride <= 0 {
		stride = width
	}
	for i := 0; i < len(runes); i += stride {
		end := i + width
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, strings.TrimSpace(string(runes[i:end])))
		if end == len(runes) {
			break
		}
	}
	return out
}

// trailingOverlap returns the trailing n characters of s, used to seed
// the next chunk's accumulator for continuity across the split point.
func trailingOverlap(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	return s[len(s)-n:]
}
