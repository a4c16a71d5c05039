package chunker

import (
	"strings"
	"testing"
)

func TestChunk_SingleSectionFitsInOneChunk(t *testing.T) {
	text := "# Intro\nThis is a short document body.\n"
	c := New(DefaultConfig())
	chunks := c.Chunk(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Heading != "Intro" {
		t.Fatalf("expected heading Intro, got %q", chunks[0].Heading)
	}
	if chunks[0].Hierarchy != "Intro" {
		t.Fatalf("expected hierarchy Intro, got %q", chunks[0].Hierarchy)
	}
}

func TestChunk_NestedHeadingsBuildHierarchy(t *testing.T) {
	text := "# Basics\nroot body\n## Volume\nnested body\n"
	c := New(DefaultConfig())
	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Hierarchy != "Basics > Volume" {
		t.Fatalf("expected hierarchy 'Basics > Volume', got %q", chunks[1].Hierarchy)
	}
}

func TestChunk_SameLevelHeadingReplacesNotNests(t *testing.T) {
	text := "# One\nbody one\n# Two\nbody two\n"
	c := New(DefaultConfig())
	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Hierarchy != "Two" {
		t.Fatalf("expected sibling heading to replace, not nest; got hierarchy %q", chunks[1].Hierarchy)
	}
}

func TestChunk_NumericHeadingLevel(t *testing.T) {
	text := "1. Basics\nroot body\n1.2 Volume\nnested body\n"
	c := New(DefaultConfig())
	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[1].Hierarchy, "1. Basics") || !strings.Contains(chunks[1].Hierarchy, "1.2 Volume") {
		t.Fatalf("expected hierarchy to include both numeric headings, got %q", chunks[1].Hierarchy)
	}
}

func TestChunk_LongSectionIsSplitWithOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		sb.WriteString("This is a sentence that adds length to the paragraph. ")
	}
	text := "# Long\n" + sb.String()

	cfg := Config{ChunkSize: 200, ChunkOverlap: 30, MinChunkSize: 20}
	c := New(cfg)
	chunks := c.Chunk(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long section, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if len(ch.Content) > cfg.ChunkSize+cfg.ChunkOverlap {
			t.Fatalf("chunk exceeds expected size bound: %d chars", len(ch.Content))
		}
	}
}

func TestChunk_NoHeadingsProducesSingleSection(t *testing.T) {
	text := "Just a flat paragraph with no headings at all."
	c := New(DefaultConfig())
	chunks := c.Chunk(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Heading != "" {
		t.Fatalf("expected no heading, got %q", chunks[0].Heading)
	}
}

func TestChunk_ChineseChapterHeading(t *testing.T) {
	text := "第一章 总则\n内容在这里。\n第二章 细则\n更多内容。\n"
	c := New(DefaultConfig())
	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Heading != "第一章 总则" {
		t.Fatalf("expected chinese heading preserved, got %q", chunks[0].Heading)
	}
}

func TestChunk_SequentialChunkIndex(t *testing.T) {
	text := "# A\nbody a\n# B\nbody b\n# C\nbody c\n"
	c := New(DefaultConfig())
	chunks := c.Chunk(text)
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Fatalf("expected chunkIndex %d at position %d, got %d", i, i, ch.ChunkIndex)
		}
	}
}
