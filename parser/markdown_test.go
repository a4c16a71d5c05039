package parser

import (
	"strings"
	"testing"
)

func TestRenderCanonical_HeadingsAndParagraphs(t *testing.T) {
	src := "# Intro\n\nHello world.\n\n# Usage\n\nRun it.\n"
	got, err := RenderCanonical([]byte(src))
	if err != nil {
		t.Fatalf("RenderCanonical: %v", err)
	}
	if !strings.Contains(got, "# Intro\n") {
		t.Fatalf("expected heading preserved, got %q", got)
	}
	if !strings.Contains(got, "Hello world.\n\n") {
		t.Fatalf("expected paragraph suffixed with blank line, got %q", got)
	}
}

func TestRenderCanonical_SoftBreakAsNewline(t *testing.T) {
	src := "line one\nline two\n"
	got, err := RenderCanonical([]byte(src))
	if err != nil {
		t.Fatalf("RenderCanonical: %v", err)
	}
	if !strings.Contains(got, "line one\nline two") {
		t.Fatalf("expected soft break rendered as newline, got %q", got)
	}
}

func TestRenderCanonical_PlainTextHasNoHeadings(t *testing.T) {
	src := "Just a plain sentence with no markdown syntax at all."
	got, err := RenderCanonical([]byte(src))
	if err != nil {
		t.Fatalf("RenderCanonical: %v", err)
	}
	if strings.Contains(got, "#") {
		t.Fatalf("expected no heading markers for plain text, got %q", got)
	}
}
