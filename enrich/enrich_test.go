package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeBackend struct {
	reply string
	err   error
	calls int
}

func (f *fakeBackend) Chat(ctx context.Context, req ChatRequest) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestEnrich_SetsPrefixPerChunk(t *testing.T) {
	backend := &fakeBackend{reply: "Section 1 overview"}
	e := New(backend)

	prefixes := e.Enrich(context.Background(), "full document text", []Chunk{
		{Content: "first chunk"},
		{Content: "second chunk"},
	})
	if len(prefixes) != 2 {
		t.Fatalf("expected 2 prefixes, got %d", len(prefixes))
	}
	for _, p := range prefixes {
		if p != "Section 1 overview" {
			t.Fatalf("expected prefix set from backend reply, got %q", p)
		}
	}
	if backend.calls != 2 {
		t.Fatalf("expected one backend call per chunk, got %d", backend.calls)
	}
}

func TestEnrich_FailureLeavesPrefixEmptyNotFatal(t *testing.T) {
	backend := &fakeBackend{err: errors.New("provider down")}
	e := New(backend)

	prefixes := e.Enrich(context.Background(), "doc", []Chunk{{Content: "a"}, {Content: "b"}})
	if len(prefixes) != 2 {
		t.Fatalf("expected a prefix slot per chunk even on failure, got %d", len(prefixes))
	}
	for _, p := range prefixes {
		if p != "" {
			t.Fatalf("expected empty prefix on backend failure, got %q", p)
		}
	}
}

func TestEnrich_TruncatesReplyToLocatorLimit(t *testing.T) {
	backend := &fakeBackend{reply: strings.Repeat("x", 200)}
	e := New(backend)
	prefixes := e.Enrich(context.Background(), "doc", []Chunk{{Content: "a"}})
	if len(prefixes[0]) != maxLocatorChars {
		t.Fatalf("expected reply truncated to %d chars, got %d", maxLocatorChars, len(prefixes[0]))
	}
}

func TestEnrichedContent_WithAndWithoutPrefix(t *testing.T) {
	if got := EnrichedContent("", "body"); got != "body" {
		t.Fatalf("expected plain content with no prefix, got %q", got)
	}
	if got := EnrichedContent("locator", "body"); got != "locator\nbody" {
		t.Fatalf("expected prefix+newline+content, got %q", got)
	}
}

func TestTruncateWindow_HeadTailSplit(t *testing.T) {
	text := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	got := truncateWindow(text, 60)
	if !strings.Contains(got, ellipsisMarker) {
		t.Fatalf("expected ellipsis marker in truncated window, got %q", got)
	}
	if !strings.HasPrefix(got, "aaaa") {
		t.Fatalf("expected window to start with head content, got %q", got[:10])
	}
	if !strings.HasSuffix(got, "bbbb") {
		t.Fatalf("expected window to end with tail content, got %q", got[len(got)-10:])
	}
}

func TestTruncateWindow_ShortTextUnchanged(t *testing.T) {
	if got := truncateWindow("short", 6000); got != "short" {
		t.Fatalf("expected unchanged short text, got %q", got)
	}
}

func TestTruncateWindow_CJKNeverSplitsMidRune(t *testing.T) {
	text := strings.Repeat("水", 100)
	got := truncateWindow(text, 60)
	for _, r := range got {
		if r != '水' && !strings.ContainsRune(ellipsisMarker, r) {
			t.Fatalf("window contains corrupted rune %q", r)
		}
	}
}
