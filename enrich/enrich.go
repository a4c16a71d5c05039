package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Backend is the narrow slice of llm.Provider the enricher needs, kept
// local to avoid importing the whole llm package.
type Backend interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ChatRequest mirrors llm.ChatRequest's shape; duplicated here (rather
// than imported) to keep enrich/ decoupled from llm/'s request struct
// evolving independently.
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Message struct {
	Role    string
	Content string
}

const (
	windowSize       = 6000
	headFraction     = 2.0 / 3.0
	maxLocatorChars  = 50
	enrichTemp       = 0.2
	enrichMaxTokens  = 100
	pacingDelay      = 100 * time.Millisecond
	ellipsisMarker   = "\n...\n"
)

// Enricher generates a short locator sentence per chunk by showing the
// LLM a truncated view of the whole document plus the chunk body. A
// single call's failure is logged and leaves that chunk's prefix empty;
// enrichment is never fatal to ingestion.
type Enricher struct {
	backend Backend
}

func New(backend Backend) *Enricher {
	return &Enricher{backend: backend}
}

// Chunk is the minimal shape the enricher needs: the chunk's own content.
// The truncated window context is built from the full text alone.
type Chunk struct {
	Content string
}

// Enrich returns one context prefix per chunk (prefixes[i] belongs to
// chunks[i]; the caller stores it as the chunk's ContextPrefix), pacing
// calls by pacingDelay to avoid tripping provider rate limits. fullText
// is the document's complete canonical text, used to build the truncated
// window shared across all of a document's chunks.
func (e *Enricher) Enrich(ctx context.Context, fullText string, chunks []Chunk) []string {
	window := truncateWindow(fullText, windowSize)
	prefixes := make([]string, len(chunks))

	for i, c := range chunks {
		if i > 0 {
			select {
			case <-time.After(pacingDelay):
			case <-ctx.Done():
				return prefixes
			}
		}

		prefix, err := e.enrichOne(ctx, window, c.Content)
		if err != nil {
			slog.Warn("enrich: chunk enrichment failed, leaving contextPrefix empty", "index", i, "error", err)
			continue
		}
		prefixes[i] = prefix
	}
	return prefixes
}

func (e *Enricher) enrichOne(ctx context.Context, window, chunkContent string) (string, error) {
	prompt := fmt.Sprintf(
		"Document excerpt:\n%s\n\nChunk:\n%s\n\nIn %d characters or fewer, write a short locator phrase describing where this chunk sits in the document (e.g. section/topic). Reply with the phrase only.",
		window, chunkContent, maxLocatorChars,
	)

	reply, err := e.backend.Chat(ctx, ChatRequest{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: enrichTemp,
		MaxTokens:   enrichMaxTokens,
	})
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(reply)
	if runes := []rune(reply); len(runes) > maxLocatorChars {
		reply = string(runes[:maxLocatorChars])
	}
	return reply, nil
}

// EnrichedContent returns the text used for embedding/BM25 indexing:
// contextPrefix + "\n" + content when a prefix exists, else content
// alone. Display and citations always use the raw content.
func EnrichedContent(contextPrefix, content string) string {
	if contextPrefix == "" {
		return content
	}
	return contextPrefix + "\n" + content
}

// truncateWindow returns a window of at most size characters: the head
// headFraction and the tail (1-headFraction), joined by an ellipsis
// marker, when text exceeds size; text unchanged otherwise. Counts runes
// rather than bytes so a CJK character is never split at either cut.
func truncateWindow(text string, size int) string {
	runes := []rune(text)
	if len(runes) <= size {
		return text
	}
	headLen := int(float64(size) * headFraction)
	tailLen := size - headLen
	return string(runes[:headLen]) + ellipsisMarker + string(runes[len(runes)-tailLen:])
}
