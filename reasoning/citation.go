// Package reasoning provides an optional, non-blocking post-stream
// annotation step: once a chat turn's assistant message is fully
// accumulated, the orchestrator may validate its citation list against
// the text actually produced, without gating or reshaping the
// already-streamed response.
package reasoning

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/docqa/retrieval"
)

// citationRefPattern matches a bracketed source reference like "[1]" or
// "[3]", the numbering scheme retrieval.assembleOutput uses when
// building its context string.
var citationRefPattern = regexp.MustCompile(`\[(\d+)\]`)

// AnnotatedCitation pairs a retrieval.Citation with whether the
// generated answer text actually appears to reference it.
type AnnotatedCitation struct {
	retrieval.Citation
	Grounded bool `json:"grounded"`
}

// ValidateCitations annotates each citation the retrieval engine
// assembled with whether the answer text grounds it: either an
// explicit "[i]" back-reference to its position in the context, a
// mention of its document name, or a substantial excerpt phrase
// appearing verbatim in the answer. Failure to find grounding for a
// citation never removes it from the list — it only flips Grounded to
// false, since a model is free to answer in its own words.
func ValidateCitations(answer string, citations []retrieval.Citation) []AnnotatedCitation {
	referenced := referencedIndexes(answer)
	out := make([]AnnotatedCitation, len(citations))
	for i, c := range citations {
		out[i] = AnnotatedCitation{
			Citation: c,
			Grounded: referenced[i+1] || mentionsDocument(answer, c.DocumentName) || mentionsExcerpt(answer, c.Excerpt),
		}
	}
	return out
}

// referencedIndexes extracts every "[i]" back-reference in the answer.
func referencedIndexes(answer string) map[int]bool {
	out := make(map[int]bool)
	for _, match := range citationRefPattern.FindAllStringSubmatch(answer, -1) {
		var n int
		if _, err := fmt.Sscanf(match[1], "%d", &n); err == nil {
			out[n] = true
		}
	}
	return out
}

func mentionsDocument(answer, documentName string) bool {
	if documentName == "" {
		return false
	}
	return strings.Contains(strings.ToLower(answer), strings.ToLower(documentName))
}

// mentionsExcerpt checks whether a substantial leading phrase of the
// citation's excerpt appears verbatim in the answer.
func mentionsExcerpt(answer, excerpt string) bool {
	words := strings.Fields(excerpt)
	if len(words) < 5 {
		return false
	}
	phrase := strings.Join(words[:5], " ")
	return strings.Contains(strings.ToLower(answer), strings.ToLower(phrase))
}
