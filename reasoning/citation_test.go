package reasoning

import (
	"testing"

	"github.com/brunobiangulo/docqa/retrieval"
)

func TestValidateCitations_BracketReferenceIsGrounded(t *testing.T) {
	citations := []retrieval.Citation{
		{ChunkID: "c1", DocumentName: "handbook.pdf", Excerpt: "some short excerpt"},
		{ChunkID: "c2", DocumentName: "manual.pdf", Excerpt: "another short one"},
	}
	answer := "According to [1], the policy requires review."

	got := ValidateCitations(answer, citations)

	if !got[0].Grounded {
		t.Errorf("citation 1 = %+v, want Grounded=true", got[0])
	}
	if got[1].Grounded {
		t.Errorf("citation 2 = %+v, want Grounded=false", got[1])
	}
}

func TestValidateCitations_DocumentNameMentionIsGrounded(t *testing.T) {
	citations := []retrieval.Citation{
		{ChunkID: "c1", DocumentName: "safety-handbook.pdf", Excerpt: "short"},
	}
	answer := "This is covered in safety-handbook.pdf."

	got := ValidateCitations(answer, citations)
	if !got[0].Grounded {
		t.Errorf("expected grounded via document name mention, got %+v", got[0])
	}
}

func TestValidateCitations_ExcerptPhraseMatchIsGrounded(t *testing.T) {
	citations := []retrieval.Citation{
		{ChunkID: "c1", DocumentName: "doc.pdf", Excerpt: "employees must complete safety training annually before"},
	}
	answer := "The rule states that employees must complete safety training annually, per policy."

	got := ValidateCitations(answer, citations)
	if !got[0].Grounded {
		t.Errorf("expected grounded via excerpt phrase match, got %+v", got[0])
	}
}

func TestValidateCitations_UngroundedCitationIsKeptButFlagged(t *testing.T) {
	citations := []retrieval.Citation{
		{ChunkID: "c1", DocumentName: "irrelevant.pdf", Excerpt: "totally unrelated filler content here"},
	}
	answer := "I don't have enough information to answer that."

	got := ValidateCitations(answer, citations)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (never drop citations)", len(got))
	}
	if got[0].Grounded {
		t.Errorf("expected Grounded=false, got true")
	}
}
