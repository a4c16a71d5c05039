package llm

import (
	"context"
	"testing"
)

type fakeProvider struct {
	name  string
	reply string
}

func (f *fakeProvider) ModelName() string { return f.name }
func (f *fakeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: f.reply}, nil
}
func (f *fakeProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error) {
	ch := make(chan StreamDelta, 1)
	ch <- StreamDelta{Done: true}
	close(ch)
	return ch, nil
}
func (f *fakeProvider) Available(ctx context.Context) bool { return true }
func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func TestRouter_GetClientFuzzyMatch(t *testing.T) {
	r := &Router{
		primary:      &fakeProvider{name: "primary"},
		primaryType:  "openai",
		fallback:     &fakeProvider{name: "fallback"},
		fallbackType: "ollama",
	}
	if got := r.GetClient("olla"); got.ModelName() != "fallback" {
		t.Fatalf("expected fuzzy match to fallback, got %s", got.ModelName())
	}
	if got := r.GetClient("unknown"); got.ModelName() != "primary" {
		t.Fatalf("expected miss to return primary, got %s", got.ModelName())
	}
}

func TestRouter_FallbackReturnsCurrentWhenDisabled(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	r := &Router{primary: primary, primaryType: "openai"}
	if got := r.Fallback(primary); got != primary {
		t.Fatalf("expected current returned when no fallback configured")
	}
}

func TestRouter_FallbackReturnsConfiguredFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	fallback := &fakeProvider{name: "fallback"}
	r := &Router{primary: primary, primaryType: "openai", fallback: fallback, fallbackType: "ollama"}
	if got := r.Fallback(primary); got != fallback {
		t.Fatalf("expected configured fallback returned")
	}
}

func TestRouter_PredictHierarchy_MatchesCandidate(t *testing.T) {
	r := &Router{primary: &fakeProvider{reply: `"1.2 Volume"`}}
	got, ok := r.PredictHierarchy(context.Background(), "how loud", []string{"1.1 Power", "1.2 Volume"})
	if !ok || got != "1.2 Volume" {
		t.Fatalf("expected match on '1.2 Volume', got %q ok=%v", got, ok)
	}
}

func TestRouter_PredictHierarchy_NoneReturnsFalse(t *testing.T) {
	r := &Router{primary: &fakeProvider{reply: "NONE"}}
	_, ok := r.PredictHierarchy(context.Background(), "query", []string{"a", "b"})
	if ok {
		t.Fatalf("expected no match for NONE reply")
	}
}

func TestRouter_PredictHierarchy_NoCandidatesReturnsFalse(t *testing.T) {
	r := &Router{primary: &fakeProvider{reply: "anything"}}
	_, ok := r.PredictHierarchy(context.Background(), "query", nil)
	if ok {
		t.Fatalf("expected no match with zero candidates")
	}
}
