package embedding

import (
	"context"
	"fmt"
)

// Client produces dense vectors for text, batching requests to respect a
// provider's per-request item cap.
type Client struct {
	backend   Backend
	batchSize int
}

// Backend is the subset of llm.Provider this package depends on — kept as
// a narrow local interface so embedding/ does not import llm/ and create
// a cycle once llm/ grows a router that may want to report embedding
// dimension probes through this package.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultBatchSize matches typical OpenAI-compatible embeddings endpoint
// limits; callers needing a provider-specific cap should set it via New.
const DefaultBatchSize = 96

func New(backend Backend, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{backend: backend, batchSize: batchSize}
}

// EmbedBatch embeds texts in order, splitting into sub-batches of at most
// c.batchSize items per provider call and reassembling the results in the
// original order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		vecs, err := c.backend.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d): %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding batch [%d:%d): provider returned %d vectors for %d inputs", start, end, len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Embed embeds a single text; a thin convenience wrapper over EmbedBatch.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
