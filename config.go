package docqa

import (
	"os"
	"path/filepath"
)

// Config holds all configuration for the document Q&A engine, grouped
// by concern: document storage, chunking, vector backend, embedding
// provider, LLM stack, chat context, and retrieval.
type Config struct {
	DBPath string `json:"db_path"`

	Document  DocumentConfig `json:"document"`
	Chunking  ChunkingConfig `json:"chunking"`
	Vector    VectorConfig   `json:"vector"`
	Embedding ProviderConfig `json:"embedding"`
	LLM       LLMStackConfig `json:"llm"`
	Context   ContextConfig  `json:"context"`
	RAG       RAGConfig      `json:"rag"`
}

// DocumentConfig controls upload/storage limits (document.* keys).
type DocumentConfig struct {
	StoragePath  string `json:"storagePath"`
	MaxFileSize  int64  `json:"maxFileSize"`
	AllowedTypes string `json:"allowedTypes"` // csv: pdf,md,markdown,txt
}

// ChunkingConfig controls the chunker (chunking.* keys).
type ChunkingConfig struct {
	ChunkSize    int `json:"chunkSize"`
	ChunkOverlap int `json:"chunkOverlap"`
	MinChunkSize int `json:"minChunkSize"`
}

// VectorConfig selects and configures the vector store backend
// (vector.* keys): "memory" for the in-process brute-force store,
// "sqlite" for the sqlite-vec-backed persistent one.
type VectorConfig struct {
	Type      string `json:"type"` // memory | sqlite
	Dimension int    `json:"dimension"`
}

// ProviderConfig configures a single LLM/embedding client endpoint
// (embedding.*, llm.primary.*, llm.fallback.* keys). APIType is
// accepted but only "chat" (Chat Completions-style) is wired.
type ProviderConfig struct {
	Type       string `json:"type"` // provider kind: ollama, openai, groq, xai, gemini, openrouter, lmstudio, custom
	APIType    string `json:"apiType,omitempty"`
	Model      string `json:"model"`
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"apiKey"`
	APIVersion string `json:"apiVersion,omitempty"`
	TimeoutMs  int    `json:"timeout,omitempty"`
	MaxTokens  int    `json:"maxTokens,omitempty"`
}

// RetryConfig holds the llm.retry.* keys. These values are not passed to
// the LLM clients: their connection-establishment retry/backoff uses the
// fixed constants in llm/openai_compat.go.
type RetryConfig struct {
	MaxAttempts int     `json:"maxAttempts"`
	DelayMs     int     `json:"delayMs"`
	Multiplier  float64 `json:"multiplier"`
}

// LLMStackConfig groups the primary/fallback client configs and the
// shared retry policy (llm.* keys).
type LLMStackConfig struct {
	Primary  ProviderConfig  `json:"primary"`
	Fallback *ProviderConfig `json:"fallback,omitempty"`
	Retry    RetryConfig     `json:"retry"`
}

// ContextConfig configures the chat context manager (context.* keys).
type ContextConfig struct {
	MaxHistoryRounds int `json:"maxHistoryRounds"`
	MaxContextTokens int `json:"maxContextTokens"`
	SummaryThreshold int `json:"summaryThreshold"`
}

// RAGConfig configures hybrid retrieval (rag.* keys).
// SimilarityThreshold feeds the hierarchy-fallback condition; fused RRF
// scores themselves are never thresholded.
type RAGConfig struct {
	TopK                       int     `json:"topK"`
	SimilarityThreshold        float64 `json:"similarityThreshold"`
	ContextualRetrievalEnabled bool    `json:"contextualRetrievalEnabled"`
	SmallDocumentThreshold     int     `json:"smallDocumentThreshold"`
}

// DefaultConfig returns sensible defaults for local development,
// pointed at local Ollama endpoints for both chat and embeddings.
func DefaultConfig() Config {
	return Config{
		DBPath: "",
		Document: DocumentConfig{
			StoragePath:  "./data/documents",
			MaxFileSize:  50 << 20,
			AllowedTypes: "pdf,md,markdown,txt",
		},
		Chunking: ChunkingConfig{ChunkSize: 1000, ChunkOverlap: 150, MinChunkSize: 50},
		Vector:   VectorConfig{Type: "memory", Dimension: 768},
		Embedding: ProviderConfig{
			Type:     "ollama",
			Model:    "nomic-embed-text",
			Endpoint: "http://localhost:11434",
		},
		LLM: LLMStackConfig{
			Primary: ProviderConfig{
				Type:      "ollama",
				APIType:   "chat",
				Model:     "llama3.1:8b",
				Endpoint:  "http://localhost:11434",
				TimeoutMs: 60000,
				MaxTokens: 2048,
			},
			Retry: RetryConfig{MaxAttempts: 6, DelayMs: 500, Multiplier: 2.0},
		},
		Context: ContextConfig{MaxHistoryRounds: 10, MaxContextTokens: 4000, SummaryThreshold: 20},
		RAG: RAGConfig{
			TopK:                   10,
			SimilarityThreshold:    0.5,
			SmallDocumentThreshold: 10,
		},
	}
}

// resolveDBPath computes the final SQLite database path, defaulting to a
// file alongside the document storage directory.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	dir := c.Document.StoragePath
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "docqa.db")
}

// ensureStorageDir creates the configured document storage directory if
// it does not already exist.
func (c *Config) ensureStorageDir() error {
	dir := c.Document.StoragePath
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
