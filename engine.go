package docqa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunobiangulo/docqa/bm25"
	"github.com/brunobiangulo/docqa/chat"
	"github.com/brunobiangulo/docqa/chunker"
	"github.com/brunobiangulo/docqa/embedding"
	"github.com/brunobiangulo/docqa/enrich"
	"github.com/brunobiangulo/docqa/history"
	"github.com/brunobiangulo/docqa/llm"
	"github.com/brunobiangulo/docqa/parser"
	"github.com/brunobiangulo/docqa/retrieval"
	"github.com/brunobiangulo/docqa/store"
	"github.com/brunobiangulo/docqa/vectorstore"
)

// Engine wires every package into the document Q&A service: document
// ingestion, hybrid retrieval, and streamed chat.
type Engine struct {
	cfg Config

	store   *store.Store
	vectors vectorstore.Store
	bm25    *bm25.Index

	parsers  *parser.Registry
	chunkr   *chunker.Chunker
	enricher *enrich.Enricher
	embedder *embedding.Client

	router       *llm.Router
	retriever    *retrieval.Engine
	history      *history.Manager
	orchestrator *chat.Orchestrator
}

// New builds an Engine from cfg: opens the store, wires the LLM router,
// and constructs the retrieval/history/chat pipeline.
func New(cfg Config) (*Engine, error) {
	if err := cfg.ensureStorageDir(); err != nil {
		return nil, fmt.Errorf("preparing storage dir: %w", err)
	}

	s, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	router, err := newRouter(cfg.LLM)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating llm router: %w", err)
	}

	embedProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Type,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.Endpoint,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	vectors, err := newVectorStore(cfg.Vector, s)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	idx := bm25.NewIndex()
	docs := s.AsDocumentSource()

	retriever := retrieval.New(vectors, idx, embedding.New(embedProvider, embedding.DefaultBatchSize), router, docs, retrieval.Config{
		TopK:                   cfg.RAG.TopK,
		SmallDocumentThreshold: cfg.RAG.SmallDocumentThreshold,
		SimilarityThreshold:    cfg.RAG.SimilarityThreshold,
	})

	histRepo := s.AsHistoryRepository()
	histMgr := history.New(histRepo, routerAsHistoryBackend{router}, history.Config{
		MaxHistoryRounds: cfg.Context.MaxHistoryRounds,
		MaxContextTokens: cfg.Context.MaxContextTokens,
		SummaryThreshold: cfg.Context.SummaryThreshold,
	})

	orchestrator := chat.New(retriever, histMgr, router, s.AsSessionSource(), cfg.Context.MaxContextTokens)

	return &Engine{
		cfg:          cfg,
		store:        s,
		vectors:      vectors,
		bm25:         idx,
		parsers:      parser.NewRegistry(),
		chunkr:       chunker.New(chunker.Config{ChunkSize: cfg.Chunking.ChunkSize, ChunkOverlap: cfg.Chunking.ChunkOverlap, MinChunkSize: cfg.Chunking.MinChunkSize}),
		enricher:     enrich.New(routerAsEnrichBackend{router}),
		embedder:     embedding.New(embedProvider, embedding.DefaultBatchSize),
		router:       router,
		retriever:    retriever,
		history:      histMgr,
		orchestrator: orchestrator,
	}, nil
}

// Close releases the engine's store handle.
func (e *Engine) Close() error { return e.store.Close() }

func newRouter(cfg LLMStackConfig) (*llm.Router, error) {
	routerCfg := llm.RouterConfig{
		Primary: llm.Config{
			Provider: cfg.Primary.Type,
			Model:    cfg.Primary.Model,
			BaseURL:  cfg.Primary.Endpoint,
			APIKey:   cfg.Primary.APIKey,
		},
	}
	if cfg.Fallback != nil {
		routerCfg.Fallback = &llm.Config{
			Provider: cfg.Fallback.Type,
			Model:    cfg.Fallback.Model,
			BaseURL:  cfg.Fallback.Endpoint,
			APIKey:   cfg.Fallback.APIKey,
		}
	}
	return llm.NewRouter(routerCfg)
}

// newVectorStore builds either the in-memory default or the
// sqlite-vec-backed alternative, per the vector.type config key.
func newVectorStore(cfg VectorConfig, s *store.Store) (vectorstore.Store, error) {
	switch cfg.Type {
	case "sqlite":
		return vectorstore.NewSQLite(s.DB(), cfg.Dimension)
	default:
		return vectorstore.NewMemory(), nil
	}
}

// routerAsHistoryBackend adapts *llm.Router to history.Backend, whose
// request/response types are locally duplicated rather than imported
// from llm/ (see history/history.go's decoupling rationale).
type routerAsHistoryBackend struct{ router *llm.Router }

func (r routerAsHistoryBackend) Chat(ctx context.Context, req history.ChatRequest) (*history.ChatResponse, error) {
	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	resp, err := r.router.Primary().Chat(ctx, llm.ChatRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &history.ChatResponse{Content: resp.Content}, nil
}

// routerAsEnrichBackend adapts *llm.Router to enrich.Backend.
type routerAsEnrichBackend struct{ router *llm.Router }

func (r routerAsEnrichBackend) Chat(ctx context.Context, req enrich.ChatRequest) (string, error) {
	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	resp, err := r.router.Primary().Chat(ctx, llm.ChatRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// UploadDocument creates a document record in UPLOADING status from an
// uploaded file, then runs the parse/chunk/enrich/embed/index pipeline
// asynchronously. The returned Document reflects only the initial,
// synchronous write; callers poll GetDocument for status transitions.
func (e *Engine) UploadDocument(ctx context.Context, filename string, size int64, r io.Reader, skipEnrichment bool) (*store.Document, error) {
	docType := documentType(filename)
	if !e.allowedType(docType) {
		return nil, NewInvalidArgumentError("unsupported document type: " + docType)
	}
	if e.cfg.Document.MaxFileSize > 0 && size > e.cfg.Document.MaxFileSize {
		return nil, NewFileTooLargeError(fmt.Sprintf("file exceeds maximum size of %d bytes", e.cfg.Document.MaxFileSize))
	}

	storagePath := filepath.Join(e.cfg.Document.StoragePath, sanitizeFilename(filename))
	if err := writeToStorage(storagePath, r); err != nil {
		return nil, NewDocumentProcessError("saving uploaded file", err)
	}

	id, err := e.store.InsertDocument(ctx, store.Document{
		Filename:    filepath.Base(filename),
		Type:        docType,
		SizeBytes:   size,
		StoragePath: storagePath,
	})
	if err != nil {
		return nil, fmt.Errorf("recording document: %w", err)
	}

	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	go e.ingest(context.Background(), *doc, skipEnrichment)

	return doc, nil
}

// ingest runs the full parse -> chunk -> enrich -> embed -> index
// pipeline for a document already recorded in UPLOADING status. Any
// stage failure marks the document FAILED; enrichment alone is
// non-fatal per chunk.
func (e *Engine) ingest(ctx context.Context, doc store.Document, skipEnrichment bool) {
	if err := e.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusProcessing); err != nil {
		slog.Error("ingest: updating status to processing failed", "document", doc.ID, "err", err)
		return
	}

	fail := func(stage string, err error) {
		slog.Error("ingest: failed", "document", doc.ID, "stage", stage, "err", err)
		if uerr := e.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusFailed); uerr != nil {
			slog.Error("ingest: marking document failed also failed", "document", doc.ID, "err", uerr)
		}
	}

	start := time.Now()
	p, err := e.parsers.Get(doc.Type)
	if err != nil {
		fail("parse", err)
		return
	}
	parsed, err := p.Parse(ctx, doc.StoragePath)
	if err != nil {
		fail("parse", err)
		return
	}
	slog.Info("ingest: parsed", "document", doc.ID, "elapsed", time.Since(start).Round(time.Millisecond))

	chunks := e.chunkr.Chunk(parsed.Text)
	if len(chunks) == 0 {
		fail("chunk", fmt.Errorf("no chunks produced"))
		return
	}

	var prefixes []string
	if e.cfg.RAG.ContextualRetrievalEnabled && !skipEnrichment {
		enrichChunks := make([]enrich.Chunk, len(chunks))
		for i, c := range chunks {
			enrichChunks[i] = enrich.Chunk{Content: c.Content}
		}
		prefixes = e.enricher.Enrich(ctx, parsed.Text, enrichChunks)
	}

	storeChunks := make([]store.DocumentChunk, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = store.DocumentChunk{
			DocumentID: doc.ID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Heading:    c.Heading,
			Hierarchy:  c.Hierarchy,
			TokenCount: c.TokenCount,
		}
		if i < len(prefixes) {
			storeChunks[i].ContextPrefix = prefixes[i]
		}
	}
	if err := e.vectors.DeleteByDocumentID(doc.ID); err != nil {
		slog.Warn("ingest: clearing stale vectors failed (non-fatal)", "document", doc.ID, "err", err)
	}
	e.bm25.DeleteDocument(doc.ID)

	if err := e.store.InsertChunks(ctx, storeChunks); err != nil {
		fail("store chunks", err)
		return
	}
	persisted, err := e.store.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		fail("reload chunks", err)
		return
	}

	if err := e.indexChunks(ctx, doc, persisted); err != nil {
		fail("index", err)
		return
	}

	if err := e.store.CompleteIngest(ctx, doc.ID, len(persisted), parsed.Text); err != nil {
		slog.Error("ingest: completing ingest record failed", "document", doc.ID, "err", err)
		return
	}
	slog.Info("ingest: document ready", "document", doc.ID, "chunks", len(persisted), "elapsed", time.Since(start).Round(time.Millisecond))
}

// indexChunks embeds and indexes a document's persisted chunks into the
// vector store and BM25 index. Indexing uses the context-prefixed text;
// stored content, display, and citations keep the raw chunk body.
func (e *Engine) indexChunks(ctx context.Context, doc store.Document, persisted []store.DocumentChunk) error {
	texts := make([]string, len(persisted))
	for i, c := range persisted {
		texts[i] = enrich.EnrichedContent(c.ContextPrefix, c.Content)
	}
	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	records := make([]vectorstore.Record, len(persisted))
	bm25Chunks := make([]bm25.Chunk, len(persisted))
	for i, c := range persisted {
		meta := map[string]string{
			"filename":   doc.Filename,
			"documentId": doc.ID,
			"heading":    c.Heading,
			"hierarchy":  c.Hierarchy,
			"startPage":  fmt.Sprintf("%d", c.StartPage),
			"chunkIndex": fmt.Sprintf("%d", c.ChunkIndex),
		}
		records[i] = vectorstore.Record{ID: c.ID, DocumentID: doc.ID, Content: c.Content, Embedding: embeddings[i], Metadata: meta}
		bm25Chunks[i] = bm25.Chunk{ID: c.ID, Content: c.Content, IndexContent: texts[i], Metadata: meta}
	}
	if err := e.vectors.Insert(records); err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}
	e.bm25.IndexDocument(doc.ID, bm25Chunks)
	return nil
}

// ReindexDocument drops and rebuilds a document's vector and BM25
// indices from its persisted chunk rows. Secondary indices are rebuilt,
// never repaired.
func (e *Engine) ReindexDocument(ctx context.Context, id string) error {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	persisted, err := e.store.ChunksByDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := e.vectors.DeleteByDocumentID(id); err != nil {
		return fmt.Errorf("clearing vectors: %w", err)
	}
	e.bm25.DeleteDocument(id)
	if len(persisted) == 0 {
		return nil
	}
	return e.indexChunks(ctx, *doc, persisted)
}

// GetDocument returns a document by id.
func (e *Engine) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	return e.store.GetDocument(ctx, id)
}

// ListDocuments returns all documents.
func (e *Engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

// DocumentChunks returns a document's chunks ordered by chunk index.
func (e *Engine) DocumentChunks(ctx context.Context, id string) ([]store.DocumentChunk, error) {
	return e.store.ChunksByDocument(ctx, id)
}

// DeleteDocument removes a document, its stored file, its chunk rows,
// and its vector/BM25 index entries.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := e.vectors.DeleteByDocumentID(id); err != nil {
		slog.Warn("delete: clearing vectors failed (non-fatal)", "document", id, "err", err)
	}
	e.bm25.DeleteDocument(id)
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if doc.StoragePath != "" {
		if err := os.Remove(doc.StoragePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("delete: removing stored file failed (non-fatal)", "document", id, "err", err)
		}
	}
	return nil
}

// CreateChatSession creates a new chat session scoped to documentIDs.
func (e *Engine) CreateChatSession(ctx context.Context, documentIDs []string) (*store.ChatSession, error) {
	return e.store.CreateSession(ctx, documentIDs)
}

// Chat runs a chat turn, streaming Chunks to out.
func (e *Engine) Chat(ctx context.Context, req chat.Request, out chan<- chat.Chunk) {
	e.orchestrator.Stream(ctx, req, out)
}

func documentType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext
}

func (e *Engine) allowedType(docType string) bool {
	for _, t := range strings.Split(e.cfg.Document.AllowedTypes, ",") {
		if strings.EqualFold(strings.TrimSpace(t), docType) {
			return true
		}
	}
	return false
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	hash := sha256.Sum256([]byte(base + time.Now().String()))
	return hex.EncodeToString(hash[:8]) + "-" + base
}

func writeToStorage(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}
