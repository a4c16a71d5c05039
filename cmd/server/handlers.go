package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brunobiangulo/docqa"
	"github.com/brunobiangulo/docqa/chat"
	"github.com/brunobiangulo/docqa/store"
)

type handler struct {
	engine *docqa.Engine
}

func newHandler(e *docqa.Engine) *handler {
	return &handler{engine: e}
}

// DocumentDto is the wire shape for a document, including the parsed
// full text.
type DocumentDto struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Type       string `json:"type"`
	SizeBytes  int64  `json:"sizeBytes"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunkCount"`
	FullText   string `json:"fullText,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func toDocumentDto(d *store.Document) DocumentDto {
	return DocumentDto{
		ID:         d.ID,
		Filename:   d.Filename,
		Type:       d.Type,
		SizeBytes:  d.SizeBytes,
		Status:     d.Status,
		ChunkCount: d.ChunkCount,
		FullText:   d.FullText,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  d.UpdatedAt.Format(time.RFC3339),
	}
}

// ChunkDto is the wire shape for a document chunk.
type ChunkDto struct {
	ID         string `json:"id"`
	ChunkIndex int    `json:"chunkIndex"`
	Content    string `json:"content"`
	Heading    string `json:"heading,omitempty"`
	Hierarchy  string `json:"hierarchy,omitempty"`
	StartPage  int    `json:"startPage,omitempty"`
	EndPage    int    `json:"endPage,omitempty"`
	TokenCount int    `json:"tokenCount"`
}

func toChunkDto(c store.DocumentChunk) ChunkDto {
	return ChunkDto{
		ID:         c.ID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Heading:    c.Heading,
		Hierarchy:  c.Hierarchy,
		StartPage:  c.StartPage,
		EndPage:    c.EndPage,
		TokenCount: c.TokenCount,
	}
}

// POST /api/documents
// Multipart upload with field "file"; query param skipEnrichment=true
// disables the contextual enrichment pass for this document even when
// it is enabled globally.
func (h *handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with a 'file' field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	skipEnrichment := r.URL.Query().Get("skipEnrichment") == "true"

	doc, err := h.engine.UploadDocument(r.Context(), header.Filename, header.Size, file, skipEnrichment)
	if err != nil {
		writeEngineError(w, "upload failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentDto(doc))
}

// POST /api/documents/{id}/reindex
// Drops and rebuilds the document's vector and BM25 indices from its
// persisted chunks.
func (h *handler) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.ReindexDocument(r.Context(), id); err != nil {
		writeEngineError(w, "reindex failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}
	dtos := make([]DocumentDto, len(docs))
	for i, d := range docs {
		dtos[i] = toDocumentDto(&d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeEngineError(w, "document not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDto(doc))
}

// GET /api/documents/{id}/content
func (h *handler) handleGetDocumentContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeEngineError(w, "document not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": doc.FullText})
}

// GET /api/documents/{id}/chunks
func (h *handler) handleGetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chunks, err := h.engine.DocumentChunks(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load chunks")
		slog.Error("document chunks error", "document_id", id, "error", err)
		return
	}
	dtos := make([]ChunkDto, len(chunks))
	for i, c := range chunks {
		dtos[i] = toChunkDto(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DELETE /api/documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		writeEngineError(w, "delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/chat/sessions
func (h *handler) handleCreateChatSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var ids []string
	if req.DocumentID != "" {
		ids = strings.Split(req.DocumentID, ",")
	}

	session, err := h.engine.CreateChatSession(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		slog.Error("create chat session error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDto(session))
}

// SessionDto is the wire shape for a chat session.
type SessionDto struct {
	ID           string `json:"id"`
	DocumentIDs  []string `json:"documentIds"`
	Summary      string `json:"summary,omitempty"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func toSessionDto(s *store.ChatSession) SessionDto {
	return SessionDto{
		ID:           s.ID,
		DocumentIDs:  s.DocumentIDs,
		Summary:      s.Summary,
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    s.UpdatedAt.Format(time.RFC3339),
	}
}

// POST /api/chat
// Buffers the streamed reply into a single ChatChunkDto response for
// non-streaming clients.
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string `json:"query"`
		SessionID  string `json:"sessionId"`
		DocumentID string `json:"documentId,omitempty"`
		ModelType  string `json:"modelType,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "query and sessionId are required")
		return
	}

	out := make(chan chat.Chunk)
	go h.engine.Chat(r.Context(), chat.Request{
		Query:      req.Query,
		SessionID:  req.SessionID,
		DocumentID: req.DocumentID,
		ModelType:  req.ModelType,
	}, out)

	var content strings.Builder
	var final chat.Chunk
	for c := range out {
		content.WriteString(c.Content)
		final = c
	}
	final.Content = content.String()
	writeJSON(w, http.StatusOK, final)
}

// GET /api/chat/stream
// Streams chat chunks as SSE (`data: <json>\n\n`), terminating after
// the frame with complete:true.
func (h *handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	sessionID := q.Get("sessionId")
	if query == "" || sessionID == "" {
		writeError(w, http.StatusBadRequest, "query and sessionId are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	out := make(chan chat.Chunk)
	go h.engine.Chat(r.Context(), chat.Request{
		Query:      query,
		SessionID:  sessionID,
		DocumentID: q.Get("documentId"),
		ModelType:  q.Get("model"),
	}, out)

	for c := range out {
		data, err := json.Marshal(c)
		if err != nil {
			slog.Error("chat stream: marshaling chunk failed", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps a docqa.Error (or generic error) to its HTTP
// status, falling back to 500 for anything not classified.
func writeEngineError(w http.ResponseWriter, fallbackMsg string, err error) {
	var de *docqa.Error
	if errors.As(err, &de) {
		writeError(w, de.HTTPStatus(), de.Message)
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, fallbackMsg)
	slog.Error(fallbackMsg, "error", err)
}
