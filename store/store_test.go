//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_DocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertDocument(ctx, Document{
		Filename:    "report.pdf",
		Type:        "pdf",
		SizeBytes:   1024,
		StoragePath: "/data/report.pdf",
	})
	if err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != StatusUploading {
		t.Errorf("status = %q, want %q", doc.Status, StatusUploading)
	}

	if err := s.UpdateDocumentStatus(ctx, id, StatusProcessing); err != nil {
		t.Fatalf("UpdateDocumentStatus: %v", err)
	}
	if err := s.CompleteIngest(ctx, id, 3, "full text here"); err != nil {
		t.Fatalf("CompleteIngest: %v", err)
	}

	doc, err = s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument after ingest: %v", err)
	}
	if doc.Status != StatusReady || doc.ChunkCount != 3 || doc.FullText != "full text here" {
		t.Errorf("unexpected document after ingest: %+v", doc)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}

	if err := s.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(ctx, id); err == nil {
		t.Error("GetDocument after delete: expected error, got nil")
	}
}

func TestStore_ChunksCascadeDeleteWithDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.InsertDocument(ctx, Document{Filename: "a.md", Type: "md", StoragePath: "/a.md"})
	if err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	chunks := []DocumentChunk{
		{DocumentID: docID, ChunkIndex: 0, Content: "first", Hierarchy: "Intro", StartPage: 1, EndPage: 1, TokenCount: 5},
		{DocumentID: docID, ChunkIndex: 1, Content: "second", Hierarchy: "Body", StartPage: 2, EndPage: 2, TokenCount: 5},
	}
	if err := s.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	got, err := s.ChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ChunksByDocument: %v", err)
	}
	if len(got) != 2 || got[0].ChunkIndex != 0 || got[1].ChunkIndex != 1 {
		t.Fatalf("unexpected chunk order: %+v", got)
	}

	hierarchies, err := s.DistinctHierarchies(ctx, docID)
	if err != nil {
		t.Fatalf("DistinctHierarchies: %v", err)
	}
	if len(hierarchies) != 2 {
		t.Fatalf("len(hierarchies) = %d, want 2", len(hierarchies))
	}

	if err := s.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	remaining, err := s.ChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ChunksByDocument after delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected chunks cascade-deleted, found %d", len(remaining))
	}
}

func TestStore_ChatSessionAndMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, []string{"doc-1", "doc-2"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(session.DocumentIDs) != 2 {
		t.Fatalf("DocumentIDs = %v, want 2 entries", session.DocumentIDs)
	}

	if _, err := s.SaveMessage(ctx, ChatMessage{SessionID: session.ID, Role: "USER", Content: "hello"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	count, err := s.IncrementMessageCount(ctx, session.ID)
	if err != nil {
		t.Fatalf("IncrementMessageCount: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	msgID2, err := s.SaveMessage(ctx, ChatMessage{SessionID: session.ID, Role: "ASSISTANT", Content: "hi there"})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := s.IncrementMessageCount(ctx, session.ID); err != nil {
		t.Fatalf("IncrementMessageCount: %v", err)
	}

	msgs, err := s.MessagesBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("MessagesBySession: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	if err := s.SetSessionSummary(ctx, session.ID, "a brief summary"); err != nil {
		t.Fatalf("SetSessionSummary: %v", err)
	}
	summary, err := s.SessionSummary(ctx, session.ID)
	if err != nil {
		t.Fatalf("SessionSummary: %v", err)
	}
	if summary != "a brief summary" {
		t.Errorf("summary = %q", summary)
	}

	if err := s.DeleteMessages(ctx, session.ID, []string{msgID2}); err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	msgs, err = s.MessagesBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("MessagesBySession after delete: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("unexpected messages after delete: %+v", msgs)
	}

	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2 (monotonic, unaffected by DeleteMessages)", got.MessageCount)
	}
}
