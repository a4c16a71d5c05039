// Package store persists documents, document chunks, chat sessions, and
// chat messages to SQLite. Vector embeddings and the BM25 index are
// secondary indices of chunks, owned by vectorstore/ and bm25/
// respectively, and are rebuilt from this store's chunk rows rather than
// stored here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document is a row in the documents table.
type Document struct {
	ID          string
	Filename    string
	Type        string
	SizeBytes   int64
	StoragePath string
	Status      string
	ChunkCount  int
	FullText    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document status values: UPLOADING → PROCESSING → READY | FAILED.
const (
	StatusUploading  = "UPLOADING"
	StatusProcessing = "PROCESSING"
	StatusReady      = "READY"
	StatusFailed     = "FAILED"
)

// DocumentChunk is a row in the document_chunks table.
type DocumentChunk struct {
	ID            string
	DocumentID    string
	ChunkIndex    int
	Content       string
	Heading       string
	Hierarchy     string
	StartPage     int
	EndPage       int
	TokenCount    int
	ContextPrefix string
}

// ChatSession is a row in the chat_sessions table. DocumentIDs is the
// CSV column, parsed.
type ChatSession struct {
	ID           string
	DocumentIDs  []string
	Summary      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChatMessage is a row in the chat_messages table. Citations is stored
// serialised (JSON) and left opaque here; the chat orchestrator owns
// its shape.
type ChatMessage struct {
	ID         string
	SessionID  string
	Role       string
	Content    string
	TokenCount int
	Citations  string
	CreatedAt  time.Time
}

// Store wraps the SQLite database backing the relational row store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and applies the
// schema and any pending migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Document operations ---

// InsertDocument creates a document row in the UPLOADING status,
// assigning it a fresh opaque id.
func (s *Store) InsertDocument(ctx context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = StatusUploading
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, type, size_bytes, storage_path, status, chunk_count, full_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Filename, doc.Type, doc.SizeBytes, doc.StoragePath, doc.Status, doc.ChunkCount, doc.FullText)
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	d := &Document{}
	var fullText sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, type, size_bytes, storage_path, status, chunk_count, full_text, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&d.ID, &d.Filename, &d.Type, &d.SizeBytes, &d.StoragePath, &d.Status, &d.ChunkCount, &fullText, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.FullText = fullText.String
	return d, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, type, size_bytes, storage_path, status, chunk_count, full_text, created_at, updated_at
		FROM documents ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var fullText sql.NullString
		if err := rows.Scan(&d.ID, &d.Filename, &d.Type, &d.SizeBytes, &d.StoragePath, &d.Status, &d.ChunkCount, &fullText, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.FullText = fullText.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status column.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// CompleteIngest marks a document READY with its final chunk count and
// canonical full text, in one atomic update.
func (s *Store) CompleteIngest(ctx context.Context, id string, chunkCount int, fullText string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, chunk_count = ?, full_text = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		StatusReady, chunkCount, fullText, id)
	return err
}

// DeleteDocument removes a document; the foreign key cascade removes
// its chunks. Clearing the vector/BM25 indices is the caller's
// responsibility, since those live outside this store.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	return err
}

// --- Chunk operations ---

// InsertChunks inserts a document's chunks in one transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (id, document_id, chunk_index, content, heading, hierarchy, start_page, end_page, token_count, context_prefix)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.ChunkIndex, c.Content, c.Heading, c.Hierarchy, c.StartPage, c.EndPage, c.TokenCount, c.ContextPrefix); err != nil {
				return err
			}
		}
		return nil
	})
}

// ChunksByDocument returns a document's chunks ordered by chunk_index.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, heading, hierarchy, start_page, end_page, token_count, context_prefix
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []DocumentChunk
	for rows.Next() {
		var c DocumentChunk
		var heading, hierarchy, contextPrefix sql.NullString
		var startPage, endPage sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &heading, &hierarchy, &startPage, &endPage, &c.TokenCount, &contextPrefix); err != nil {
			return nil, err
		}
		c.Heading, c.Hierarchy, c.ContextPrefix = heading.String, hierarchy.String, contextPrefix.String
		c.StartPage, c.EndPage = int(startPage.Int64), int(endPage.Int64)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DistinctHierarchies returns the distinct non-empty hierarchy strings
// for a document, used by the retrieval engine's hierarchy prediction.
func (s *Store) DistinctHierarchies(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT hierarchy FROM document_chunks WHERE document_id = ? AND hierarchy IS NOT NULL AND hierarchy != ''",
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- Chat session operations ---

// CreateSession creates a new chat session scoped to documentIDs
// (possibly empty).
func (s *Store) CreateSession(ctx context.Context, documentIDs []string) (*ChatSession, error) {
	id := uuid.NewString()
	csv := strings.Join(documentIDs, ",")
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (id, document_ids) VALUES (?, ?)", id, csv)
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// GetSession retrieves a chat session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	cs := &ChatSession{}
	var documentIDs, summary sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_ids, summary, message_count, created_at, updated_at
		FROM chat_sessions WHERE id = ?
	`, id).Scan(&cs.ID, &documentIDs, &summary, &cs.MessageCount, &cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cs.Summary = summary.String
	cs.DocumentIDs = splitCSV(documentIDs.String)
	return cs, nil
}

// SessionSummary returns a session's persisted summary (possibly empty).
func (s *Store) SessionSummary(ctx context.Context, sessionID string) (string, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT summary FROM chat_sessions WHERE id = ?", sessionID).Scan(&summary)
	if err != nil {
		return "", err
	}
	return summary.String, nil
}

// SetSessionSummary overwrites a session's summary.
func (s *Store) SetSessionSummary(ctx context.Context, sessionID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET summary = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		summary, sessionID)
	return err
}

// IncrementMessageCount bumps a session's messageCount by one and
// returns the new value. The counter is monotonic and is never
// decremented by compaction; it exists to trigger compaction, not to
// reflect the number of physically-persisted rows.
func (s *Store) IncrementMessageCount(ctx context.Context, sessionID string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET message_count = message_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		sessionID)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, "SELECT message_count FROM chat_sessions WHERE id = ?", sessionID).Scan(&count)
	return count, err
}

// --- Chat message operations ---

// SaveMessage persists a chat message, assigning it a fresh id if unset.
func (s *Store) SaveMessage(ctx context.Context, msg ChatMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, token_count, citations)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.TokenCount, msg.Citations)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// MessagesBySession returns a session's messages ascending by
// created_at.
func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, token_count, citations, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var citations sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.TokenCount, &citations, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Citations = citations.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessages removes the given message ids, used by history
// compaction to evict the compacted prefix.
func (s *Store) DeleteMessages(ctx context.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "DELETE FROM chat_messages WHERE id = ? AND session_id = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id, sessionID); err != nil {
				return err
			}
		}
		return nil
	})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
