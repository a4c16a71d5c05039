package store

import (
	"context"

	"github.com/brunobiangulo/docqa/history"
	"github.com/brunobiangulo/docqa/retrieval"
)

// SessionSource adapts *Store to chat.SessionSource, resolving a
// session's scoped document ids for the orchestrator's
// request-or-session fallback.
type SessionSource struct{ s *Store }

// AsSessionSource returns a chat.SessionSource backed by s. Returned as
// the unexported-shape-compatible method rather than importing chat/
// directly, avoiding any risk of store <-> chat coupling.
func (s *Store) AsSessionSource() SessionSource { return SessionSource{s} }

func (ss SessionSource) SessionDocumentIDs(ctx context.Context, sessionID string) ([]string, error) {
	session, err := ss.s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.DocumentIDs, nil
}

// DocumentSource adapts *Store to retrieval.DocumentSource, the
// narrow interface the retrieval engine uses to look up a document's
// size/full-text (for the small-document shortcut) and its distinct
// chunk hierarchies (for hierarchy-scoped dense search).
type DocumentSource struct{ s *Store }

// AsDocumentSource returns a retrieval.DocumentSource backed by s.
func (s *Store) AsDocumentSource() retrieval.DocumentSource { return DocumentSource{s} }

func (d DocumentSource) Get(ctx context.Context, documentID string) (retrieval.DocumentInfo, error) {
	doc, err := d.s.GetDocument(ctx, documentID)
	if err != nil {
		return retrieval.DocumentInfo{}, err
	}
	return retrieval.DocumentInfo{
		ID:         doc.ID,
		Filename:   doc.Filename,
		ChunkCount: doc.ChunkCount,
		FullText:   doc.FullText,
	}, nil
}

func (d DocumentSource) DistinctHierarchies(ctx context.Context, documentID string) ([]string, error) {
	return d.s.DistinctHierarchies(ctx, documentID)
}

// HistoryRepository adapts *Store to history.Repository, the chat
// context manager's persistence contract.
type HistoryRepository struct{ s *Store }

// AsHistoryRepository returns a history.Repository backed by s.
func (s *Store) AsHistoryRepository() history.Repository { return HistoryRepository{s} }

func (r HistoryRepository) SaveMessage(ctx context.Context, msg history.Message) error {
	_, err := r.s.SaveMessage(ctx, ChatMessage{
		ID:         msg.ID,
		SessionID:  msg.SessionID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		TokenCount: msg.TokenCount,
	})
	if err != nil {
		return err
	}
	_, err = r.s.IncrementMessageCount(ctx, msg.SessionID)
	return err
}

func (r HistoryRepository) Messages(ctx context.Context, sessionID string) ([]history.Message, error) {
	rows, err := r.s.MessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]history.Message, len(rows))
	for i, m := range rows {
		out[i] = history.Message{
			ID:         m.ID,
			SessionID:  m.SessionID,
			Role:       history.Role(m.Role),
			Content:    m.Content,
			TokenCount: m.TokenCount,
			CreatedAt:  m.CreatedAt,
		}
	}
	return out, nil
}

func (r HistoryRepository) DeleteMessages(ctx context.Context, sessionID string, ids []string) error {
	return r.s.DeleteMessages(ctx, sessionID, ids)
}

func (r HistoryRepository) Summary(ctx context.Context, sessionID string) (string, error) {
	return r.s.SessionSummary(ctx, sessionID)
}

func (r HistoryRepository) SetSummary(ctx context.Context, sessionID, summary string) error {
	return r.s.SetSessionSummary(ctx, sessionID, summary)
}

func (r HistoryRepository) MessageCount(ctx context.Context, sessionID string) (int, error) {
	sess, err := r.s.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return sess.MessageCount, nil
}
