package vectorstore

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// SQLite is the persistent vector-store backend. It stores embeddings in
// a sqlite-vec virtual table and metadata/content in a companion
// ordinary table, and applies the Filter's documentId/hierarchy matching
// in Go after the KNN query since sqlite-vec's MATCH operator does not
// itself support arbitrary predicate filters pre-KNN.
type SQLite struct {
	db  *sql.DB
	dim int
}

// NewSQLite opens (and migrates, if needed) the sqlite-vec-backed store.
// db is expected to already have the asg017/sqlite-vec-go-bindings
// extension loaded (see store's driver registration), and dim is the
// embedding dimension the vec0 virtual table is created with.
func NewSQLite(db *sql.DB, dim int) (*SQLite, error) {
	s := &SQLite{db: db, dim: dim}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vectorstore_embeddings USING vec0(
			embedding float[%d] distance_metric=cosine
		);
		CREATE TABLE IF NOT EXISTS vectorstore_records (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL,
			rowid_ref INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vectorstore_records_document ON vectorstore_records(document_id);
	`, s.dim))
	return err
}

func (s *SQLite) Insert(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %s: %w", r.ID, err)
		}

		res, err := tx.Exec(
			"INSERT INTO vectorstore_embeddings (embedding) VALUES (?)",
			serializeFloat32(r.Embedding))
		if err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", r.ID, err)
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO vectorstore_records (id, document_id, content, metadata, rowid_ref)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.DocumentID, r.Content, string(meta), rowid,
		); err != nil {
			return fmt.Errorf("inserting record for %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Search(queryVec []float32, topK int, filter Filter) ([]Result, error) {
	// Over-fetch since filter.matches is applied after the KNN query; the
	// vec0 MATCH operator has no predicate pushdown for our metadata
	// filters, so we widen k and truncate in Go once filtered.
	k := topK
	if len(filter.DocumentIDs) > 0 || filter.Hierarchy != "" {
		k = topK * 10
		if k < 50 {
			k = 50
		}
	}

	rows, err := s.db.Query(`
		SELECT r.id, r.document_id, r.content, r.metadata, v.distance
		FROM vectorstore_embeddings v
		JOIN vectorstore_records r ON r.rowid_ref = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance, v.rowid
	`, serializeFloat32(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var rec Record
		var metaJSON string
		var distance float64
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Content, &metaJSON, &distance); err != nil {
			return nil, err
		}
		meta := map[string]string{}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &meta)
		}
		rec.Metadata = meta

		if !filter.matches(rec) {
			continue
		}
		out = append(out, Result{Record: rec, Score: 1 - distance})
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteByDocumentID(documentID string) error {
	_, err := s.db.Exec(`
		DELETE FROM vectorstore_embeddings WHERE rowid IN (
			SELECT rowid_ref FROM vectorstore_records WHERE document_id = ?
		)`, documentID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("DELETE FROM vectorstore_records WHERE document_id = ?", documentID)
	return err
}

// serializeFloat32 converts a float32 slice to the little-endian byte
// layout sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
