package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is an embedded persistent vector index backed by a single
// SQLite file. Queries scan every stored vector and rank by cosine
// similarity, which is plenty for policy catalogues of a few hundred rules.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index file and ensures the schema.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rag: open sqlite index %q: %w", path, err)
	}
	// A single writer keeps upserts transactional and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	chunk_id  TEXT NOT NULL,
	version   TEXT NOT NULL,
	vector    BLOB NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rag: ensure sqlite schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Upsert inserts or replaces documents with their vectors.
func (s *SQLiteIndex) Upsert(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("rag: %d documents but %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO documents (id, content, policy_id, chunk_id, version, vector)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	content = excluded.content,
	policy_id = excluded.policy_id,
	chunk_id = excluded.chunk_id,
	version = excluded.version,
	vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("rag: prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, doc := range docs {
		if _, err := stmt.ExecContext(ctx,
			doc.ID, doc.Content,
			doc.Metadata["policy_id"], doc.Metadata["chunk_id"], doc.Metadata["version"],
			encodeVector(vectors[i]),
		); err != nil {
			return fmt.Errorf("rag: upsert document %q: %w", doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: commit upsert: %w", err)
	}
	return nil
}

// Query scans all documents and returns the topK by cosine similarity.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, policy_id, chunk_id, version, vector FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("rag: scan documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var (
			doc                        Document
			policyID, chunkID, version string
			blob                       []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &policyID, &chunkID, &version, &blob); err != nil {
			return nil, fmt.Errorf("rag: scan row: %w", err)
		}
		doc.Metadata = map[string]string{
			"policy_id": policyID,
			"chunk_id":  chunkID,
			"version":   version,
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("rag: document %q: %w", doc.ID, err)
		}
		hits = append(hits, Hit{Document: doc, Score: cosineSimilarity(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: iterate documents: %w", err)
	}

	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Clear removes every document.
func (s *SQLiteIndex) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("rag: clear documents: %w", err)
	}
	return nil
}

// Healthy returns nil if the database file is reachable.
func (s *SQLiteIndex) Healthy(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("rag: sqlite index unhealthy: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// encodeVector packs float32s into a little-endian blob.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("malformed vector blob of %d bytes", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
