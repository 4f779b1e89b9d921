package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// embeddingFetchCap bounds how many chunk vectors one retrieval loads.
const embeddingFetchCap = 5000

// encodeVector serializes a float32 vector as a little-endian blob.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a little-endian blob into a float32 vector.
func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// ReplaceEmbeddings atomically replaces all embeddings for a file with the
// given set. Re-indexing a file never merges old and new chunks.
func (s *Store) ReplaceEmbeddings(ctx context.Context, fileID string, recs []EmbeddingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embeddings (file_id, chunk_index, chunk_text, vector, dim, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		_, err := stmt.ExecContext(ctx, fileID, rec.ChunkIndex, rec.ChunkText,
			encodeVector(rec.Vector), len(rec.Vector), now)
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// EmbeddingsForFiles loads the chunk embeddings of the given files, capped at
// 5000 rows, ordered by file then chunk index.
func (s *Store) EmbeddingsForFiles(ctx context.Context, fileIDs []string) ([]EmbeddingRecord, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(fileIDs)-1) + "?"
	args := make([]any, 0, len(fileIDs)+1)
	for _, id := range fileIDs {
		args = append(args, id)
	}
	args = append(args, embeddingFetchCap)

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, chunk_index, chunk_text, vector FROM embeddings
		 WHERE file_id IN (`+placeholders+`)
		 ORDER BY file_id, chunk_index LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var recs []EmbeddingRecord
	for rows.Next() {
		var rec EmbeddingRecord
		var blob []byte
		if err := rows.Scan(&rec.FileID, &rec.ChunkIndex, &rec.ChunkText, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		rec.Vector = decodeVector(blob)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteEmbeddings removes all embeddings for a file and returns the count
// removed.
func (s *Store) DeleteEmbeddings(ctx context.Context, fileID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted embeddings: %w", err)
	}
	return n, nil
}

// CountEmbeddedFiles returns how many of the given files have at least one
// embedding.
func (s *Store) CountEmbeddedFiles(ctx context.Context, fileIDs []string) (int, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(fileIDs)-1) + "?"
	args := make([]any, len(fileIDs))
	for i, id := range fileIDs {
		args[i] = id
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT file_id) FROM embeddings WHERE file_id IN (`+placeholders+`)`,
		args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count embedded files: %w", err)
	}
	return count, nil
}

// AccessibleFileIDs returns the ids of all files visible to the caller.
func (s *Store) AccessibleFileIDs(ctx context.Context, callerID string) ([]string, error) {
	return s.FileIDsInScope(ctx, callerID, ScopeAll)
}

// FileIDsInScope returns the ids of the files inside the visibility scope.
func (s *Store) FileIDsInScope(ctx context.Context, callerID string, scope VisibilityScope) ([]string, error) {
	cond, args := scopeCondition("", callerID, scope)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM files WHERE `+cond, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accessible files: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan file id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
