package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	filename         TEXT NOT NULL,
	content_type     TEXT NOT NULL DEFAULT '',
	size             INTEGER NOT NULL DEFAULT 0,
	path             TEXT NOT NULL DEFAULT '',
	text_content     TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	is_public        INTEGER NOT NULL DEFAULT 0,
	embedding_status TEXT NOT NULL DEFAULT '',
	embedding_error  TEXT NOT NULL DEFAULT '',
	embedding_count  INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_id);

CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
	filename, tags, content, file_id UNINDEXED
);

CREATE TABLE IF NOT EXISTS embeddings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id     TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	chunk_text  TEXT NOT NULL,
	vector      BLOB NOT NULL,
	dim         INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_file ON embeddings(file_id);

CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	file_ids    TEXT NOT NULL DEFAULT '[]',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

CREATE TABLE IF NOT EXISTS project_messages (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	sources    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_project ON project_messages(project_id);
`

// Store is the SQLite-backed record store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// visibilityClause restricts rows to files the caller may see:
// files they own, plus public files.
const visibilityClause = "(owner_id = ? OR is_public = 1)"

// scopeCondition builds the SQL predicate for a visibility scope relative to
// the caller. prefix qualifies column names when the query aliases the files
// table. Unknown scopes fall back to ScopeAll.
func scopeCondition(prefix, callerID string, scope VisibilityScope) (string, []any) {
	switch scope {
	case ScopePublic:
		return prefix + "is_public = 1", nil
	case ScopePrivate:
		return "(" + prefix + "owner_id = ? AND " + prefix + "is_public = 0)", []any{callerID}
	default:
		return "(" + prefix + "owner_id = ? OR " + prefix + "is_public = 1)", []any{callerID}
	}
}

// CreateUser inserts a new user. Returns ErrAlreadyExists on a username clash.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByUsername looks up a user by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// UserByID looks up a user by id.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`,
		id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

const fileColumns = `id, owner_id, filename, content_type, size, path, text_content,
	tags, is_public, embedding_status, embedding_error, embedding_count, created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	var tags string
	err := row.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.ContentType, &f.Size, &f.Path,
		&f.TextContent, &tags, &f.IsPublic, &f.EmbeddingStatus, &f.EmbeddingError,
		&f.EmbeddingCount, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &f.Tags); err != nil {
		f.Tags = nil
	}
	return f, nil
}

// CreateFile inserts a file record and its lexical index row.
func (s *Store) CreateFile(ctx context.Context, f *File) error {
	tags, err := json.Marshal(f.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.Filename, f.ContentType, f.Size, f.Path, f.TextContent,
		string(tags), f.IsPublic, f.EmbeddingStatus, f.EmbeddingError,
		f.EmbeddingCount, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO files_fts (filename, tags, content, file_id) VALUES (?, ?, ?, ?)`,
		f.Filename, strings.Join(f.Tags, " "), f.TextContent, f.ID)
	if err != nil {
		return fmt.Errorf("failed to index file: %w", err)
	}

	return tx.Commit()
}

// FileByID fetches a single file visible to the caller.
func (s *Store) FileByID(ctx context.Context, callerID, fileID string) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ? AND `+visibilityClause,
		fileID, callerID)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	return f, nil
}

// FilesByIDs fetches the named files that are visible to the caller.
// Missing or inaccessible ids are silently omitted.
func (s *Store) FilesByIDs(ctx context.Context, callerID string, ids []string) ([]*File, error) {
	return s.FilesInScope(ctx, callerID, ids, ScopeAll)
}

// FilesInScope fetches the named files that fall inside the visibility scope.
// Missing or out-of-scope ids are silently omitted.
func (s *Store) FilesInScope(ctx context.Context, callerID string, ids []string, scope VisibilityScope) ([]*File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cond, condArgs := scopeCondition("", callerID, scope)
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+len(condArgs))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, condArgs...)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id IN (`+placeholders+`) AND `+cond,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListFiles returns all files visible to the caller, newest first.
func (s *Store) ListFiles(ctx context.Context, callerID string) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE `+visibilityClause+` ORDER BY created_at DESC`,
		callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateFileTags replaces a file's tags. Only the owner may modify a file.
func (s *Store) UpdateFileTags(ctx context.Context, ownerID, fileID string, tags []string) error {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET tags = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		string(encoded), time.Now().UTC(), fileID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `UPDATE files_fts SET tags = ? WHERE file_id = ?`,
		strings.Join(tags, " "), fileID)
	if err != nil {
		return fmt.Errorf("failed to reindex tags: %w", err)
	}

	return tx.Commit()
}

// UpdateFileVisibility flips a file between private and public.
func (s *Store) UpdateFileVisibility(ctx context.Context, ownerID, fileID string, isPublic bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET is_public = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		isPublic, time.Now().UTC(), fileID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to update visibility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEmbeddingStatus records a file's indexing state and error reason.
func (s *Store) SetEmbeddingStatus(ctx context.Context, fileID string, status EmbeddingStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET embedding_status = ?, embedding_error = ?, updated_at = ? WHERE id = ?`,
		status, reason, time.Now().UTC(), fileID)
	if err != nil {
		return fmt.Errorf("failed to set embedding status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEmbeddingCompleted marks a file indexed with the given chunk count.
func (s *Store) SetEmbeddingCompleted(ctx context.Context, fileID string, count int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET embedding_status = ?, embedding_error = '', embedding_count = ?, updated_at = ?
		 WHERE id = ?`,
		StatusCompleted, count, time.Now().UTC(), fileID)
	if err != nil {
		return fmt.Errorf("failed to mark embedding completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFile removes a file, its embeddings, and its lexical index row.
// Only the owner may delete a file.
func (s *Store) DeleteFile(ctx context.Context, ownerID, fileID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ? AND owner_id = ?`, fileID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files_fts WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete index row: %w", err)
	}

	return tx.Commit()
}

// reindexCandidateCap bounds one reindex pass.
const reindexCandidateCap = 1000

// FilesForReindex returns the caller's visible files matching the filter,
// capped at 1000 candidates.
func (s *Store) FilesForReindex(ctx context.Context, callerID string, filter ReindexFilter) ([]*File, error) {
	var cond string
	switch filter {
	case ReindexAll, "":
		cond = "1 = 1"
	case ReindexFailed:
		cond = "embedding_status = 'failed'"
	case ReindexUnindexed:
		cond = "embedding_status IN ('failed', 'skipped', 'disabled', 'pending', '')"
	default:
		return nil, fmt.Errorf("unknown reindex filter: %q", filter)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE `+visibilityClause+` AND `+cond+`
		 ORDER BY created_at ASC LIMIT ?`,
		callerID, reindexCandidateCap)
	if err != nil {
		return nil, fmt.Errorf("failed to query reindex candidates: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Stats returns the per-status breakdown and problem files for the caller's
// visible files.
func (s *Store) Stats(ctx context.Context, callerID string) (*EmbeddingStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding_status, COUNT(*) FROM files WHERE `+visibilityClause+`
		 GROUP BY embedding_status`,
		callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status counts: %w", err)
	}
	defer rows.Close()

	stats := &EmbeddingStats{}
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.Counts = append(stats.Counts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	problemRows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, embedding_status, embedding_error FROM files
		 WHERE `+visibilityClause+` AND embedding_status IN ('failed', 'skipped', 'disabled')
		 ORDER BY updated_at DESC`,
		callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query problem files: %w", err)
	}
	defer problemRows.Close()

	for problemRows.Next() {
		var pf ProblemFile
		if err := problemRows.Scan(&pf.ID, &pf.Filename, &pf.Status, &pf.Error); err != nil {
			return nil, fmt.Errorf("failed to scan problem file: %w", err)
		}
		stats.ProblemFiles = append(stats.ProblemFiles, pf)
	}
	return stats, problemRows.Err()
}

// Status summarizes embedding readiness across the caller's visible files.
func (s *Store) Status(ctx context.Context, callerID string) (*ArchiveStatus, error) {
	status := &ArchiveStatus{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(CASE WHEN length(text_content) > 0 THEN 1 END)
		 FROM files WHERE `+visibilityClause,
		callerID).Scan(&status.TotalFiles, &status.FilesWithContent)
	if err != nil {
		return nil, fmt.Errorf("failed to query file counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT e.file_id), COUNT(*)
		 FROM embeddings e JOIN files f ON f.id = e.file_id
		 WHERE (f.owner_id = ? OR f.is_public = 1)`,
		callerID).Scan(&status.FilesWithEmbeddings, &status.TotalEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding counts: %w", err)
	}

	status.RagReady = status.FilesWithEmbeddings > 0
	return status, nil
}
