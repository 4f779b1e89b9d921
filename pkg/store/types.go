// Package store persists archive records: users, files, embeddings, projects,
// and project messages. The backing store is SQLite with an FTS5 index for
// lexical search.
package store

import (
	"errors"
	"time"
)

// Sentinel errors distinguishing absence from failure.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// EmbeddingStatus is the indexing lifecycle state of a file.
type EmbeddingStatus string

const (
	// StatusUnset marks files never touched by the indexer.
	StatusUnset EmbeddingStatus = ""

	StatusPending    EmbeddingStatus = "pending"
	StatusProcessing EmbeddingStatus = "processing"
	StatusCompleted  EmbeddingStatus = "completed"
	StatusFailed     EmbeddingStatus = "failed"

	// StatusSkipped marks files with no extractable text.
	StatusSkipped EmbeddingStatus = "skipped"

	// StatusDisabled marks files indexed while no embedding backend was configured.
	StatusDisabled EmbeddingStatus = "disabled"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// File is an archived file record.
type File struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`

	// Path to the stored upload on disk. Empty for text-only records.
	Path string `json:"-"`

	// TextContent is the extracted text used for indexing and search.
	TextContent string   `json:"-"`
	Tags        []string `json:"tags"`
	IsPublic    bool     `json:"is_public"`

	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	EmbeddingError  string          `json:"embedding_error,omitempty"`
	EmbeddingCount  int             `json:"embedding_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbeddingRecord is one embedded chunk of a file.
type EmbeddingRecord struct {
	FileID     string
	ChunkIndex int
	ChunkText  string
	Vector     []float32
}

// KeywordHit is one lexical search result.
type KeywordHit struct {
	FileID string

	// Relevance is the weighted match score. Higher is better.
	Relevance float64
}

// VisibilityScope narrows a search to a slice of the caller's visible files.
type VisibilityScope string

const (
	// ScopeAll covers files the caller owns plus public files. Unknown
	// scopes fall back here.
	ScopeAll VisibilityScope = "all"

	// ScopePublic covers public files regardless of owner.
	ScopePublic VisibilityScope = "public"

	// ScopePrivate covers files the caller owns that are not public.
	ScopePrivate VisibilityScope = "private"
)

// ReindexFilter selects which files a reindex pass covers.
type ReindexFilter string

const (
	ReindexAll ReindexFilter = "all"

	// ReindexFailed selects only files whose last indexing attempt failed.
	ReindexFailed ReindexFilter = "failed"

	// ReindexUnindexed selects files without usable embeddings:
	// failed, skipped, disabled, pending, or never indexed.
	ReindexUnindexed ReindexFilter = "unindexed"
)

// StatusCount is the number of files in one embedding status.
type StatusCount struct {
	Status EmbeddingStatus `json:"status"`
	Count  int             `json:"count"`
}

// ProblemFile describes a file whose indexing did not complete.
type ProblemFile struct {
	ID       string          `json:"id"`
	Filename string          `json:"filename"`
	Status   EmbeddingStatus `json:"status"`
	Error    string          `json:"error,omitempty"`
}

// EmbeddingStats is the per-status breakdown for a caller's visible files.
type EmbeddingStats struct {
	Counts       []StatusCount `json:"counts"`
	ProblemFiles []ProblemFile `json:"problem_files"`
}

// ArchiveStatus summarizes embedding readiness across a caller's visible files.
type ArchiveStatus struct {
	TotalFiles          int  `json:"total_files"`
	FilesWithContent    int  `json:"files_with_content"`
	FilesWithEmbeddings int  `json:"files_with_embeddings"`
	TotalEmbeddings     int  `json:"total_embeddings"`
	RagReady            bool `json:"rag_ready"`
}

// Project is a named working set of files with its own chat history.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	FileIDs     []string  `json:"file_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one chat message persisted under a project.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   string    `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
