package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/archivahq/archiva/pkg/extract"
	"github.com/archivahq/archiva/pkg/observability"
	"github.com/archivahq/archiva/pkg/search"
	"github.com/archivahq/archiva/pkg/store"
	"github.com/archivahq/archiva/pkg/task"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFiles(r.Context(), caller(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if files == nil {
		files = []*store.File{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.store.FileByID(r.Context(), caller(r).UserID, chi.URLParam(r, "fileID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes)

	upload, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer upload.Close()

	fileID := uuid.New().String()
	storedPath := filepath.Join(s.config.Server.UploadDir, fileID+filepath.Ext(header.Filename))
	if err := s.saveUpload(upload, storedPath); err != nil {
		s.logger.Error("failed to store upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	text, err := extract.Text(r.Context(), storedPath, header.Filename)
	if err != nil {
		s.logger.Warn("text extraction failed", "filename", header.Filename, "error", err)
		text = ""
	}

	now := time.Now().UTC()
	file := &store.File{
		ID:              fileID,
		OwnerID:         claims.UserID,
		Filename:        header.Filename,
		ContentType:     header.Header.Get("Content-Type"),
		Size:            header.Size,
		Path:            storedPath,
		TextContent:     text,
		EmbeddingStatus: store.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateFile(r.Context(), file); err != nil {
		os.Remove(storedPath)
		writeError(w, http.StatusInternalServerError, "failed to record file")
		return
	}

	// Indexing runs detached; the upload response does not wait for the
	// embedding backend.
	go func() {
		ctx := context.Background()
		status, err := s.indexer.IndexFile(ctx, file)
		observability.IndexedFilesTotal.WithLabelValues(string(status)).Inc()
		if err != nil {
			s.logger.Error("background indexing failed", "file_id", file.ID, "error", err)
		}
	}()

	s.logger.Info("file uploaded", "file_id", file.ID, "filename", file.Filename, "size", file.Size)
	writeJSON(w, http.StatusCreated, file)
}

func (s *Server) saveUpload(src io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	fileID := chi.URLParam(r, "fileID")

	file, err := s.store.FileByID(r.Context(), claims.UserID, fileID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteFile(r.Context(), claims.UserID, fileID); err != nil {
		writeStoreError(w, err)
		return
	}
	if file.Path != "" {
		if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove stored upload", "path", file.Path, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUpdateTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.UpdateFileTags(r.Context(), caller(r).UserID, chi.URLParam(r, "fileID"), req.Tags); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdateVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsPublic bool `json:"is_public"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.UpdateFileVisibility(r.Context(), caller(r).UserID, chi.URLParam(r, "fileID"), req.IsPublic); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		observability.SearchesTotal.WithLabelValues("keyword").Inc()
		observability.SearchDuration.WithLabelValues("keyword").Observe(time.Since(start).Seconds())
	}()

	claims := caller(r)
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	page, pageSize := pageParams(r)
	scope := scopeParam(r)

	hits, err := s.store.SearchKeyword(r.Context(), claims.UserID, query, scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	ids := make([]string, len(hits))
	relevance := make(map[string]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.FileID
		relevance[hit.FileID] = hit.Relevance
	}
	files, err := s.store.FilesInScope(r.Context(), claims.UserID, ids, scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	byID := make(map[string]*store.File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	type hitResult struct {
		File      *store.File `json:"file"`
		Relevance float64     `json:"relevance"`
	}
	ordered := make([]hitResult, 0, len(hits))
	for _, hit := range hits {
		if f, ok := byID[hit.FileID]; ok {
			ordered = append(ordered, hitResult{File: f, Relevance: relevance[hit.FileID]})
		}
	}

	total := len(ordered)
	pages := (total + pageSize - 1) / pageSize
	startIdx := (page - 1) * pageSize
	if startIdx > total {
		startIdx = total
	}
	endIdx := startIdx + pageSize
	if endIdx > total {
		endIdx = total
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":   ordered[startIdx:endIdx],
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     pages,
	})
}

func (s *Server) handleSmartSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	page, pageSize := pageParams(r)

	resp, err := s.engine.Search(r.Context(), caller(r).UserID, search.Request{
		Query:      query,
		Scope:      scopeParam(r),
		TypeFilter: r.URL.Query().Get("type"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// scopeParam reads the visibility query parameter. The store treats unknown
// values as all.
func scopeParam(r *http.Request) store.VisibilityScope {
	return store.VisibilityScope(r.URL.Query().Get("visibility"))
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileIDs []string `json:"file_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	files, err := s.store.FilesByIDs(r.Context(), caller(r).UserID, req.FileIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type fileStatus struct {
		Status         store.EmbeddingStatus `json:"status"`
		Error          string                `json:"error,omitempty"`
		EmbeddingCount int                   `json:"embedding_count"`
	}
	statuses := make(map[string]fileStatus, len(files))
	for _, f := range files {
		statuses[f.ID] = fileStatus{
			Status:         f.EmbeddingStatus,
			Error:          f.EmbeddingError,
			EmbeddingCount: f.EmbeddingCount,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (s *Server) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	if !s.indexer.Configured() {
		writeError(w, http.StatusServiceUnavailable, "no embedding backend configured")
		return
	}

	var req struct {
		Filter store.ReindexFilter `json:"filter"`
	}
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	files, err := s.store.FilesForReindex(r.Context(), claims.UserID, req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID := s.tasks.Start(files, s.indexer.IndexFile)
	if taskID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"message": "no files to reindex"})
		return
	}

	s.logger.Info("reindex started", "task_id", taskID, "files", len(files), "filter", req.Filter)
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID, "total_files": len(files)})
}

func (s *Server) handleReindexProgress(w http.ResponseWriter, r *http.Request) {
	status, err := s.tasks.Snapshot(chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRetryEmbedding(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	fileID := chi.URLParam(r, "fileID")

	file, err := s.store.FileByID(r.Context(), claims.UserID, fileID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if file.OwnerID != claims.UserID {
		writeError(w, http.StatusForbidden, "only the owner may retry embedding")
		return
	}
	if !s.indexer.Configured() {
		writeError(w, http.StatusServiceUnavailable, "no embedding backend configured")
		return
	}

	if err := s.store.SetEmbeddingStatus(r.Context(), fileID, store.StatusPending, ""); err != nil {
		writeStoreError(w, err)
		return
	}

	go func() {
		status, err := s.indexer.IndexFile(context.Background(), file)
		observability.IndexedFilesTotal.WithLabelValues(string(status)).Inc()
		if err != nil {
			s.logger.Error("retry indexing failed", "file_id", file.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(store.StatusPending)})
}
