package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/archivahq/archiva/pkg/llms"
	"github.com/archivahq/archiva/pkg/store"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if projects == nil {
		projects = []*store.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		FileIDs     []string `json:"file_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "project name is required")
		return
	}

	now := time.Now().UTC()
	project := &store.Project{
		ID:          uuid.New().String(),
		OwnerID:     caller(r).UserID,
		Name:        req.Name,
		Description: req.Description,
		FileIDs:     req.FileIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.ProjectByID(r.Context(), caller(r).UserID, chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), caller(r).UserID, chi.URLParam(r, "projectID")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProjectFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileIDs []string `json:"file_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.UpdateProjectFiles(r.Context(), caller(r).UserID, chi.URLParam(r, "projectID"), req.FileIDs); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleProjectChat(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	if s.completer == nil {
		writeError(w, http.StatusServiceUnavailable, "no chat backend configured")
		return
	}

	project, err := s.store.ProjectByID(r.Context(), claims.UserID, chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := decode(r, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	retrieved := s.assembler.RetrieveForFiles(r.Context(), claims.UserID, req.Message, project.FileIDs)

	system := chatSystemPrompt
	if retrieved.ContextBlock != "" {
		system += "\n\n" + retrieved.ContextBlock
	}

	messages := []llms.Message{{Role: "system", Content: system}}
	history, err := s.store.Messages(r.Context(), claims.UserID, project.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, m := range history {
		messages = append(messages, llms.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llms.Message{Role: "user", Content: req.Message})

	answer, err := s.completer.Complete(r.Context(), messages)
	if err != nil {
		s.logger.Error("project chat completion failed", "project_id", project.ID, "error", err)
		writeError(w, http.StatusBadGateway, "chat backend unavailable")
		return
	}

	now := time.Now().UTC()
	sourcesJSON, _ := json.Marshal(retrieved.Sources)
	userMsg := &store.Message{
		ID: uuid.New().String(), ProjectID: project.ID,
		Role: "user", Content: req.Message, CreatedAt: now,
	}
	assistantMsg := &store.Message{
		ID: uuid.New().String(), ProjectID: project.ID,
		Role: "assistant", Content: answer,
		Sources: string(sourcesJSON), CreatedAt: now.Add(time.Millisecond),
	}
	if err := s.store.AppendMessage(r.Context(), userMsg); err != nil {
		s.logger.Warn("failed to persist chat message", "project_id", project.ID, "error", err)
	}
	if err := s.store.AppendMessage(r.Context(), assistantMsg); err != nil {
		s.logger.Warn("failed to persist chat message", "project_id", project.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, Sources: retrieved.Sources})
}

func (s *Server) handleProjectMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.Messages(r.Context(), caller(r).UserID, chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
