package server

import (
	"net/http"

	"github.com/archivahq/archiva/pkg/llms"
	"github.com/archivahq/archiva/pkg/rag"
	"github.com/archivahq/archiva/pkg/session"
)

const chatSystemPrompt = "You are an assistant answering questions about the user's file archive. " +
	"Ground your answers in the provided archive excerpts when they are relevant, " +
	"and say so plainly when the archive does not cover the question."

type chatRequest struct {
	Message string `json:"message"`

	// PriorityFileIDs boosts freshly uploaded files in retrieval so a
	// question about a just-added document finds it.
	PriorityFileIDs []string `json:"priority_file_ids,omitempty"`
}

type chatResponse struct {
	Answer  string       `json:"answer"`
	Sources []rag.Source `json:"sources"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	if s.completer == nil {
		writeError(w, http.StatusServiceUnavailable, "no chat backend configured")
		return
	}

	var req chatRequest
	if err := decode(r, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	retrieved := s.assembler.Retrieve(r.Context(), claims.UserID, req.Message, req.PriorityFileIDs)

	system := chatSystemPrompt
	if retrieved.ContextBlock != "" {
		system += "\n\n" + retrieved.ContextBlock
	}

	messages := []llms.Message{{Role: "system", Content: system}}
	for _, m := range s.sessions.History(claims.UserID) {
		messages = append(messages, llms.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llms.Message{Role: "user", Content: req.Message})

	answer, err := s.completer.Complete(r.Context(), messages)
	if err != nil {
		s.logger.Error("chat completion failed", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusBadGateway, "chat backend unavailable")
		return
	}

	s.sessions.Append(claims.UserID, "user", req.Message)
	s.sessions.Append(claims.UserID, "assistant", answer)

	sources := retrieved.Sources
	if sources == nil {
		sources = []rag.Source{}
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, Sources: sources})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	history := s.sessions.History(caller(r).UserID)
	if history == nil {
		history = []session.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(caller(r).UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
