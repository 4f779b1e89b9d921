// Package server exposes the archive over HTTP.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archivahq/archiva/pkg/auth"
	"github.com/archivahq/archiva/pkg/config"
	"github.com/archivahq/archiva/pkg/llms"
	"github.com/archivahq/archiva/pkg/rag"
	"github.com/archivahq/archiva/pkg/search"
	"github.com/archivahq/archiva/pkg/session"
	"github.com/archivahq/archiva/pkg/store"
	"github.com/archivahq/archiva/pkg/task"
)

// Server wires the HTTP API to the archive's services.
type Server struct {
	config    *config.Config
	store     *store.Store
	auth      *auth.Manager
	indexer   *rag.Indexer
	assembler *rag.Assembler
	engine    *search.Engine
	tasks     *task.Registry
	sessions  *session.Service
	completer llms.Completer
	logger    *slog.Logger
}

// Deps carries the services the server depends on. Completer may be nil
// when no chat backend is configured.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Auth      *auth.Manager
	Indexer   *rag.Indexer
	Assembler *rag.Assembler
	Engine    *search.Engine
	Tasks     *task.Registry
	Sessions  *session.Service
	Completer llms.Completer
}

// New creates the HTTP server.
func New(deps Deps) *Server {
	return &Server{
		config:    deps.Config,
		store:     deps.Store,
		auth:      deps.Auth,
		indexer:   deps.Indexer,
		assembler: deps.Assembler,
		engine:    deps.Engine,
		tasks:     deps.Tasks,
		sessions:  deps.Sessions,
		completer: deps.Completer,
		logger:    slog.Default(),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.auth))

		r.Get("/api/auth/me", s.handleMe)

		r.Route("/api/files", func(r chi.Router) {
			r.Get("/", s.handleListFiles)
			r.Post("/upload", s.handleUpload)
			r.Get("/search", s.handleKeywordSearch)
			r.Get("/smart-search", s.handleSmartSearch)
			r.Post("/batch-status", s.handleBatchStatus)
			r.Get("/embedding-stats", s.handleEmbeddingStats)
			r.Get("/embedding-status", s.handleEmbeddingStatus)
			r.Post("/reindex", s.handleReindex)
			r.Get("/reindex-progress/{taskID}", s.handleReindexProgress)

			r.Route("/{fileID}", func(r chi.Router) {
				r.Get("/", s.handleGetFile)
				r.Delete("/", s.handleDeleteFile)
				r.Put("/tags", s.handleUpdateTags)
				r.Put("/visibility", s.handleUpdateVisibility)
				r.Post("/retry-embedding", s.handleRetryEmbedding)
			})
		})

		r.Post("/api/chat", s.handleChat)
		r.Get("/api/chat/history", s.handleChatHistory)
		r.Delete("/api/chat/history", s.handleClearChat)

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Delete("/", s.handleDeleteProject)
				r.Put("/files", s.handleProjectFiles)
				r.Post("/chat", s.handleProjectChat)
				r.Get("/messages", s.handleProjectMessages)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
