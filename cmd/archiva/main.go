// Command archiva runs the archive server: file storage, embedding-backed
// retrieval, hybrid search, and chat over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archivahq/archiva/pkg/auth"
	"github.com/archivahq/archiva/pkg/config"
	"github.com/archivahq/archiva/pkg/embedder"
	"github.com/archivahq/archiva/pkg/llms"
	"github.com/archivahq/archiva/pkg/logger"
	"github.com/archivahq/archiva/pkg/rag"
	"github.com/archivahq/archiva/pkg/search"
	"github.com/archivahq/archiva/pkg/server"
	"github.com/archivahq/archiva/pkg/session"
	"github.com/archivahq/archiva/pkg/store"
	"github.com/archivahq/archiva/pkg/task"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archiva: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.Init(logger.ParseLevel(cfg.Logging.Level), os.Stderr, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	manager, err := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer,
		time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	if err != nil {
		return err
	}

	// A missing API key disables embeddings; everything downstream
	// degrades rather than failing.
	var provider embedder.Provider
	if p, err := embedder.NewOpenAIEmbedder(cfg.Embedder); err == nil {
		provider = p
	} else if !errors.Is(err, embedder.ErrNotConfigured) {
		return err
	} else {
		slog.Warn("no embedding backend configured, semantic features disabled")
	}

	var completer llms.Completer
	if c, err := llms.NewOpenAIClient(cfg.LLM); err == nil {
		completer = c
	} else if !errors.Is(err, llms.ErrNotConfigured) {
		return err
	} else {
		slog.Warn("no chat backend configured, chat endpoints disabled")
	}

	chunker := rag.ChunkerConfig{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap}
	tasks := task.NewRegistry(time.Hour)
	defer tasks.Close()
	sessions := session.NewService(time.Hour)
	defer sessions.Close()

	srv := server.New(server.Deps{
		Config:  cfg,
		Store:   st,
		Auth:    manager,
		Indexer: rag.NewIndexer(st, provider, chunker, 4),
		Assembler: rag.NewAssembler(st, provider, rag.AssemblerConfig{
			SimilarityFloor: cfg.Search.SimilarityFloor,
			PriorityBoost:   cfg.Search.PriorityBoost,
		}),
		Engine: search.NewEngine(st, provider, search.Config{
			KeywordFloor:   cfg.Search.KeywordFloor,
			KeywordBoost:   cfg.Search.KeywordBoost,
			SemanticFloor:  cfg.Search.SemanticFloor,
			DualMatchBoost: cfg.Search.DualMatchBoost,
		}),
		Tasks:     tasks,
		Sessions:  sessions,
		Completer: completer,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
