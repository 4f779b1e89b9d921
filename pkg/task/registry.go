// Package task tracks background reindex runs in memory.
//
// Tasks are created by a reindex request, progressed by a detached worker,
// and polled by id. Terminal tasks are evicted after a TTL so the registry
// does not grow without bound.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archivahq/archiva/pkg/observability"
	"github.com/archivahq/archiva/pkg/store"
)

// ErrTaskNotFound is returned when polling an unknown or evicted task id.
var ErrTaskNotFound = errors.New("task not found")

// State is a task's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is a point-in-time view of one task.
type Status struct {
	ID         string `json:"id"`
	State      State  `json:"state"`
	TotalFiles int    `json:"total_files"`
	Processed  int    `json:"processed"`

	// CurrentFile is the filename being indexed, empty once the task is
	// terminal.
	CurrentFile string `json:"current_file,omitempty"`

	// Errors lists per-file failures as "filename: reason".
	Errors []string `json:"errors,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// IndexFunc indexes one file and reports its final embedding status.
type IndexFunc func(ctx context.Context, file *store.File) (store.EmbeddingStatus, error)

// Registry holds running and recently finished tasks.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*Status
	ttl    time.Duration
	logger *slog.Logger
	stop   chan struct{}
	once   sync.Once
}

// NewRegistry creates a task registry. Terminal tasks are evicted ttl after
// they finish; a non-positive ttl defaults to one hour.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	r := &Registry{
		tasks:  make(map[string]*Status),
		ttl:    ttl,
		logger: slog.Default(),
		stop:   make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Close stops the eviction goroutine.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.stop) })
}

// Start launches a detached worker indexing the candidate files one by one.
// Returns the new task id, or an empty id when there is nothing to do.
//
// A failure on one file never stops the run: the file's error is recorded,
// progress advances, and the worker moves on.
func (r *Registry) Start(candidates []*store.File, index IndexFunc) string {
	if len(candidates) == 0 {
		return ""
	}

	id := uuid.New().String()
	r.mu.Lock()
	r.tasks[id] = &Status{
		ID:         id,
		State:      StateRunning,
		TotalFiles: len(candidates),
		StartedAt:  time.Now().UTC(),
	}
	r.mu.Unlock()

	go r.run(id, candidates, index)
	return id
}

func (r *Registry) run(id string, candidates []*store.File, index IndexFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reindex worker panicked", "task_id", id, "panic", rec)
			r.finish(id, StateFailed)
		}
	}()

	ctx := context.Background()
	for _, file := range candidates {
		r.update(id, func(s *Status) {
			s.CurrentFile = file.Filename
		})

		status, err := index(ctx, file)
		observability.IndexedFilesTotal.WithLabelValues(string(status)).Inc()

		r.update(id, func(s *Status) {
			s.Processed++
			if err != nil {
				s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", file.Filename, err))
			}
		})
	}

	r.finish(id, StateCompleted)
}

func (r *Registry) update(id string, fn func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.tasks[id]; ok {
		fn(s)
	}
}

func (r *Registry) finish(id string, state State) {
	observability.ReindexTasksTotal.WithLabelValues(string(state)).Inc()
	r.update(id, func(s *Status) {
		s.State = state
		s.CurrentFile = ""
		s.FinishedAt = time.Now().UTC()
	})
	r.logger.Info("reindex task finished", "task_id", id, "state", state)
}

// Snapshot returns a copy of a task's status.
func (r *Registry) Snapshot(id string) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}

	copied := *s
	copied.Errors = append([]string(nil), s.Errors...)
	return &copied, nil
}

func (r *Registry) janitor() {
	interval := r.ttl / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictExpired(time.Now().UTC())
		}
	}
}

// evictExpired drops terminal tasks whose TTL has elapsed.
func (r *Registry) evictExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.tasks {
		if s.State == StateRunning {
			continue
		}
		if now.Sub(s.FinishedAt) >= r.ttl {
			delete(r.tasks, id)
		}
	}
}
