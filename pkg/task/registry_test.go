package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivahq/archiva/pkg/store"
)

func candidates(n int) []*store.File {
	files := make([]*store.File, n)
	for i := range files {
		files[i] = &store.File{
			ID:       fmt.Sprintf("f%d", i+1),
			Filename: fmt.Sprintf("file%d.txt", i+1),
		}
	}
	return files
}

// waitTerminal polls until the task leaves the running state.
func waitTerminal(t *testing.T, r *Registry, id string) *Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := r.Snapshot(id)
		require.NoError(t, err)
		if s.State != StateRunning {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not finish in time")
	return nil
}

func TestStartEmptyCandidates(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	id := r.Start(nil, func(ctx context.Context, f *store.File) (store.EmbeddingStatus, error) {
		t.Fatal("index func should not run")
		return store.StatusCompleted, nil
	})
	assert.Empty(t, id)
}

func TestRunSurvivesPerFileFailures(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	id := r.Start(candidates(5), func(ctx context.Context, f *store.File) (store.EmbeddingStatus, error) {
		if f.ID == "f3" {
			return store.StatusFailed, errors.New("backend exploded")
		}
		return store.StatusCompleted, nil
	})
	require.NotEmpty(t, id)

	s := waitTerminal(t, r, id)
	assert.Equal(t, StateCompleted, s.State)
	assert.Equal(t, 5, s.TotalFiles)
	assert.Equal(t, 5, s.Processed)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "file3.txt: backend exploded", s.Errors[0])
	assert.Empty(t, s.CurrentFile)
	assert.False(t, s.FinishedAt.IsZero())
}

func TestSnapshotUnknownID(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	_, err := r.Snapshot("no-such-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	id := r.Start(candidates(1), func(ctx context.Context, f *store.File) (store.EmbeddingStatus, error) {
		return store.StatusFailed, errors.New("nope")
	})
	s := waitTerminal(t, r, id)

	s.Errors[0] = "mutated"
	fresh, err := r.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "file1.txt: nope", fresh.Errors[0])
}

func TestEvictExpired(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	id := r.Start(candidates(1), func(ctx context.Context, f *store.File) (store.EmbeddingStatus, error) {
		return store.StatusCompleted, nil
	})
	waitTerminal(t, r, id)

	// Not yet expired.
	r.evictExpired(time.Now().UTC())
	_, err := r.Snapshot(id)
	require.NoError(t, err)

	// Past the TTL the task is gone.
	r.evictExpired(time.Now().UTC().Add(2 * time.Minute))
	_, err = r.Snapshot(id)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestEvictSkipsRunningTasks(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	release := make(chan struct{})
	id := r.Start(candidates(1), func(ctx context.Context, f *store.File) (store.EmbeddingStatus, error) {
		<-release
		return store.StatusCompleted, nil
	})

	r.evictExpired(time.Now().UTC().Add(24 * time.Hour))
	_, err := r.Snapshot(id)
	assert.NoError(t, err)

	close(release)
	waitTerminal(t, r, id)
}

func TestWorkerPanicMarksTaskFailed(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	id := r.Start(candidates(1), func(ctx context.Context, f *store.File) (store.EmbeddingStatus, error) {
		panic("boom")
	})

	s := waitTerminal(t, r, id)
	assert.Equal(t, StateFailed, s.State)
}
