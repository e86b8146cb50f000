package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicbox/internal/config"
	"musicbox/internal/models"
	"musicbox/internal/services"
	"musicbox/internal/storage"
	"musicbox/internal/test"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueMaintenance, Type: task.Type()}, nil
}

// stickyStore fails deletes for keys listed in broken.
type stickyStore struct {
	*storage.MemoryStore
	broken map[string]bool
}

func (s *stickyStore) Delete(ctx context.Context, key string) error {
	if s.broken[key] {
		return errors.New("bucket unavailable")
	}
	return s.MemoryStore.Delete(ctx, key)
}

func newStickyStore(t *testing.T, keys ...string) *stickyStore {
	t.Helper()
	s := &stickyStore{MemoryStore: storage.NewMemoryStore("http://m"), broken: map[string]bool{}}
	for _, k := range keys {
		_, err := s.Put(context.Background(), k, []byte(k), "audio/mpeg")
		require.NoError(t, err)
	}
	return s
}

func TestAsynqReaper_EnqueuesBlobDelete(t *testing.T) {
	fake := &fakeEnqueuer{}
	var logs bytes.Buffer
	reaper := &AsynqReaper{client: fake, maxRetry: 5, logger: zerolog.New(&logs)}

	require.NoError(t, reaper.Reap(context.Background(), []string{"a.mp3", "covers/a.jpg"}, errors.New("timeout")))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TypeBlobDelete, fake.tasks[0].Type())

	var payload BlobDeletePayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	assert.Equal(t, []string{"a.mp3", "covers/a.jpg"}, payload.Keys)
	assert.Equal(t, "timeout", payload.Reason)
	assert.Contains(t, logs.String(), `"task_id":"task-1"`)
	assert.Contains(t, logs.String(), "Queued blob delete")

	require.NoError(t, reaper.Reap(context.Background(), nil, nil))
	assert.Len(t, fake.tasks, 1)
}

func TestAsynqReaper_EnqueueError(t *testing.T) {
	reaper := &AsynqReaper{client: &fakeEnqueuer{err: errors.New("redis down")}}
	assert.Error(t, reaper.Reap(context.Background(), []string{"a"}, nil))
}

func TestHandleBlobDelete(t *testing.T) {
	store := newStickyStore(t, "a.mp3", "b.mp3")
	h := NewHandlers(nil, store, zerolog.Nop())

	task, err := NewBlobDeleteTask([]string{"a.mp3", "b.mp3", "gone.mp3"}, "")
	require.NoError(t, err)
	require.NoError(t, h.HandleBlobDelete(context.Background(), task))
	assert.Empty(t, store.Keys())

	store = newStickyStore(t, "c.mp3")
	store.broken["c.mp3"] = true
	h = NewHandlers(nil, store, zerolog.Nop())
	task, err = NewBlobDeleteTask([]string{"c.mp3"}, "")
	require.NoError(t, err)
	assert.Error(t, h.HandleBlobDelete(context.Background(), task))

	err = h.HandleBlobDelete(context.Background(), asynq.NewTask(TypeBlobDelete, []byte("{broken")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func seedDangling(t *testing.T, repo *services.Repository) {
	t.Helper()
	ctx := context.Background()
	p, err := repo.EnsurePlaylist(ctx, "default")
	require.NoError(t, err)
	require.NoError(t, repo.CreateSong(ctx, &models.Song{ID: "s1", Name: "one", BlobKey: "one.mp3", UploadedAt: time.Now().UTC()}, p.ID))
	_, err = repo.AddMemberships(ctx, p.ID, []string{"ghost"})
	require.NoError(t, err)
}

func TestHandleCatalogPrune(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := services.NewRepository(db)
	seedDangling(t, repo)

	h := NewHandlers(repo, storage.NewMemoryStore("http://m"), zerolog.Nop())
	require.NoError(t, h.HandleCatalogPrune(context.Background(), NewCatalogPruneTask()))

	rows, err := repo.ListMemberships(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].SongID)
}

func TestLedgerReaperAndSweeper(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := services.NewRepository(db)
	ctx := context.Background()

	store := newStickyStore(t, "a.mp3", "b.mp3")
	store.broken["b.mp3"] = true

	require.NoError(t, NewLedgerReaper(repo).Reap(ctx, []string{"a.mp3", "b.mp3"}, errors.New("first try failed")))

	sweeper := NewSweeper(repo, store, config.JobsConfig{MaxAttempts: 2, SweepBatchSize: 10}, zerolog.Nop())

	res, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Deleted: 1, Failed: 1}, res)
	assert.Equal(t, []string{"b.mp3"}, store.Keys())

	res, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1}, res)

	// b.mp3 has reached MaxAttempts and is no longer retried.
	res, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestSweeper_Prune(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := services.NewRepository(db)
	seedDangling(t, repo)

	sweeper := NewSweeper(repo, storage.NewMemoryStore("http://m"), config.JobsConfig{}, zerolog.Nop())
	n, err := sweeper.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSweeper_StartValidatesSchedules(t *testing.T) {
	bad := NewSweeper(nil, nil, config.JobsConfig{SweepSchedule: "not a schedule", PruneSchedule: "@every 1h"}, zerolog.Nop())
	assert.Error(t, bad.Start())

	good := NewSweeper(nil, nil, config.JobsConfig{SweepSchedule: "@every 1h", PruneSchedule: "@daily"}, zerolog.Nop())
	require.NoError(t, good.Start())
	<-good.Stop().Done()
}
