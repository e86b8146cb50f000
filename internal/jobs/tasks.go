package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"musicbox/internal/logging"
	"musicbox/internal/metrics"
	"musicbox/internal/services"
	"musicbox/internal/storage"
)

// Task types for catalog maintenance
const (
	TypeBlobDelete   = "blob:delete"
	TypeCatalogPrune = "catalog:prune"
)

// QueueMaintenance receives every maintenance task.
const QueueMaintenance = "maintenance"

// BlobDeletePayload names blobs that still need deleting.
type BlobDeletePayload struct {
	Keys   []string `json:"keys"`
	Reason string   `json:"reason,omitempty"`
}

func NewBlobDeleteTask(keys []string, reason string) (*asynq.Task, error) {
	payload, err := json.Marshal(BlobDeletePayload{Keys: keys, Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blob delete payload: %w", err)
	}
	return asynq.NewTask(TypeBlobDelete, payload), nil
}

func NewCatalogPruneTask() *asynq.Task {
	return asynq.NewTask(TypeCatalogPrune, nil)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqReaper hands failed blob deletes to the worker as retried tasks.
type AsynqReaper struct {
	client   enqueuer
	maxRetry int
	logger   zerolog.Logger
}

func NewAsynqReaper(client *asynq.Client, maxRetry int) *AsynqReaper {
	return &AsynqReaper{client: client, maxRetry: maxRetry, logger: logging.WithModule("jobs")}
}

func (r *AsynqReaper) Reap(ctx context.Context, keys []string, cause error) error {
	if len(keys) == 0 {
		return nil
	}
	task, err := NewBlobDeleteTask(keys, reasonOf(cause))
	if err != nil {
		return err
	}
	info, err := r.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(r.maxRetry),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue blob delete: %w", err)
	}
	r.logger.Info().Str("task_id", info.ID).Strs("blob_keys", keys).Msg("Queued blob delete")
	return nil
}

// LedgerReaper records failed blob deletes in the orphan_blobs table for
// the Sweeper to retry.
type LedgerReaper struct {
	repo *services.Repository
}

func NewLedgerReaper(repo *services.Repository) *LedgerReaper {
	return &LedgerReaper{repo: repo}
}

func (r *LedgerReaper) Reap(ctx context.Context, keys []string, cause error) error {
	return r.repo.RecordOrphanBlobs(ctx, keys, reasonOf(cause))
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Handlers processes maintenance tasks in the worker.
type Handlers struct {
	repo   *services.Repository
	blobs  storage.BlobStore
	logger zerolog.Logger
}

func NewHandlers(repo *services.Repository, blobs storage.BlobStore, logger zerolog.Logger) *Handlers {
	return &Handlers{repo: repo, blobs: blobs, logger: logger}
}

// Register attaches every maintenance handler to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeBlobDelete, h.HandleBlobDelete)
	mux.HandleFunc(TypeCatalogPrune, h.HandleCatalogPrune)
}

// HandleBlobDelete deletes every key in the payload. Any failure fails the
// task so asynq retries it; deletes are idempotent.
func (h *Handlers) HandleBlobDelete(ctx context.Context, t *asynq.Task) (err error) {
	start := time.Now()
	defer func() { observe(ctx, TypeBlobDelete, start, err) }()

	var payload BlobDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal blob delete payload: %v: %w", err, asynq.SkipRetry)
	}

	var failed []string
	for _, key := range payload.Keys {
		if err := h.blobs.Delete(ctx, key); err != nil {
			h.logger.Warn().Err(err).Str("blob_key", key).Msg("Blob delete retry failed")
			failed = append(failed, key)
			continue
		}
		metrics.OrphanBlobsTotal.WithLabelValues("deleted").Inc()
	}
	if len(failed) > 0 {
		metrics.OrphanBlobsTotal.WithLabelValues("failed").Add(float64(len(failed)))
		return fmt.Errorf("failed to delete %d of %d blobs", len(failed), len(payload.Keys))
	}
	return nil
}

// HandleCatalogPrune removes playlist entries whose song no longer exists.
func (h *Handlers) HandleCatalogPrune(ctx context.Context, _ *asynq.Task) (err error) {
	start := time.Now()
	defer func() { observe(ctx, TypeCatalogPrune, start, err) }()

	n, err := h.repo.PruneDanglingMemberships(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.PrunedMembershipsTotal.Add(float64(n))
		h.logger.Info().Int64("pruned", n).Msg("Pruned dangling playlist entries")
	}
	return nil
}

func observe(ctx context.Context, taskType string, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.JobDurationSeconds.WithLabelValues(QueueMaintenance, taskType, status).Observe(elapsed.Seconds())

	// Retry count is absent when a handler is called outside the worker.
	attempt, _ := asynq.GetRetryCount(ctx)
	logging.GetGlobalLogger().LogJobProcessing(QueueMaintenance, taskType, attempt+1, elapsed, err)
}
