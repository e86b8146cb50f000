package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"musicbox/internal/config"
	"musicbox/internal/metrics"
	"musicbox/internal/services"
	"musicbox/internal/storage"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Deleted int
	Failed  int
}

// Sweeper retries orphaned blob deletes from the ledger and prunes dangling
// playlist entries on a cron schedule. It runs in the server process when
// no Redis-backed worker is configured.
type Sweeper struct {
	repo   *services.Repository
	blobs  storage.BlobStore
	cfg    config.JobsConfig
	cron   *cron.Cron
	logger zerolog.Logger
	mu     sync.Mutex
}

func NewSweeper(repo *services.Repository, blobs storage.BlobStore, cfg config.JobsConfig, logger zerolog.Logger) *Sweeper {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Sweeper{
		repo:   repo,
		blobs:  blobs,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start registers the sweep and prune schedules and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() {
		if _, err := s.SweepOnce(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Orphan blob sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, func() {
		if _, err := s.Prune(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Membership prune failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.cfg.PruneSchedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("sweep", s.cfg.SweepSchedule).Str("prune", s.cfg.PruneSchedule).Msg("Sweeper started")
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs finish.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// SweepOnce retries one batch of orphaned blobs. Entries that keep failing
// stop being retried after MaxAttempts.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult
	orphans, err := s.repo.ListOrphanBlobs(ctx, s.cfg.SweepBatchSize, s.cfg.MaxAttempts)
	if err != nil {
		return res, err
	}

	for _, o := range orphans {
		if err := s.blobs.Delete(ctx, o.Key); err != nil {
			res.Failed++
			metrics.OrphanBlobsTotal.WithLabelValues("failed").Inc()
			if markErr := s.repo.MarkOrphanAttempt(ctx, o.ID, err.Error()); markErr != nil {
				return res, markErr
			}
			if o.Attempts+1 >= s.cfg.MaxAttempts {
				s.logger.Error().Err(err).Str("blob_key", o.Key).Msg("Giving up on orphaned blob")
			}
			continue
		}
		if err := s.repo.DeleteOrphanBlob(ctx, o.ID); err != nil {
			return res, err
		}
		res.Deleted++
		metrics.OrphanBlobsTotal.WithLabelValues("deleted").Inc()
	}

	if len(orphans) > 0 {
		s.logger.Info().Int("deleted", res.Deleted).Int("failed", res.Failed).Msg("Orphan blob sweep finished")
	}
	return res, nil
}

// Prune removes playlist entries whose song no longer exists.
func (s *Sweeper) Prune(ctx context.Context) (int64, error) {
	n, err := s.repo.PruneDanglingMemberships(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.PrunedMembershipsTotal.Add(float64(n))
		s.logger.Info().Int64("pruned", n).Msg("Pruned dangling playlist entries")
	}
	return n, nil
}
