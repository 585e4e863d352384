package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"drawing-service/internal/entity"
)

// Repository port for the sweeps.
type ReclaimRepository interface {
	SelectExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Drawing, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RequeueStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (requeued, failed int64, err error)
}

// Sweeper reclaims expired guest drawings and rescues jobs stuck in
// processing after a worker crash.
type Sweeper struct {
	repo      ReclaimRepository
	sources   BlobStore
	artifacts BlobStore

	// processing records older than StaleAfter are re-queued, up to
	// MaxAttempts claims per job; beyond that they are failed for good.
	StaleAfter  time.Duration
	MaxAttempts int
}

func NewSweeper(repo ReclaimRepository, sources, artifacts BlobStore) *Sweeper {
	return &Sweeper{
		repo:        repo,
		sources:     sources,
		artifacts:   artifacts,
		StaleAfter:  10 * time.Minute,
		MaxAttempts: 3,
	}
}

// SweepExpired deletes guest drawings past their expiry, together with their
// artifact and any leftover source blob. Blob deletes are idempotent, so a
// sweep interrupted halfway just finishes next tick.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.SelectExpired(ctx, time.Now().UTC(), 100)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, d := range expired {
		if d.ArtifactID != nil {
			if err := s.artifacts.Delete(*d.ArtifactID); err != nil {
				log.Printf("[sweeper] drawing_id=%s artifact_delete error=%v", d.ID, err)
				continue
			}
		}
		if d.SourcePath != "" {
			if err := s.sources.Delete(d.SourcePath); err != nil {
				log.Printf("[sweeper] drawing_id=%s source_delete error=%v", d.ID, err)
			}
		}
		if err := s.repo.Delete(ctx, d.ID); err != nil {
			log.Printf("[sweeper] drawing_id=%s record_delete error=%v", d.ID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// SweepStale re-queues processing jobs whose worker died mid-flight.
func (s *Sweeper) SweepStale(ctx context.Context) (requeued, failed int64, err error) {
	return s.repo.RequeueStale(ctx, s.StaleAfter, s.MaxAttempts)
}

// Run drives both sweeps on a fixed interval until the context ends.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepExpired(ctx); err != nil {
				log.Printf("[sweeper] expired sweep error=%v", err)
			} else if n > 0 {
				log.Printf("[sweeper] reclaimed %d expired guest drawings", n)
			}

			requeued, failed, err := s.SweepStale(ctx)
			if err != nil {
				log.Printf("[sweeper] stale sweep error=%v", err)
				continue
			}
			if requeued > 0 || failed > 0 {
				log.Printf("[sweeper] requeued=%d failed=%d stale processing jobs", requeued, failed)
			}
		}
	}
}
