package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"drawing-service/internal/conversion"
	"drawing-service/internal/entity"
	"drawing-service/internal/repository/postgresql"
	"drawing-service/internal/svg"
)

// Repository port (implementation: postgresql.DrawingRepository)
type DrawingRepo interface {
	SelectOldestQueued(ctx context.Context) (*entity.Drawing, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	SetComplete(ctx context.Context, id uuid.UUID, artifactID string) error
	SetFailed(ctx context.Context, id uuid.UUID, errText string) error
}

type Converter interface {
	Convert(ctx context.Context, image io.Reader, filename, style string) (*conversion.Result, error)
}

type BlobStore interface {
	Write(r io.Reader) (string, error)
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
}

const DefaultIdleInterval = 2 * time.Second

// Loop is the single sequential consumer of the queue: it claims the oldest
// queued drawing, runs it end to end, and only then looks for the next one.
type Loop struct {
	repo      DrawingRepo
	converter Converter
	sources   BlobStore
	artifacts BlobStore
	idle      time.Duration
}

func NewLoop(repo DrawingRepo, converter Converter, sources, artifacts BlobStore, idle time.Duration) *Loop {
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	return &Loop{
		repo:      repo,
		converter: converter,
		sources:   sources,
		artifacts: artifacts,
		idle:      idle,
	}
}

// Run polls for queued drawings until the context ends. A job's own failure
// is recorded on the record and never stops the loop; a record-store failure
// is returned so the process exits and the supervisor restarts it.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("[worker] loop started idle_interval=%s", l.idle)

	for {
		if ctx.Err() != nil {
			log.Println("[worker] loop stopped")
			return nil
		}

		d, err := l.repo.SelectOldestQueued(ctx)
		if err != nil {
			if errors.Is(err, postgresql.ErrNoQueued) {
				select {
				case <-ctx.Done():
				case <-time.After(l.idle):
				}
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("select queued drawing: %w", err)
		}

		claimed, err := l.repo.Claim(ctx, d.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("claim drawing %s: %w", d.ID, err)
		}
		if !claimed {
			// someone else got it (or a sweep moved it); pick again
			continue
		}

		if err := l.execute(ctx, d); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// execute runs one claimed drawing to a terminal state. Only record-store
// errors propagate; everything job-specific ends up in SetFailed.
func (l *Loop) execute(ctx context.Context, d *entity.Drawing) (err error) {
	start := time.Now()
	log.Printf("[worker] drawing_id=%s style=%s status=processing", d.ID, d.Style)

	// The source blob is released whatever the outcome. Failure to delete
	// is logged, not fatal.
	defer func() {
		if d.SourcePath == "" {
			return
		}
		if delErr := l.sources.Delete(d.SourcePath); delErr != nil {
			log.Printf("[worker] drawing_id=%s source_delete error=%v", d.ID, delErr)
		}
	}()

	// A panic inside a single job must not take the loop down.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] drawing_id=%s panic=%v", d.ID, r)
			err = l.fail(ctx, d, start, fmt.Sprintf("internal error: %v", r))
		}
	}()

	src, err := l.sources.Open(d.SourcePath)
	if err != nil {
		return l.fail(ctx, d, start, "source image unavailable: "+err.Error())
	}

	result, convErr := l.converter.Convert(ctx, src, d.Name, d.Style)
	src.Close()
	if convErr != nil {
		return l.fail(ctx, d, start, failureMessage(convErr))
	}

	processed := svg.AddPathIDs(result.SVG)
	for _, w := range result.Warnings {
		log.Printf("[worker] drawing_id=%s warning=%q", d.ID, w)
	}

	artifactID, err := l.artifacts.Write(strings.NewReader(processed))
	if err != nil {
		return l.fail(ctx, d, start, "storing artifact failed: "+err.Error())
	}

	if err := l.repo.SetComplete(ctx, d.ID, artifactID); err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			// record deleted or reclaimed while we worked; drop the artifact
			log.Printf("[worker] drawing_id=%s vanished before finalize, discarding artifact", d.ID)
			if delErr := l.artifacts.Delete(artifactID); delErr != nil {
				log.Printf("[worker] artifact_id=%s orphan_cleanup error=%v", artifactID, delErr)
			}
			return nil
		}
		return fmt.Errorf("finalize drawing %s: %w", d.ID, err)
	}

	log.Printf("[worker] drawing_id=%s status=complete paths=%d duration_ms=%d",
		d.ID, result.Metrics.PathCount, time.Since(start).Milliseconds())
	return nil
}

func (l *Loop) fail(ctx context.Context, d *entity.Drawing, start time.Time, msg string) error {
	if err := l.repo.SetFailed(ctx, d.ID, msg); err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			log.Printf("[worker] drawing_id=%s vanished before failure could be recorded", d.ID)
			return nil
		}
		return fmt.Errorf("record failure for drawing %s: %w", d.ID, err)
	}
	log.Printf("[worker] drawing_id=%s status=failed duration_ms=%d error=%s",
		d.ID, time.Since(start).Milliseconds(), msg)
	return nil
}

// failureMessage prefers the classified detail so a polling client sees
// "unsupported format", not a wrapped transport error.
func failureMessage(err error) string {
	var convErr *conversion.Error
	if errors.As(err, &convErr) {
		return convErr.Detail
	}
	return err.Error()
}
