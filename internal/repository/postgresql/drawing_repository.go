package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drawing-service/internal/entity"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNoQueued = errors.New("no queued drawings")
)

type DrawingRepository struct {
	pool *pgxpool.Pool
}

func NewDrawingRepository(pool *pgxpool.Pool) *DrawingRepository {
	return &DrawingRepository{pool: pool}
}

type CreateParams struct {
	Name       string
	Style      string
	SourcePath string
	UserID     *string
	SessionID  *string
	IsGuest    bool
	ExpiresAt  *time.Time
}

func (r *DrawingRepository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	const q = `
INSERT INTO drawings (name, style, status, source_path, user_id, session_id, is_guest, expires_at)
VALUES ($1, $2, 'queued', $3, $4, $5, $6, $7)
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q,
		p.Name, p.Style, p.SourcePath, p.UserID, p.SessionID, p.IsGuest, p.ExpiresAt,
	).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

const drawingColumns = `
id, name, style, status, source_path, user_id, session_id, is_guest,
artifact_id, error_message, attempts, created_at, updated_at,
processing_started_at, expires_at`

func (r *DrawingRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Drawing, error) {
	q := `SELECT ` + drawingColumns + ` FROM drawings WHERE id = $1;`

	d, err := scanDrawing(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// SelectOldestQueued returns the queued drawing with the earliest created_at,
// so the queue is FIFO among visible records.
func (r *DrawingRepository) SelectOldestQueued(ctx context.Context) (*entity.Drawing, error) {
	q := `SELECT ` + drawingColumns + `
FROM drawings
WHERE status = 'queued'
ORDER BY created_at ASC
LIMIT 1;`

	d, err := scanDrawing(r.pool.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoQueued
		}
		return nil, err
	}
	return d, nil
}

// Claim moves a drawing to processing, but only if it is still queued.
// Returns false when another claimant (or a sweep) got there first, so a
// second concurrent worker loses cleanly instead of double-processing.
func (r *DrawingRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE drawings
SET status='processing', processing_started_at=now(), attempts=attempts+1, updated_at=now()
WHERE id=$1 AND status='queued';
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DrawingRepository) SetComplete(ctx context.Context, id uuid.UUID, artifactID string) error {
	const q = `
UPDATE drawings
SET status='complete', artifact_id=$2, error_message=NULL, updated_at=now()
WHERE id=$1 AND status='processing';
`
	tag, err := r.pool.Exec(ctx, q, id, artifactID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DrawingRepository) SetFailed(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `
UPDATE drawings
SET status='failed', error_message=$2, artifact_id=NULL, updated_at=now()
WHERE id=$1 AND status='processing';
`
	tag, err := r.pool.Exec(ctx, q, id, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DrawingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM drawings WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SelectExpired returns guest drawings whose expires_at has passed. The
// caller deletes their blobs and records (reclamation sweep).
func (r *DrawingRepository) SelectExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Drawing, error) {
	q := `SELECT ` + drawingColumns + `
FROM drawings
WHERE expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2;`

	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Drawing
	for rows.Next() {
		d, err := scanDrawing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RequeueStale handles processing records whose worker died: records stuck
// longer than olderThan go back to queued for a re-claim, unless they already
// burned maxAttempts, in which case they are failed for good.
func (r *DrawingRepository) RequeueStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (requeued, failed int64, err error) {
	cutoff := time.Now().Add(-olderThan)

	const requeueQ = `
UPDATE drawings
SET status='queued', processing_started_at=NULL, updated_at=now()
WHERE status='processing' AND processing_started_at <= $1 AND attempts < $2;
`
	tag, err := r.pool.Exec(ctx, requeueQ, cutoff, maxAttempts)
	if err != nil {
		return 0, 0, err
	}
	requeued = tag.RowsAffected()

	const failQ = `
UPDATE drawings
SET status='failed', error_message='processing stalled after ' || attempts || ' attempts', updated_at=now()
WHERE status='processing' AND processing_started_at <= $1 AND attempts >= $2;
`
	tag, err = r.pool.Exec(ctx, failQ, cutoff, maxAttempts)
	if err != nil {
		return requeued, 0, err
	}
	return requeued, tag.RowsAffected(), nil
}

func scanDrawing(row pgx.Row) (*entity.Drawing, error) {
	var (
		d          entity.Drawing
		statusText string
	)
	if err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Style,
		&statusText,
		&d.SourcePath,
		&d.UserID,
		&d.SessionID,
		&d.IsGuest,
		&d.ArtifactID,
		&d.ErrorMessage,
		&d.Attempts,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ProcessingStartedAt,
		&d.ExpiresAt,
	); err != nil {
		return nil, err
	}
	d.Status = entity.DrawingStatus(statusText)
	return &d, nil
}
