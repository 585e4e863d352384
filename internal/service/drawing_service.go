package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"drawing-service/internal/entity"
	"drawing-service/internal/repository/postgresql"
)

var (
	ErrUnauthorized = errors.New("caller does not own this drawing")
	ErrNotReady     = errors.New("drawing is not complete")
)

// Repository port (implementation: postgresql.DrawingRepository)
type DrawingRepository interface {
	Create(ctx context.Context, p postgresql.CreateParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Drawing, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Blob store port, used for both source uploads and artifacts.
type BlobStore interface {
	Write(r io.Reader) (string, error)
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
}

// Caller identifies who is making a request: a registered user (resolved
// upstream) or a guest session. Exactly one field is set.
type Caller struct {
	UserID    string
	SessionID string
}

// GuestTTL is how long guest-owned drawings live before reclamation.
const GuestTTL = 24 * time.Hour

type DrawingService struct {
	repo      DrawingRepository
	sources   BlobStore
	artifacts BlobStore
}

func NewDrawingService(repo DrawingRepository, sources, artifacts BlobStore) *DrawingService {
	return &DrawingService{repo: repo, sources: sources, artifacts: artifacts}
}

type EnqueueRequest struct {
	Name     string
	Style    string
	Image    io.Reader
	Filename string
	Caller   Caller
}

// Enqueue stores the source image and creates the job record in queued
// state. It returns as soon as the record exists; conversion happens in the
// worker process.
func (s *DrawingService) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	if req.Name == "" {
		return uuid.Nil, errors.New("drawing must have a name")
	}
	if req.Style == "" {
		return uuid.Nil, errors.New("a drawing style is required")
	}
	if !entity.ValidStyles[req.Style] {
		return uuid.Nil, fmt.Errorf("unknown style %q", req.Style)
	}
	if req.Image == nil {
		return uuid.Nil, errors.New("no file submitted")
	}
	if req.Caller.UserID == "" && req.Caller.SessionID == "" {
		return uuid.Nil, errors.New("owner reference is required")
	}

	sourceID, err := s.sources.Write(req.Image)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store source image: %w", err)
	}

	params := postgresql.CreateParams{
		Name:       req.Name,
		Style:      req.Style,
		SourcePath: sourceID,
	}
	if req.Caller.UserID != "" {
		userID := req.Caller.UserID
		params.UserID = &userID
	} else {
		sessionID := req.Caller.SessionID
		expires := time.Now().UTC().Add(GuestTTL)
		params.SessionID = &sessionID
		params.IsGuest = true
		params.ExpiresAt = &expires
	}

	id, err := s.repo.Create(ctx, params)
	if err != nil {
		// record never existed, don't leak the blob
		if delErr := s.sources.Delete(sourceID); delErr != nil {
			log.Printf("[service] source_id=%s orphan_cleanup error=%v", sourceID, delErr)
		}
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns the drawing if the caller owns it. Project-level collaboration
// checks happen upstream; this core only knows direct ownership.
func (s *DrawingService) Get(ctx context.Context, id uuid.UUID, caller Caller) (*entity.Drawing, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authorised(d, caller) {
		return nil, ErrUnauthorized
	}
	return d, nil
}

// OpenArtifact streams the stored vector document of a complete drawing.
func (s *DrawingService) OpenArtifact(ctx context.Context, id uuid.UUID, caller Caller) (io.ReadCloser, *entity.Drawing, error) {
	d, err := s.Get(ctx, id, caller)
	if err != nil {
		return nil, nil, err
	}
	if d.Status != entity.StatusComplete || d.ArtifactID == nil {
		return nil, nil, ErrNotReady
	}
	rc, err := s.artifacts.Open(*d.ArtifactID)
	if err != nil {
		return nil, nil, err
	}
	return rc, d, nil
}

// Delete removes the drawing record and its artifact blob. Blob deletion is
// idempotent, so retrying after a partial failure is safe.
func (s *DrawingService) Delete(ctx context.Context, id uuid.UUID, caller Caller) error {
	d, err := s.Get(ctx, id, caller)
	if err != nil {
		return err
	}
	if d.ArtifactID != nil {
		if err := s.artifacts.Delete(*d.ArtifactID); err != nil {
			return fmt.Errorf("delete artifact: %w", err)
		}
	}
	if !d.Status.Terminal() && d.SourcePath != "" {
		if err := s.sources.Delete(d.SourcePath); err != nil {
			log.Printf("[service] drawing_id=%s source_cleanup error=%v", d.ID, err)
		}
	}
	return s.repo.Delete(ctx, id)
}

func authorised(d *entity.Drawing, caller Caller) bool {
	if caller.UserID != "" {
		return d.OwnedByUser(caller.UserID)
	}
	if caller.SessionID != "" {
		return d.OwnedBySession(caller.SessionID)
	}
	return false
}
