package entity

import (
	"time"

	"github.com/google/uuid"
)

type DrawingStatus string

const (
	StatusQueued     DrawingStatus = "queued"
	StatusProcessing DrawingStatus = "processing"
	StatusComplete   DrawingStatus = "complete"
	StatusFailed     DrawingStatus = "failed"
)

// Terminal reports whether no further status transition can occur.
func (s DrawingStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Styles accepted by the conversion pipeline.
var ValidStyles = map[string]bool{
	"contour": true,
	"anime":   true,
	"manga":   true,
	"sketch":  true,
}

// Drawing is one image-to-vector conversion job. Created by the upload
// endpoint in status=queued, mutated only by the worker afterwards.
// Exactly one of UserID / SessionID is set: registered owner or guest session.
type Drawing struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Style     string        `json:"style"`
	Status    DrawingStatus `json:"status"`
	UserID    *string       `json:"user_id,omitempty"`
	SessionID *string       `json:"session_id,omitempty"`
	IsGuest   bool          `json:"is_guest"`

	// SourcePath points at the uploaded image blob; valid until the job
	// reaches a terminal state, the worker deletes it after that.
	SourcePath string `json:"-"`

	// ArtifactID is set only on complete, ErrorMessage only on failed.
	ArtifactID   *string `json:"artifact_id,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	// Attempts counts how many times the job entered processing. Bumped by
	// the stale-processing sweep when it re-queues a stuck job.
	Attempts int `json:"attempts"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`

	// ExpiresAt is set only for guest-owned drawings (24h after creation).
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// OwnedByUser reports whether the registered user owns this drawing.
func (d *Drawing) OwnedByUser(userID string) bool {
	return d.UserID != nil && *d.UserID == userID
}

// OwnedBySession reports whether the guest session owns this drawing.
func (d *Drawing) OwnedBySession(sessionID string) bool {
	return d.SessionID != nil && *d.SessionID == sessionID
}
