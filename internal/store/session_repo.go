package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one hidden -> visible -> hidden period of the indicator.
type Session struct {
	// ID is the UUIDv7 minted when the indicator became visible.
	ID uuid.UUID `json:"id"`
	// Source is the owner that made the indicator visible.
	Source string `json:"source"`
	// StartedAt is when the indicator became visible.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil while the indicator is still visible.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Requests counts HTTP requests tracked during the session.
	Requests int64 `json:"requests"`
	// PeakConcurrency is the highest number of simultaneous requests seen.
	PeakConcurrency int `json:"peak_concurrency"`
}

// Duration returns how long the session was visible, or zero while it is open.
func (s Session) Duration() time.Duration {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// SessionRepository persists display sessions.
type SessionRepository interface {
	// StartSession records a newly visible session. Repeating it for the same
	// id is a no-op.
	StartSession(ctx context.Context, id uuid.UUID, source string, startedAt time.Time) error
	// RecordRequests adds deltaRequests to the session and raises its peak
	// concurrency to peak when higher. Returns ErrNotFound for unknown ids.
	RecordRequests(ctx context.Context, id uuid.UUID, deltaRequests int64, peak int) error
	// CompleteSession stamps the finish time. Returns ErrNotFound for unknown ids.
	CompleteSession(ctx context.Context, id uuid.UUID, finishedAt time.Time) error

	// GetSession loads one session or returns ErrNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	// ListSessions returns sessions newest first, optionally filtered by source.
	ListSessions(ctx context.Context, source *string, limit, offset int) ([]Session, error)
}
