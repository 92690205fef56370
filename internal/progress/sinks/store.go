package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/progress"
	"github.com/JakeFAU/progress-coordinator/internal/store"
)

// StoreSink folds transition events into display-session records. Request
// counts are collapsed per session within a batch to reduce writes.
type StoreSink struct {
	repo   store.SessionRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.SessionRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type requestDelta struct {
	requests int64
	peak     int
}

// Consume applies the batch in order. A session's pending request delta is
// flushed before the session is completed and at the end of the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*requestDelta)

	for _, evt := range batch {
		if evt.SessionID == [16]byte{} {
			continue
		}
		id := evt.SessionUUID()
		switch evt.Stage {
		case progress.StageShow:
			if err := s.repo.StartSession(ctx, id, string(evt.Source), evt.TS); err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			if evt.Active > 0 {
				s.record(deltas, id, 0, evt.Active)
			}
		case progress.StageHTTPStart:
			s.record(deltas, id, 1, evt.Active)
		case progress.StageHide:
			if err := s.flush(ctx, id, deltas[id]); err != nil {
				return err
			}
			delete(deltas, id)
			err := s.repo.CompleteSession(ctx, id, evt.TS)
			if errors.Is(err, store.ErrNotFound) {
				// Its SHOW was dropped by the hub.
				s.logger.Warn("completion for unknown session dropped", zap.Stringer("session_id", id))
				continue
			}
			if err != nil {
				return fmt.Errorf("complete session: %w", err)
			}
		}
	}

	for id, delta := range deltas {
		if err := s.flush(ctx, id, delta); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) record(deltas map[uuid.UUID]*requestDelta, id uuid.UUID, requests int64, active int) {
	delta := deltas[id]
	if delta == nil {
		delta = &requestDelta{}
		deltas[id] = delta
	}
	delta.requests += requests
	delta.peak = max(delta.peak, active)
}

func (s *StoreSink) flush(ctx context.Context, id uuid.UUID, delta *requestDelta) error {
	if delta == nil || (delta.requests == 0 && delta.peak == 0) {
		return nil
	}
	err := s.repo.RecordRequests(ctx, id, delta.requests, delta.peak)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("request counts for unknown session dropped", zap.Stringer("session_id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("record session requests: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
