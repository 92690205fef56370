// Package memory provides an in-process SessionRepository for development
// and tests. It holds at most a fixed number of sessions; once full, each new
// session evicts the oldest finished one, or the oldest open one when none
// has finished.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/progress-coordinator/internal/store"
)

// DefaultMaxSessions bounds NewSessionStore.
const DefaultMaxSessions = 1000

// SessionStore keeps sessions in a map guarded by a RWMutex.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*store.Session
	order    []uuid.UUID // insertion order
	limit    int
}

// NewSessionStore constructs an empty SessionStore holding up to
// DefaultMaxSessions sessions.
func NewSessionStore() *SessionStore {
	return NewSessionStoreWithLimit(DefaultMaxSessions)
}

// NewSessionStoreWithLimit is NewSessionStore with a custom bound. A
// non-positive limit uses DefaultMaxSessions.
func NewSessionStoreWithLimit(limit int) *SessionStore {
	if limit <= 0 {
		limit = DefaultMaxSessions
	}
	return &SessionStore{sessions: make(map[uuid.UUID]*store.Session), limit: limit}
}

// StartSession implements store.SessionRepository.
func (s *SessionStore) StartSession(_ context.Context, id uuid.UUID, source string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return nil
	}
	if len(s.sessions) >= s.limit {
		s.evictLocked()
	}
	s.sessions[id] = &store.Session{ID: id, Source: source, StartedAt: startedAt}
	s.order = append(s.order, id)
	return nil
}

func (s *SessionStore) evictLocked() {
	victim := 0
	for i, id := range s.order {
		if s.sessions[id].FinishedAt != nil {
			victim = i
			break
		}
	}
	delete(s.sessions, s.order[victim])
	s.order = slices.Delete(s.order, victim, victim+1)
}

// RecordRequests implements store.SessionRepository.
func (s *SessionStore) RecordRequests(_ context.Context, id uuid.UUID, deltaRequests int64, peak int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.Requests += deltaRequests
	sess.PeakConcurrency = max(sess.PeakConcurrency, peak)
	return nil
}

// CompleteSession implements store.SessionRepository.
func (s *SessionStore) CompleteSession(_ context.Context, id uuid.UUID, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.FinishedAt = &finishedAt
	return nil
}

// GetSession implements store.SessionRepository.
func (s *SessionStore) GetSession(_ context.Context, id uuid.UUID) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return copySession(sess), nil
}

// ListSessions implements store.SessionRepository.
func (s *SessionStore) ListSessions(_ context.Context, source *string, limit, offset int) ([]store.Session, error) {
	s.mu.RLock()
	out := make([]store.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if source != nil && sess.Source != *source {
			continue
		}
		out = append(out, copySession(sess))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b store.Session) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return slices.Compare(b.ID[:], a.ID[:])
	})
	offset = max(0, offset)
	if offset >= len(out) {
		return []store.Session{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func copySession(sess *store.Session) store.Session {
	cp := *sess
	if sess.FinishedAt != nil {
		finished := *sess.FinishedAt
		cp.FinishedAt = &finished
	}
	return cp
}
