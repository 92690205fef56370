package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progress-coordinator/internal/store"
)

func TestSessionStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSessionStore()
	id := uuid.Must(uuid.NewV7())
	start := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.StartSession(ctx, id, "http", start))
	require.NoError(t, s.StartSession(ctx, id, "manual", start.Add(time.Hour)))
	require.NoError(t, s.RecordRequests(ctx, id, 3, 2))
	require.NoError(t, s.RecordRequests(ctx, id, 1, 1))

	sess, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "http", sess.Source)
	require.Equal(t, start, sess.StartedAt)
	require.Equal(t, int64(4), sess.Requests)
	require.Equal(t, 2, sess.PeakConcurrency)
	require.Nil(t, sess.FinishedAt)
	require.Zero(t, sess.Duration())

	require.NoError(t, s.CompleteSession(ctx, id, start.Add(450*time.Millisecond)))
	sess, err = s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 450*time.Millisecond, sess.Duration())
}

func TestSessionStoreNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSessionStore()
	id := uuid.New()

	_, err := s.GetSession(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.RecordRequests(ctx, id, 1, 1), store.ErrNotFound)
	require.ErrorIs(t, s.CompleteSession(ctx, id, time.Now()), store.ErrNotFound)
}

func TestSessionStoreListFiltersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSessionStore()
	base := time.Unix(1700000000, 0).UTC()
	sources := []string{"http", "manual", "http", "navigation", "http"}
	for i, source := range sources {
		require.NoError(t, s.StartSession(ctx, uuid.New(), source, base.Add(time.Duration(i)*time.Second)))
	}

	all, err := s.ListSessions(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, base.Add(4*time.Second), all[0].StartedAt)

	http := "http"
	page, err := s.ListSessions(ctx, &http, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, base.Add(2*time.Second), page[0].StartedAt)
	require.Equal(t, base, page[1].StartedAt)

	empty, err := s.ListSessions(ctx, &http, 10, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSessionStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSessionStore()
	id := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, s.StartSession(ctx, id, "manual", now))
	require.NoError(t, s.CompleteSession(ctx, id, now.Add(time.Second)))

	sess, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	*sess.FinishedAt = now.Add(time.Hour)

	again, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, time.Second, again.Duration())
}

func TestSessionStoreEvictsOldestFinishedFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSessionStoreWithLimit(3)
	start := time.Unix(1700000000, 0).UTC()
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.Must(uuid.NewV7())
	}

	require.NoError(t, s.StartSession(ctx, ids[0], "http", start))
	require.NoError(t, s.StartSession(ctx, ids[1], "http", start.Add(time.Second)))
	require.NoError(t, s.StartSession(ctx, ids[2], "http", start.Add(2*time.Second)))
	require.NoError(t, s.CompleteSession(ctx, ids[1], start.Add(3*time.Second)))

	// Full: the finished session goes before the older open one.
	require.NoError(t, s.StartSession(ctx, ids[3], "manual", start.Add(4*time.Second)))
	_, err := s.GetSession(ctx, ids[1])
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetSession(ctx, ids[0])
	require.NoError(t, err)

	// Nothing finished: the oldest open session goes.
	require.NoError(t, s.StartSession(ctx, ids[4], "manual", start.Add(5*time.Second)))
	_, err = s.GetSession(ctx, ids[0])
	require.ErrorIs(t, err, store.ErrNotFound)

	all, err := s.ListSessions(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestSessionStoreDefaultLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultMaxSessions, NewSessionStore().limit)
	require.Equal(t, DefaultMaxSessions, NewSessionStoreWithLimit(0).limit)
}
