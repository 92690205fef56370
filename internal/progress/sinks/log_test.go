package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/progress-coordinator/internal/progress"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	id := uuid.New()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: progress.UUIDToBytes(id), Stage: progress.StageHide, Source: progress.SourceManual, TS: time.Now(), Dur: time.Second},
		{Stage: progress.StageReset, Source: progress.SourceNone, TS: time.Now(), Note: "reset"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	require.Equal(t, "HIDE", first["stage"])
	require.Equal(t, id.String(), first["session_id"])
	require.Equal(t, time.Second, first["dur"])

	second := entries[1].ContextMap()
	require.NotContains(t, second, "session_id")
	require.Equal(t, "reset", second["note"])
}
