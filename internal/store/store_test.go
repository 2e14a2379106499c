package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprism/desktop/internal/supervisor"
)

func event(handle string, kind supervisor.EventKind, at time.Time) supervisor.Event {
	return supervisor.Event{
		ID:       ulid.Make().String(),
		HandleID: handle,
		Kind:     kind,
		PID:      1234,
		Port:     8787,
		Detail:   string(kind) + " detail",
		At:       at,
	}
}

func TestRecordAndRecent(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Record(ctx, event("h1", supervisor.EventStarted, base)))
	require.NoError(t, s.Record(ctx, event("h1", supervisor.EventReady, base.Add(time.Second))))
	require.NoError(t, s.Record(ctx, event("h2", supervisor.EventAnomaly, base.Add(2*time.Second))))

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, supervisor.EventAnomaly, recent[0].Kind)
	assert.Equal(t, supervisor.EventReady, recent[1].Kind)
	assert.Equal(t, 8787, recent[0].Port)
	assert.True(t, recent[0].At.Equal(base.Add(2*time.Second)))

	runs, err := s.ForHandle(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, supervisor.EventStarted, runs[0].Kind)
	assert.Equal(t, "started detail", runs[0].Detail)
}

func TestPrune(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.Record(ctx, event("old", supervisor.EventExit, now.Add(-48*time.Hour))))
	require.NoError(t, s.Record(ctx, event("new", supervisor.EventExit, now)))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recent, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].HandleID)
}

func TestOpenDataDirPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s, err := OpenDataDir(dir)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), event("h", supervisor.EventStarted, time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenDataDir(dir)
	require.NoError(t, err)
	defer s.Close()
	recent, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestStoreSatisfiesEventSink(t *testing.T) {
	var _ supervisor.EventSink = (*SQLiteStore)(nil)
}
