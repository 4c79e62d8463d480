package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Record(ctx, Entry{
		TokenDigest: "abc123digest",
		Origin:      "10.0.0.5",
		Operation:   "push",
		Repo:        "org/b",
		Mode:        "private",
		Outcome:     OutcomeForwarded,
		StatusCode:  200,
	})
	require.NoError(t, err)

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.NotEmpty(t, e.ID, "an id is assigned when absent")
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "abc123digest", e.TokenDigest)
	assert.Equal(t, OutcomeForwarded, e.Outcome)
}

func TestList_NewestFirstAndLimited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Operation: "heartbeat",
			Outcome:   OutcomeForwarded,
		}))
	}

	entries, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Timestamp.After(entries[2].Timestamp))
}

func TestMigrate_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Entry{Outcome: OutcomeError}))
	require.NoError(t, s.Close())

	// Migrations are tracked; reopening is a no-op, data survives.
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	entries, err := s2.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
