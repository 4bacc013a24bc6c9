package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloWorldSungin/claude-strategist/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestAppendAndLastSuccess(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, ok, err := s.LastSuccess(ctx, "digest")
	require.NoError(t, err)
	assert.False(t, ok)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = s.Append(ctx, Run{Job: "digest", Status: StatusSuccess, Duration: time.Second, FinishedAt: base})
	require.NoError(t, err)
	_, err = s.Append(ctx, Run{Job: "digest", Status: StatusSuccess, Duration: time.Second, FinishedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.Append(ctx, Run{Job: "digest", Status: StatusFailure, Error: "timeout", FinishedAt: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	_, err = s.Append(ctx, Run{Job: "other", Status: StatusSuccess, FinishedAt: base.Add(3 * time.Hour)})
	require.NoError(t, err)

	last, ok, err := s.LastSuccess(ctx, "digest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(base.Add(time.Hour)), "got %v", last)
}

func TestAppendFillsDefaults(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	r, err := s.Append(ctx, Run{Job: "j", Status: StatusSuccess, Duration: 2 * time.Second})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 1, r.Attempts)
	assert.True(t, r.FinishedAt.Equal(now))
	assert.True(t, r.StartedAt.Equal(now.Add(-2*time.Second)))
}

func TestAppendValidates(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Append(ctx, Run{Status: StatusSuccess})
	assert.Error(t, err)
	_, err = s.Append(ctx, Run{Job: "j", Status: "maybe"})
	assert.Error(t, err)
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, Run{
			Job:        []string{"a", "b"}[i%2],
			Status:     StatusFailure,
			Attempts:   3,
			Duration:   time.Duration(i) * time.Second,
			Error:      "boom",
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	runs, err := s.Recent(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 4*time.Second, runs[0].Duration)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Equal(t, 3, runs[0].Attempts)
	assert.True(t, runs[0].FinishedAt.After(runs[1].FinishedAt))

	onlyB, err := s.Recent(ctx, "b", 10)
	require.NoError(t, err)
	assert.Len(t, onlyB, 2)
	for _, r := range onlyB {
		assert.Equal(t, "b", r.Job)
	}

	require.NoError(t, s.Ping(ctx))
}
