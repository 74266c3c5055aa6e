package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func record(outcome, fp string) BuildRecord {
	now := time.Now()
	return BuildRecord{
		BuildID:     uuid.NewString(),
		Fingerprint: fp,
		Outcome:     outcome,
		Documents:   5,
		Rendered:    4,
		Failed:      1,
		Started:     now.Add(-time.Second),
		Finished:    now,
		ReportJSON:  []byte(`{"ok":true}`),
	}
}

func TestStore_AppendAndRecent(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("success", "fp1")))
	require.NoError(t, s.Append(ctx, record("failed", "fp2")))
	require.NoError(t, s.Append(ctx, record("warning", "fp3")))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, "warning", recent[0].Outcome)
	require.Equal(t, "failed", recent[1].Outcome)
	require.Equal(t, "success", recent[2].Outcome)
	require.Equal(t, []byte(`{"ok":true}`), recent[0].ReportJSON)
}

func TestStore_LastCommittedSkipsFailedBuilds(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	last, err := s.LastCommitted(ctx)
	require.NoError(t, err)
	require.Nil(t, last)

	require.NoError(t, s.Append(ctx, record("success", "fp1")))
	require.NoError(t, s.Append(ctx, record("failed", "fp2")))

	last, err = s.LastCommitted(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, "fp1", last.Fingerprint)
}

func TestStore_RecentLimit(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, record("success", "fp")))
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestStore_OpenCreatesParentDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/history.db"
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), record("success", "fp")))
	require.NoError(t, s.Close())
}
