package jobstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/ota-agent/pkg/otatypes"
)

func TestOpen_CreatesBucketsAndLoadsZeroState(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Load()
	require.NoError(t, err)
	require.False(t, st.HasLastJob)
	require.Empty(t, st.LastError)
}

func TestSaveThenLoad_RoundTripsState(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	want := State{
		LastJob: otatypes.Job{
			Manufacturer: "Acme",
			Version:      otatypes.Version{Major: 1, Minor: 2, Build: 3},
			Board:        "rev-a",
		},
		HasLastJob:   true,
		LastError:    "signature mismatch",
		LastOutcome:  otatypes.OutcomeFailure,
		RetryCount:   2,
		ConnectRetry: 1,
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, want.LastJob, got.LastJob)
	require.True(t, got.HasLastJob)
	require.Equal(t, want.LastError, got.LastError)
	require.Equal(t, want.LastOutcome, got.LastOutcome)
	require.Equal(t, want.RetryCount, got.RetryCount)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestSave_OverwritesPreviousState(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(State{LastError: "first"}))
	require.NoError(t, s.Save(State{LastError: "second"}))

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "second", got.LastError)
}

func TestOpen_ReopensExistingDatabase(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Save(State{LastError: "persisted"}))
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	require.Equal(t, "persisted", got.LastError)
}

func TestRecentHistory_ReturnsMostRecentFirstAndRespectsLimit(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, outcome := range []otatypes.SessionOutcome{
		otatypes.OutcomeSuccess, otatypes.OutcomeFailure, otatypes.OutcomeNoUpdate,
	} {
		require.NoError(t, s.AppendHistory(HistoryEntry{Outcome: outcome}))
	}

	entries, err := s.RecentHistory(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, otatypes.OutcomeNoUpdate, entries[0].Outcome)
	require.Equal(t, otatypes.OutcomeFailure, entries[1].Outcome)
}
