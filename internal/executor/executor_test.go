package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/store/memstore"
	"github.com/flightvault/recovery/internal/types"
)

func airportsKind() types.EntityKind {
	return types.EntityKind{Name: "airports", PrimaryKey: "airport_id"}
}

// TestExecuteRestoresDeletedRecords is scenario S3 (§8): restoring 40
// deleted records brings current() back to the pre-disaster count.
func TestExecuteRestoresDeletedRecords(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))

	all := make([]types.Record, 100)
	for i := range all {
		all[i] = types.Record{"airport_id": id(i), "name": "Airport " + id(i)}
	}
	st.Seed("airports", "airport_id", all, now.Add(-time.Hour))
	deleted := make([]types.Record, 0, 40)
	for i := 0; i < 40; i++ {
		st.DeleteAt("airports", id(i), now.Add(-30*time.Minute))
		deleted = append(deleted, all[i])
	}

	e := New(st)
	res, err := e.Execute(context.Background(), airportsKind(), deleted)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 40, res.RecordsProcessed)
	require.Equal(t, 1, res.BatchesCompleted)

	current, err := st.Current(context.Background(), "airports", nil)
	require.NoError(t, err)
	require.Len(t, current, 100)
}

// TestExecuteIsIdempotent is property 7 (§8): applying the same restore set
// twice yields the same final state as once.
func TestExecuteIsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	st.Seed("airports", "airport_id", []types.Record{{"airport_id": "JFK", "name": "JFK Intl"}}, now.Add(-time.Hour))
	st.DeleteAt("airports", "JFK", now.Add(-30*time.Minute))

	restoreSet := []types.Record{{"airport_id": "JFK", "name": "JFK Intl"}}

	e := New(st)
	res1, err := e.Execute(context.Background(), airportsKind(), restoreSet)
	require.NoError(t, err)
	require.True(t, res1.Success)

	res2, err := e.Execute(context.Background(), airportsKind(), restoreSet)
	require.NoError(t, err)
	require.True(t, res2.Success)

	current, err := st.Current(context.Background(), "airports", nil)
	require.NoError(t, err)
	require.Len(t, current, 1)
}

func TestExecuteBatchesLargeRestoreSets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))

	records := make([]types.Record, 250)
	for i := range records {
		records[i] = types.Record{"airport_id": id(i), "name": "Airport " + id(i)}
	}

	e := New(st)
	res, err := e.Execute(context.Background(), airportsKind(), records)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 3, res.BatchesCompleted)
	require.Equal(t, 250, res.RecordsProcessed)
}

func id(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return id(i/10) + string(digits[i%10])
}
