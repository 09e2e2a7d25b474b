package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/store/memstore"
	"github.com/flightvault/recovery/internal/types"
)

func mustAirports(n int) []types.Record {
	out := make([]types.Record, n)
	cities := []string{"New York", "Los Angeles", "Chicago", "Denver"}
	for i := 0; i < n; i++ {
		out[i] = types.Record{
			"airport_id": "A" + itoa(i),
			"name":       "Airport " + itoa(i),
			"iata_code":  "X" + itoa(i),
			"city":       cities[i%len(cities)],
			"country":    "US",
		}
	}
	return out
}

func itoa(i int) string {
	digits := "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return itoa(i/10) + string(digits[i%10])
}

func airportsKind() types.EntityKind {
	return types.EntityKind{
		Name:           "airports",
		PrimaryKey:     "airport_id",
		RequiredFields: []string{"name", "iata_code"},
	}
}

func TestScoreHealthyFullSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	st.Seed("airports", "airport_id", mustAirports(100), now.Add(-time.Hour))

	s := New(st)
	res, err := s.Score(context.Background(), airportsKind(), now)
	require.NoError(t, err)
	// 25 (count) + 25 (required) + 25 (no references) + 10 (distribution:
	// 4 cities and 1 country over 100 rows earn the 5-point floor on each).
	require.Equal(t, 85, res.Score)
	require.Equal(t, LevelHealthy, res.Level)
}

func TestScoreDropsAfterMassDeletion(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedAt := now.Add(-time.Hour)
	st := memstore.New(clock.Fixed(now))
	airports := mustAirports(100)
	st.Seed("airports", "airport_id", airports, seedAt)
	for i := 0; i < 40; i++ {
		st.DeleteAt("airports", "A"+itoa(i), now.Add(-30*time.Minute))
	}

	kind := airportsKind()
	kind.ExpectedCountBounds = types.CountBounds{Min: 100, Max: 100, Set: true}

	s := New(st)
	before, err := s.Score(context.Background(), kind, now.Add(-45*time.Minute))
	require.NoError(t, err)

	after, err := s.Score(context.Background(), kind, now)
	require.NoError(t, err)
	require.Less(t, after.Score, before.Score)
}

func TestScoreEmptySnapshotRecordCountIsZero(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	s := New(st)
	res, err := s.Score(context.Background(), airportsKind(), now)
	require.NoError(t, err)
	require.Equal(t, 0, res.Checks[0].Score)
}
