package finder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/store/memstore"
	"github.com/flightvault/recovery/internal/types"
)

func seedDisasterScenario(t *testing.T, now, disaster time.Time) *memstore.Store {
	t.Helper()
	st := memstore.New(clock.Fixed(now))
	airports := make([]types.Record, 100)
	for i := range airports {
		airports[i] = types.Record{
			"widget_id": id(i),
			"name":      "Widget " + id(i),
			"iata_code": "X" + id(i),
		}
	}
	st.Seed("widgets", "widget_id", airports, now.Add(-24*time.Hour))
	for i := 0; i < 40; i++ {
		st.DeleteAt("widgets", id(i), disaster)
	}
	for i := 40; i < 70; i++ {
		st.UpdateAt("widgets", id(i), types.Record{"widget_id": id(i), "name": "Widget " + id(i), "iata_code": ""}, disaster)
	}
	return st
}

func id(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return id(i/10) + string(digits[i%10])
}

func kind() types.EntityKind {
	return types.EntityKind{
		Name:                "widgets",
		PrimaryKey:          "widget_id",
		RequiredFields:      []string{"name", "iata_code"},
		ExpectedCountBounds: types.CountBounds{Min: 100, Max: 100, Set: true},
	}
}

// TestFinderMonotonicityAtBoundary is property 4 of §8: given a disaster
// at t_disaster, the Finder returns a timestamp in
// [t_disaster-5min, t_disaster).
func TestFinderMonotonicityAtBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	disaster := now.Add(-30 * time.Minute)
	st := seedDisasterScenario(t, now, disaster)

	f := New(st, clock.Fixed(now))
	res, err := f.Suggest(context.Background(), kind(), Window{Start: now.Add(-time.Hour), End: now})
	require.NoError(t, err)

	require.True(t, res.OptimalTimestamp.Before(disaster))
	require.False(t, res.OptimalTimestamp.Before(disaster.Add(-5*time.Minute)))
	require.LessOrEqual(t, len(res.SearchLog), maxIterations+11)
}

// TestFinderConvergenceBound is property 5 of §8: over a 24h window,
// probe count <= 25.
func TestFinderConvergenceBound(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	disaster := now.Add(-12 * time.Hour)
	st := seedDisasterScenario(t, now, disaster)

	f := New(st, clock.Fixed(now))
	res, err := f.Suggest(context.Background(), kind(), Window{})
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.SearchLog), maxIterations+10)
}

func TestFinderConfidenceAndWarnings(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	disaster := now.Add(-30 * time.Minute)
	st := seedDisasterScenario(t, now, disaster)

	f := New(st, clock.Fixed(now))
	res, err := f.Suggest(context.Background(), kind(), Window{Start: now.Add(-time.Hour), End: now})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.ConfidencePercentage, 0)
	require.LessOrEqual(t, res.ConfidencePercentage, 100)
	require.Empty(t, res.Warnings)
	require.NotEmpty(t, res.Reason)
}
