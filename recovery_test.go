package recovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flightvault/recovery"
	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/registry"
	"github.com/flightvault/recovery/internal/store/memstore"
	"github.com/flightvault/recovery/internal/types"
)

func airportID(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return airportID(i/10) + string(digits[i%10])
}

func airport(i int, iata string) types.Record {
	return types.Record{"airport_id": airportID(i), "name": "Airport " + airportID(i), "iata_code": iata}
}

func airportsKind() types.EntityKind {
	return types.EntityKind{
		Name:           "airports",
		PrimaryKey:     "airport_id",
		RequiredFields: []string{"name", "iata_code"},
		CriticalFields: []string{"status_code"},
	}
}

// TestSuggestRestorePointLocatesDisasterBoundary is scenario S1 (§8): 100
// airports at t0, 40 deleted and 30 degraded (required field blanked) at a
// single disaster instant. suggest_restore_point must return a timestamp
// before the disaster with a healthy score.
func TestSuggestRestorePointLocatesDisasterBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	disaster := now.Add(-30 * time.Minute)

	st := memstore.New(clock.Fixed(now))
	seed := make([]types.Record, 100)
	for i := range seed {
		seed[i] = airport(i, "X"+airportID(i))
	}
	st.Seed("airports", "airport_id", seed, now.Add(-24*time.Hour))
	for i := 0; i < 40; i++ {
		st.DeleteAt("airports", airportID(i), disaster)
	}
	for i := 40; i < 70; i++ {
		st.UpdateAt("airports", airportID(i), airport(i, ""), disaster)
	}

	kind := airportsKind()
	kind.ExpectedCountBounds = types.CountBounds{Min: 100, Max: 100, Set: true}
	reg := registry.New()
	reg.RegisterKind(kind)

	rec := recovery.New(st, reg, clock.Fixed(now))
	res, err := rec.SuggestRestorePointIn(context.Background(), "airports",
		recovery.Window{Start: now.Add(-time.Hour), End: now})
	require.NoError(t, err)

	require.NotEmpty(t, res.OperationID)
	require.Equal(t, "airports", res.Kind)
	require.True(t, res.OptimalTimestamp.Before(disaster))
	require.True(t, res.OptimalTimestamp.After(disaster.Add(-6*time.Minute)))
	require.GreaterOrEqual(t, res.HealthScore, 80)
	require.GreaterOrEqual(t, res.ConfidencePercentage, 0)
	require.LessOrEqual(t, res.ConfidencePercentage, 100)
	require.NotEmpty(t, res.Reason)
}

// TestRestoreDryRunThenExecuteThenIdempotent covers S2/S3 (§8): a full
// (unclassified) restore against an explicit timestamp, previewed with
// dry_run, applied, and re-applied to confirm the second run is a no-op.
func TestRestoreDryRunThenExecuteThenIdempotent(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	t0 := now.Add(-2 * time.Hour)
	disaster := now.Add(-time.Hour)

	st := memstore.New(clock.Fixed(now))
	seed := make([]types.Record, 10)
	for i := range seed {
		seed[i] = airport(i, "X"+airportID(i))
	}
	st.Seed("airports", "airport_id", seed, t0)
	for i := 0; i < 3; i++ {
		st.DeleteAt("airports", airportID(i), disaster)
	}
	st.UpdateAt("airports", airportID(4), types.Record{"airport_id": airportID(4), "name": "Renamed", "iata_code": "X" + airportID(4)}, disaster)

	reg := registry.New()
	reg.RegisterKind(airportsKind())
	rec := recovery.New(st, reg, clock.Fixed(now))
	ctx := context.Background()
	t0Expr := t0.Format(time.RFC3339)

	dry, err := rec.Restore(ctx, "airports", t0Expr, true)
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.False(t, dry.Executed)
	require.Nil(t, dry.Execution)
	require.Equal(t, 3, dry.WillAdd)
	require.Equal(t, 1, dry.WillUpdate)
	require.Equal(t, 0, dry.WillRemove)

	applied, err := rec.Restore(ctx, "airports", t0Expr, false)
	require.NoError(t, err)
	require.True(t, applied.Executed)
	require.NotNil(t, applied.Execution)
	require.True(t, applied.Execution.Success)
	require.Equal(t, 4, applied.Execution.RecordsProcessed)

	again, err := rec.Restore(ctx, "airports", t0Expr, false)
	require.NoError(t, err)
	require.Equal(t, 0, again.WillAdd)
	require.Equal(t, 0, again.WillUpdate)
	require.Equal(t, 0, again.WillRemove)
}

// TestSelectiveRestoreBlockedByDependencyValidator is scenario S4 (§8): a
// restored row's outgoing reference no longer resolves, so the Dependency
// Validator blocks the Executor and surfaces the issue instead of erroring.
func TestSelectiveRestoreBlockedByDependencyValidator(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t0 := now.Add(-2 * time.Hour)
	disaster := now.Add(-time.Hour)

	st := memstore.New(clock.Fixed(now))
	st.Seed("airports", "airport_id", []types.Record{airport(3, "X3")}, t0)
	st.Seed("routes", "route_id", []types.Record{
		{"route_id": "r1", "origin_airport_id": "3"},
	}, t0)
	st.DeleteAt("airports", "3", disaster)
	st.DeleteAt("routes", "r1", disaster)

	airports := airportsKind()
	routes := types.EntityKind{
		Name:       "routes",
		PrimaryKey: "route_id",
		References: []types.Reference{
			{FieldOnSelf: "origin_airport_id", TargetKind: "airports", TargetField: "airport_id"},
		},
	}
	reg := registry.New()
	reg.RegisterKind(airports)
	reg.RegisterKind(routes)

	rec := recovery.New(st, reg, clock.Fixed(now))
	forceRestore := []recovery.Rule{{Type: types.ChangeDeleted, Label: types.LabelRestore}}
	result, err := rec.SelectiveRestore(context.Background(), "routes", t0.Format(time.RFC3339), forceRestore, true)
	require.NoError(t, err)

	require.Len(t, result.Classification.Restore, 1)
	require.False(t, result.Validation.SafeToRestore)
	require.Len(t, result.Validation.ForeignKeyIssues, 1)
	require.Equal(t, "3", result.Validation.ForeignKeyIssues[0].TargetValue)
	require.False(t, result.Executed)
	require.Nil(t, result.Execution)
}

// TestSelectiveRestoreCriticalFieldHeuristic is scenario S5 (§8): a
// modification touching a declared critical field defaults to restore
// without any explicit rule.
func TestSelectiveRestoreCriticalFieldHeuristic(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	t0 := now.Add(-2 * time.Hour)
	disaster := now.Add(-time.Hour)

	st := memstore.New(clock.Fixed(now))
	seed := make([]types.Record, 5)
	for i := range seed {
		seed[i] = types.Record{"airport_id": airportID(i), "name": "Airport " + airportID(i), "iata_code": "X" + airportID(i), "status_code": "active"}
	}
	st.Seed("airports", "airport_id", seed, t0)
	for i := 0; i < 5; i++ {
		st.UpdateAt("airports", airportID(i), types.Record{"airport_id": airportID(i), "name": "Airport " + airportID(i), "iata_code": "X" + airportID(i), "status_code": "suspended"}, disaster)
	}

	reg := registry.New()
	reg.RegisterKind(airportsKind())
	rec := recovery.New(st, reg, clock.Fixed(now))

	result, err := rec.SelectiveRestore(context.Background(), "airports", t0.Format(time.RFC3339), nil, true)
	require.NoError(t, err)
	require.Len(t, result.Classification.Restore, 5)
	require.True(t, result.Validation.SafeToRestore)
	require.True(t, result.Executed)
	require.Equal(t, 5, result.Execution.RecordsProcessed)

	current, err := st.Current(context.Background(), "airports", nil)
	require.NoError(t, err)
	for _, r := range current {
		require.Equal(t, "active", r["status_code"])
	}
}

// TestSelectiveRestoreDefaultHeuristics is scenario S6 (§8): a mass
// deletion defaults to restore while a record added within the last hour
// defaults to keep, with no explicit rules. Uses the real clock for the
// "recent" addition since the Classifier's recency check is wall-clock
// based, not driven by the injected clock.
func TestSelectiveRestoreDefaultHeuristics(t *testing.T) {
	realNow := time.Now().UTC()
	t0 := realNow.Add(-2 * time.Hour)
	disaster := realNow.Add(-90 * time.Minute)
	recentAdd := realNow.Add(-10 * time.Minute)

	st := memstore.New(clock.Fixed(realNow))
	seed := make([]types.Record, 20)
	for i := range seed {
		seed[i] = airport(i, "X"+airportID(i))
	}
	st.Seed("airports", "airport_id", seed, t0)
	for i := 0; i < 15; i++ {
		st.DeleteAt("airports", airportID(i), disaster)
	}
	st.Seed("airports", "airport_id", []types.Record{airport(99, "X99")}, recentAdd)

	reg := registry.New()
	reg.RegisterKind(airportsKind())
	rec := recovery.New(st, reg, clock.Fixed(realNow))

	result, err := rec.SelectiveRestore(context.Background(), "airports", t0.Format(time.RFC3339), nil, true)
	require.NoError(t, err)

	require.Len(t, result.Classification.Keep, 1)
	require.Equal(t, airportID(99), result.Classification.Keep[0].Key)
	require.Len(t, result.Classification.Restore, 15)
	require.True(t, result.Executed)
	require.Equal(t, 15, result.Execution.RecordsProcessed)
}

// TestDiffAndSnapshotAndTimeline covers the read-only operations: Diff
// against an explicit before/after pair, a paginated Snapshot, and
// Timeline's hourly bucketing.
func TestDiffAndSnapshotAndTimeline(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	t0 := now.Add(-3 * time.Hour)

	st := memstore.New(clock.Fixed(now))
	seed := make([]types.Record, 5)
	for i := range seed {
		seed[i] = airport(i, "X"+airportID(i))
	}
	st.Seed("airports", "airport_id", seed, t0)
	st.DeleteAt("airports", airportID(0), now.Add(-time.Hour))
	st.UpdateAt("airports", airportID(1), airport(1, "ZZ"), now.Add(-time.Hour))

	reg := registry.New()
	reg.RegisterKind(airportsKind())
	rec := recovery.New(st, reg, clock.Fixed(now))
	ctx := context.Background()

	cs, err := rec.Diff(ctx, "airports", t0.Format(time.RFC3339), "")
	require.NoError(t, err)
	require.Len(t, cs.Deleted, 1)
	require.Len(t, cs.Modified, 1)
	require.Empty(t, cs.Added)

	page, err := rec.Snapshot(ctx, "airports", t0.Format(time.RFC3339), 2, 0)
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Len(t, page.Records, 2)

	buckets, err := rec.Timeline(ctx, "airports", 4)
	require.NoError(t, err)
	require.NotEmpty(t, buckets)
	var total int
	for _, b := range buckets {
		total += b.ChangeCount
	}
	require.GreaterOrEqual(t, total, 2)
}
