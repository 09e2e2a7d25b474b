package validator

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

func routesKind() types.EntityKind {
	return types.EntityKind{
		Name:       "routes",
		PrimaryKey: "route_id",
		References: []types.Reference{
			{FieldOnSelf: "airport_id", TargetKind: "airports", TargetField: "airport_id"},
		},
	}
}

// TestOutgoingReferenceBlocksWhenTargetMissing is scenario S4 (§8): a route
// referencing a deleted airport cannot be safely restored.
func TestOutgoingReferenceBlocksWhenTargetMissing(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	st.Seed("airports", "airport_id", []types.Record{{"airport_id": "JFK"}}, now.Add(-time.Hour))
	st.DeleteAt("airports", "JFK", now.Add(-30*time.Minute))

	rt := routesKind()
	v := New(st)

	restoreSet := []types.Record{{"route_id": "R1", "airport_id": "JFK"}}
	res, err := v.Validate(context.Background(), rt, restoreSet, []types.EntityKind{airportsKind(), rt})
	require.NoError(t, err)

	require.False(t, res.SafeToRestore)
	require.Len(t, res.ForeignKeyIssues, 1)
	require.Equal(t, "R1", res.ForeignKeyIssues[0].Key)
	require.Equal(t, "airports", res.ForeignKeyIssues[0].TargetKind)
}

func TestOutgoingReferenceSafeWhenTargetExists(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	st.Seed("airports", "airport_id", []types.Record{{"airport_id": "JFK"}}, now.Add(-time.Hour))

	rt := routesKind()
	v := New(st)

	restoreSet := []types.Record{{"route_id": "R1", "airport_id": "JFK"}}
	res, err := v.Validate(context.Background(), rt, restoreSet, []types.EntityKind{airportsKind(), rt})
	require.NoError(t, err)
	require.True(t, res.SafeToRestore)
	require.Empty(t, res.ForeignKeyIssues)
}

// TestIncomingReferenceWarnsOnly checks that restoring an airport with
// existing referring routes only warns, never blocks.
func TestIncomingReferenceWarnsOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	st.Seed("routes", "route_id", []types.Record{
		{"route_id": "R1", "airport_id": "JFK"},
		{"route_id": "R2", "airport_id": "JFK"},
	}, now.Add(-time.Hour))

	ap := airportsKind()
	rt := routesKind()
	v := New(st)

	restoreSet := []types.Record{{"airport_id": "JFK"}}
	res, err := v.Validate(context.Background(), ap, restoreSet, []types.EntityKind{ap, rt})
	require.NoError(t, err)

	require.True(t, res.SafeToRestore)
	require.Empty(t, res.ForeignKeyIssues)
	require.Len(t, res.CascadeImpact, 1)
	require.Equal(t, 2, res.CascadeImpact[0].Count)
	require.NotEmpty(t, res.Warnings)
	require.Contains(t, res.AffectedKinds, "routes")
}

func TestValidateNoReferencesIsTriviallySafe(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	ap := airportsKind()
	v := New(st)

	res, err := v.Validate(context.Background(), ap, []types.Record{{"airport_id": "JFK"}}, []types.EntityKind{ap})
	require.NoError(t, err)
	require.True(t, res.SafeToRestore)
	require.Empty(t, res.CascadeImpact)
}
