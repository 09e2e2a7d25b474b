package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flightvault/recovery/internal/clock"
	"github.com/flightvault/recovery/internal/diff"
	"github.com/flightvault/recovery/internal/store/memstore"
	"github.com/flightvault/recovery/internal/types"
)

func airportsKind() types.EntityKind {
	return types.EntityKind{
		Name:           "airports",
		PrimaryKey:     "airport_id",
		CriticalFields: []string{"name", "iata_code"},
	}
}

// TestMassDeletionRestoredRecentAddKept mirrors scenario S6 (§8): a recent
// legitimate addition co-exists with a mass deletion. Uses the real clock
// since the Classifier's recency check is wall-clock based.
func TestMassDeletionRestoredRecentAddKept(t *testing.T) {
	now := time.Now().UTC()
	seedAt := now.Add(-24 * time.Hour)
	st := memstore.New(clock.Fixed(now))

	airports := make([]types.Record, 20)
	for i := range airports {
		airports[i] = types.Record{"airport_id": id(i), "name": "Airport " + id(i), "iata_code": "X" + id(i)}
	}
	st.Seed("airports", "airport_id", airports, seedAt)
	for i := 0; i < 15; i++ {
		st.DeleteAt("airports", id(i), now.Add(-30*time.Minute))
	}
	st.UpdateAt("airports", "NEW", types.Record{"airport_id": "NEW", "name": "New Airport", "iata_code": "XNW"}, now.Add(-10*time.Minute))

	before, err := st.AsOf(context.Background(), "airports", now.Add(-time.Hour), nil)
	require.NoError(t, err)
	after, err := st.Current(context.Background(), "airports", nil)
	require.NoError(t, err)

	d := diff.New()
	cs, err := d.Compare(airportsKind(), before, after)
	require.NoError(t, err)
	require.Len(t, cs.Deleted, 15)
	require.Len(t, cs.Added, 1)

	c := New(st)
	cl, err := c.Classify(context.Background(), airportsKind(), cs, nil, now.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, cl.Restore, 15)
	require.Len(t, cl.Keep, 1)
	require.Equal(t, "NEW", cl.Keep[0].Key)
}

func id(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return id(i/10) + string(digits[i%10])
}

func TestCriticalFieldModificationRestored(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	st.Seed("airports", "airport_id", []types.Record{{"airport_id": "JFK", "name": "JFK Intl", "iata_code": "JFK"}}, now.Add(-time.Hour))
	st.UpdateAt("airports", "JFK", types.Record{"airport_id": "JFK", "name": "Corrupted Name", "iata_code": "JFK"}, now.Add(-time.Minute))

	before, _ := st.AsOf(context.Background(), "airports", now.Add(-30*time.Minute), nil)
	after, _ := st.Current(context.Background(), "airports", nil)

	cs, err := diff.New().Compare(airportsKind(), before, after)
	require.NoError(t, err)
	require.Len(t, cs.Modified, 1)

	c := New(st)
	cl, err := c.Classify(context.Background(), airportsKind(), cs, nil, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, cl.Restore, 1)
	require.Equal(t, "JFK Intl", cl.Restore[0].Mod.Before["name"])
}

func TestExplicitRuleTakesPrecedence(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := memstore.New(clock.Fixed(now))
	st.Seed("airports", "airport_id", []types.Record{{"airport_id": "JFK", "name": "JFK Intl", "iata_code": "JFK"}}, now.Add(-time.Hour))
	st.UpdateAt("airports", "JFK", types.Record{"airport_id": "JFK", "name": "Renamed", "iata_code": "JFK"}, now.Add(-time.Minute))

	before, _ := st.AsOf(context.Background(), "airports", now.Add(-30*time.Minute), nil)
	after, _ := st.Current(context.Background(), "airports", nil)
	cs, err := diff.New().Compare(airportsKind(), before, after)
	require.NoError(t, err)

	c := New(st)
	rules := []Rule{{Type: types.ChangeModified, Label: types.LabelKeep}}
	cl, err := c.Classify(context.Background(), airportsKind(), cs, rules, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, cl.Keep, 1)
	require.Empty(t, cl.Restore)
}
