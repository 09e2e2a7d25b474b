package diff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightvault/recovery/internal/types"
)

func airportKind() types.EntityKind {
	return types.EntityKind{Name: "airports", PrimaryKey: "airport_id"}
}

func rec(id, name string) types.Record {
	return types.Record{"airport_id": id, "name": name}
}

func TestCompareAddedDeletedModified(t *testing.T) {
	before := []types.Record{rec("JFK", "JFK Intl"), rec("LAX", "LAX Intl")}
	after := []types.Record{rec("LAX", "Los Angeles Intl"), rec("ORD", "O'Hare")}

	e := New()
	cs, err := e.Compare(airportKind(), before, after)
	require.NoError(t, err)

	require.Len(t, cs.Added, 1)
	require.Equal(t, "ORD", cs.Added[0]["airport_id"])

	require.Len(t, cs.Deleted, 1)
	require.Equal(t, "JFK", cs.Deleted[0]["airport_id"])

	require.Len(t, cs.Modified, 1)
	require.Equal(t, "LAX", cs.Modified[0].Key)
	require.Len(t, cs.Modified[0].FieldChanges, 1)
	require.Equal(t, "name", cs.Modified[0].FieldChanges[0].Field)
}

// TestDiffSymmetry is property 1 of §8: diff(A,B).added == diff(B,A).deleted.
func TestDiffSymmetry(t *testing.T) {
	a := []types.Record{rec("JFK", "JFK Intl"), rec("LAX", "LAX Intl")}
	b := []types.Record{rec("LAX", "LAX Intl"), rec("ORD", "O'Hare")}

	e := New()
	ab, err := e.Compare(airportKind(), a, b)
	require.NoError(t, err)
	ba, err := e.Compare(airportKind(), b, a)
	require.NoError(t, err)

	require.Equal(t, keysOf(ab.Added), keysOf(ba.Deleted))
	require.Equal(t, keysOf(ab.Deleted), keysOf(ba.Added))
}

// TestDiffIdempotence is property 2 of §8: diff(A,A) = empty.
func TestDiffIdempotence(t *testing.T) {
	a := []types.Record{rec("JFK", "JFK Intl"), rec("LAX", "LAX Intl")}
	e := New()
	cs, err := e.Compare(airportKind(), a, a)
	require.NoError(t, err)
	require.Equal(t, 0, cs.TotalChanges())
}

// TestProvenanceNeutrality is property 3 of §8.
func TestProvenanceNeutrality(t *testing.T) {
	withProv := types.Record{"airport_id": "JFK", "name": "JFK Intl", "row_start": "t0", "status": "CURRENT"}
	without := types.Record{"airport_id": "JFK", "name": "JFK Intl"}

	e := New()
	a, err := e.Compare(airportKind(), []types.Record{withProv}, []types.Record{without})
	require.NoError(t, err)
	require.Equal(t, 0, a.TotalChanges())
}

func TestCompareMissingPrimaryKeyIsPrecondition(t *testing.T) {
	e := New()
	_, err := e.Compare(airportKind(), []types.Record{{"name": "no id"}}, nil)
	require.Error(t, err)
	require.True(t, types.IsKind(err, types.KindPrecondition))
}

func keysOf(records []types.Record) map[string]bool {
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r["airport_id"].(string)] = true
	}
	return out
}
