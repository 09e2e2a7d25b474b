package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightvault/recovery/internal/types"
)

func TestRegisterKindAndLookup(t *testing.T) {
	r := New()
	r.RegisterKind(types.EntityKind{Name: "airports", PrimaryKey: "airport_id"})

	k, ok := r.Lookup("airports")
	require.True(t, ok)
	require.Equal(t, "airport_id", k.PrimaryKey)

	_, ok = r.Lookup("routes")
	require.False(t, ok)
}

func TestLoadYAMLRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	content := `
kinds:
  - name: airports
    primary_key: airport_id
    required_fields: [name, iata_code]
    critical_fields: [name, iata_code]
    expected_count_bounds:
      min: 90
      max: 110
  - name: routes
    primary_key: route_id
    references:
      - field_on_self: airport_id
        target_kind: airports
        target_field: airport_id
    mass_delete_threshold: 25
    healthy_threshold: 75
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r := New()
	require.NoError(t, r.Load(path, nil))

	airports, ok := r.Lookup("airports")
	require.True(t, ok)
	require.Equal(t, []string{"name", "iata_code"}, airports.RequiredFields)
	require.True(t, airports.ExpectedCountBounds.Set)
	require.Equal(t, 90, airports.ExpectedCountBounds.Min)

	routes, ok := r.Lookup("routes")
	require.True(t, ok)
	require.Len(t, routes.References, 1)
	require.Equal(t, "airports", routes.References[0].TargetKind)

	require.Equal(t, 25, r.MassDeleteThreshold())
	require.Equal(t, 75, r.HealthyThreshold())

	all := r.All()
	require.Len(t, all, 2)
}

func TestLoadDefaultsWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kinds:\n  - name: widgets\n    primary_key: widget_id\n"), 0o600))

	r := New()
	require.NoError(t, r.Load(path, nil))
	require.Equal(t, defaultMassDeleteThreshold, r.MassDeleteThreshold())
	require.Equal(t, defaultHealthyThreshold, r.HealthyThreshold())
}
