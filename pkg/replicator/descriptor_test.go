package replicator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LookupUnknown(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Lookup("missing_v1")
	require.Error(t, err)
	assert.Equal(t, `no connector registered for service "missing_v1"`, err.Error())

	var invalid *InvalidServiceError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "missing_v1", invalid.Name)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	connector := &baseConnector{name: "alpha_v1"}
	registry.Register(connector)

	got, err := registry.Lookup("alpha_v1")
	require.NoError(t, err)
	assert.Same(t, connector, got)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&baseConnector{name: "alpha_v1"})

	assert.PanicsWithValue(t, `connector "alpha_v1" registered twice`, func() {
		registry.Register(&baseConnector{name: "alpha_v1"})
	})
}

func TestRegistry_DescriptorsSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&baseConnector{name: "zeta_v1"})
	registry.Register(&baseConnector{name: "alpha_v1"})
	registry.Register(&baseConnector{name: "mid_v1"})

	descriptors := registry.Descriptors()
	require.Len(t, descriptors, 3)
	assert.Equal(t, "alpha_v1", descriptors[0].Name)
	assert.Equal(t, "mid_v1", descriptors[1].Name)
	assert.Equal(t, "zeta_v1", descriptors[2].Name)
}
