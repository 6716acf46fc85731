package registry

import (
	"testing"

	"github.com/halcyon-sec/driftwatch/pkg/inventory"
	"github.com/halcyon-sec/driftwatch/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(name store.Technology, deps ...store.Technology) Definition {
	return Definition{Name: name, Source: inventory.NewMockSource(), DependsOn: deps}
}

func TestRegisterRejectsDuplicatesAndUnknownDeps(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(def("policy")))

	assert.Error(t, r.Register(def("policy")), "duplicate name")
	assert.Error(t, r.Register(def("role", "missing")), "unregistered dependency")
	assert.Error(t, r.Register(Definition{Name: "nosource"}), "missing source")
	assert.Error(t, r.Register(def("")), "empty name")
}

func TestDependentsFanOut(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(def("policy")))
	require.NoError(t, r.Register(def("role", "policy")))
	require.NoError(t, r.Register(def("group", "policy")))
	require.NoError(t, r.Register(def("bucket")))

	deps := r.Dependents("policy")
	names := []store.Technology{}
	for _, d := range deps {
		names = append(names, d.Name)
	}
	assert.Equal(t, []store.Technology{"group", "role"}, names)
	assert.Empty(t, r.Dependents("bucket"))
}

func TestNamesPreserveRegistrationOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(def("policy")))
	require.NoError(t, r.Register(def("bucket")))
	require.NoError(t, r.Register(def("role", "policy")))

	assert.Equal(t, []store.Technology{"policy", "bucket", "role"}, r.Names())
}
