package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/registry"
	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/pkg/werr"
)

type stubFactory struct{}

func (stubFactory) Init(context.Context, []byte, []byte) error { return nil }
func (stubFactory) Open(context.Context, []byte, []byte) (storage.Backend, error) {
	return nil, nil
}
func (stubFactory) Delete(context.Context, []byte, []byte) error { return nil }

var _ storage.Factory = stubFactory{}

func TestNewDefaultRegistersBuiltins(t *testing.T) {
	r := registry.NewDefault()
	names := r.Names()
	assert.Contains(t, names, "sqlite")
	assert.Contains(t, names, "bolt")
	assert.Contains(t, names, "postgres")
}

func TestLookupUnknownStorageType(t *testing.T) {
	r := registry.New()
	_, err := r.Lookup("nonexistent")
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindUnknownStorageType))
}

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("custom", stubFactory{}))

	f, err := r.Lookup("custom")
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestRegisterEmptyNameRejected(t *testing.T) {
	r := registry.New()
	err := r.Register("", stubFactory{})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindInvalidStructure))
}

func TestUnregisterRemovesLookup(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("custom", stubFactory{}))
	r.Unregister("custom")

	_, err := r.Lookup("custom")
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindUnknownStorageType))
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("custom", stubFactory{}))
	require.NoError(t, r.Register("custom", stubFactory{}))

	names := r.Names()
	count := 0
	for _, n := range names {
		if n == "custom" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
