package keyhierarchy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/keyhierarchy"
	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/pkg/werr"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	meta, keys, err := keyhierarchy.Create(walletcrypto.KDFInteractive, []byte("a passphrase"), walletcrypto.InteractiveParams)
	require.NoError(t, err)

	opened, err := keyhierarchy.Open(meta, []byte("a passphrase"), walletcrypto.InteractiveParams)
	require.NoError(t, err)
	assert.Equal(t, keys.TypeKey, opened.TypeKey)
	assert.Equal(t, keys.ValueKey, opened.ValueKey)
	assert.Equal(t, keys.TagsHMACKey, opened.TagsHMACKey)
}

func TestOpenWrongPassphraseFailsAccess(t *testing.T) {
	meta, _, err := keyhierarchy.Create(walletcrypto.KDFInteractive, []byte("right"), walletcrypto.InteractiveParams)
	require.NoError(t, err)

	_, err = keyhierarchy.Open(meta, []byte("wrong"), walletcrypto.InteractiveParams)
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindAccessFailed))
}

func TestRotatePreservesSubkeysChangesWrapper(t *testing.T) {
	meta, keys, err := keyhierarchy.Create(walletcrypto.KDFInteractive, []byte("old"), walletcrypto.InteractiveParams)
	require.NoError(t, err)

	newMeta, err := keyhierarchy.Rotate(keys, walletcrypto.KDFInteractive, []byte("new"), walletcrypto.InteractiveParams)
	require.NoError(t, err)
	assert.NotEqual(t, meta.Salt, newMeta.Salt)
	assert.NotEqual(t, meta.Sealed, newMeta.Sealed)

	reopened, err := keyhierarchy.Open(newMeta, []byte("new"), walletcrypto.InteractiveParams)
	require.NoError(t, err)
	assert.Equal(t, keys.ValueKey, reopened.ValueKey, "rotation must not touch the subkeys backing per-record data")

	_, err = keyhierarchy.Open(meta, []byte("old"), walletcrypto.InteractiveParams)
	require.NoError(t, err, "the original metadata blob must remain openable under the old passphrase independent of rotation")

	_, err = keyhierarchy.Open(newMeta, []byte("old"), walletcrypto.InteractiveParams)
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindAccessFailed))
}

func TestGenerateWalletKeysProducesDistinctSubkeys(t *testing.T) {
	keys, err := keyhierarchy.GenerateWalletKeys()
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, k := range [][]byte{
		keys.TypeKey, keys.NameKey, keys.ValueKey, keys.TagNameKey,
		keys.TagValueKey, keys.TagsHMACKey, keys.TypeHMACKey, keys.IDHMACKey,
	} {
		require.Len(t, k, walletcrypto.KeyBytes)
		assert.False(t, seen[string(k)], "subkeys must be independently random")
		seen[string(k)] = true
	}
}

func TestWipeZeroesSubkeys(t *testing.T) {
	keys, err := keyhierarchy.GenerateWalletKeys()
	require.NoError(t, err)

	before := append([]byte(nil), keys.ValueKey...)
	keys.Wipe()

	zero := make([]byte, walletcrypto.KeyBytes)
	assert.Equal(t, zero, keys.ValueKey)
	assert.NotEqual(t, before, keys.ValueKey)
}
