package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/storage/boltstore"
	"github.com/agentvault/vault/pkg/werr"
)

func openTestStore(t *testing.T) *boltstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.bolt")
	store, err := boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := storage.StorageRecord{
		Type:  []byte("T"),
		ID:    []byte("1"),
		Value: []byte("ciphertext"),
		Tags: []storage.Tag{
			{Name: []byte("a"), Value: []byte("1"), Kind: storage.TagEncrypted},
			{Name: []byte("b"), Value: []byte("2"), Kind: storage.TagPlaintext},
		},
	}
	require.NoError(t, store.Add(ctx, rec))

	got, err := store.Get(ctx, rec.Type, rec.ID, storage.GetOptions{RetrieveType: true, RetrieveValue: true, RetrieveTags: true})
	require.NoError(t, err)
	assert.Equal(t, rec.Value, got.Value)
	assert.Len(t, got.Tags, 2)
}

func TestAddDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := storage.StorageRecord{Type: []byte("T"), ID: []byte("1"), Value: []byte("v")}
	require.NoError(t, store.Add(ctx, rec))

	err := store.Add(ctx, rec)
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindWalletItemExists))
}

func TestUpdateTagsAndDeleteTags(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := storage.StorageRecord{
		Type: []byte("T"), ID: []byte("1"), Value: []byte("v"),
		Tags: []storage.Tag{
			{Name: []byte("a"), Value: []byte("1"), Kind: storage.TagPlaintext},
			{Name: []byte("b"), Value: []byte("2"), Kind: storage.TagPlaintext},
		},
	}
	require.NoError(t, store.Add(ctx, rec))

	require.NoError(t, store.UpdateTags(ctx, rec.Type, rec.ID, []storage.Tag{
		{Name: []byte("a"), Value: []byte("99"), Kind: storage.TagPlaintext},
	}))
	require.NoError(t, store.DeleteTags(ctx, rec.Type, rec.ID, [][]byte{[]byte("b")}))

	got, err := store.Get(ctx, rec.Type, rec.ID, storage.GetOptions{RetrieveTags: true})
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, []byte("a"), got.Tags[0].Name)
	assert.Equal(t, []byte("99"), got.Tags[0].Value)
}

func TestGetAllScopedByType(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Add(ctx, storage.StorageRecord{Type: []byte("T1"), ID: []byte("1"), Value: []byte("v")}))
	require.NoError(t, store.Add(ctx, storage.StorageRecord{Type: []byte("T1"), ID: []byte("2"), Value: []byte("v")}))
	require.NoError(t, store.Add(ctx, storage.StorageRecord{Type: []byte("T2"), ID: []byte("1"), Value: []byte("v")}))

	cur, err := store.GetAll(ctx, []byte("T1"))
	require.NoError(t, err)
	defer cur.Close()

	count := 0
	for {
		rec, err := cur.Next(ctx)
		require.NoError(t, err)
		if rec == nil {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}

func TestStorageMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.GetStorageMetadata(ctx)
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindWalletNotFound))

	require.NoError(t, store.SetStorageMetadata(ctx, []byte("blob-v1")))
	got, err := store.GetStorageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-v1"), got)
}
