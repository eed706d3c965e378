package walletsvc_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/registry"
	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/internal/walletsvc"
	"github.com/agentvault/vault/internal/workerpool"
)

func newTestManager(t *testing.T) *walletsvc.Manager {
	t.Helper()
	return walletsvc.NewManager(walletsvc.ManagerConfig{Registry: registry.NewDefault()})
}

func sqliteConfig(t *testing.T) []byte {
	t.Helper()
	cfg, err := json.Marshal(struct {
		Path string `json:"path"`
	}{Path: filepath.Join(t.TempDir(), "wallet.db")})
	require.NoError(t, err)
	return cfg
}

func createWallet(t *testing.T, m *walletsvc.Manager) *walletsvc.Wallet {
	t.Helper()
	req := walletsvc.OpenRequest{
		StorageType: "sqlite",
		Config:      sqliteConfig(t),
		KDFMethod:   walletcrypto.KDFInteractive,
		Passphrase:  []byte("correct horse battery staple"),
		Params:      walletcrypto.InteractiveParams,
	}
	_, w, err := m.Create(context.Background(), req)
	require.NoError(t, err)
	return w
}

func TestAddRecordGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	addFut := w.AddRecord(ctx, "Did", "did:example:1", []byte{0xDE, 0xAD, 0xBE, 0xEF}, map[string]string{
		"~city":  "Boston",
		"secret": "x",
	})
	_, err := addFut.Wait(ctx)
	require.NoError(t, err)

	getFut := w.Get(ctx, "Did", "did:example:1", walletsvc.GetOptions{RetrieveValue: true, RetrieveTags: true})
	rec, err := getFut.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, rec.Value)
	assert.Equal(t, "Boston", rec.Tags["~city"])
	assert.Equal(t, "x", rec.Tags["secret"])
}

func TestAddDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	_, err := w.AddRecord(ctx, "Did", "dup", []byte("v"), nil).Wait(ctx)
	require.NoError(t, err)

	_, err = w.AddRecord(ctx, "Did", "dup", []byte("v2"), nil).Wait(ctx)
	require.Error(t, err)
}

func TestTypedAddAndGet(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	type credential struct {
		Issuer string `json:"issuer"`
		Score  int    `json:"score"`
	}
	want := credential{Issuer: "acme", Score: 7}

	_, err := walletsvc.Add(ctx, w, "Credential", "cred-1", want, nil).Wait(ctx)
	require.NoError(t, err)

	got, err := walletsvc.GetTyped[credential](ctx, w, "Credential", "cred-1").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateValueAndDelete(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	_, err := w.AddRecord(ctx, "Did", "u1", []byte("v1"), nil).Wait(ctx)
	require.NoError(t, err)

	_, err = w.UpdateValue(ctx, "Did", "u1", []byte("v2")).Wait(ctx)
	require.NoError(t, err)

	rec, err := w.Get(ctx, "Did", "u1", walletsvc.GetOptions{RetrieveValue: true}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), rec.Value)

	_, err = w.Delete(ctx, "Did", "u1").Wait(ctx)
	require.NoError(t, err)

	_, err = w.Get(ctx, "Did", "u1", walletsvc.GetOptions{RetrieveValue: true}).Wait(ctx)
	assert.Error(t, err)
}

func TestAddTagsUpdateTagsDeleteTags(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	_, err := w.AddRecord(ctx, "Did", "t1", []byte("v"), map[string]string{"~age": "20"}).Wait(ctx)
	require.NoError(t, err)

	_, err = w.AddTags(ctx, "Did", "t1", map[string]string{"secret": "x"}).Wait(ctx)
	require.NoError(t, err)

	_, err = w.UpdateTags(ctx, "Did", "t1", map[string]string{"~age": "21"}).Wait(ctx)
	require.NoError(t, err)

	rec, err := w.Get(ctx, "Did", "t1", walletsvc.GetOptions{RetrieveTags: true}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "21", rec.Tags["~age"])
	assert.Equal(t, "x", rec.Tags["secret"])

	_, err = w.DeleteTags(ctx, "Did", "t1", []string{"secret"}).Wait(ctx)
	require.NoError(t, err)

	rec, err = w.Get(ctx, "Did", "t1", walletsvc.GetOptions{RetrieveTags: true}).Wait(ctx)
	require.NoError(t, err)
	_, hasSecret := rec.Tags["secret"]
	assert.False(t, hasSecret)
}

func TestSearchPlaintextRange(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	for _, age := range []string{"20", "30", "40"} {
		_, err := w.AddRecord(ctx, "Did", "age-"+age, []byte("v"), map[string]string{"~age": age}).Wait(ctx)
		require.NoError(t, err)
	}

	query := []byte(`{"~age": {"$gte": "25"}}`)
	result, err := w.Search(ctx, "Did", query, walletsvc.SearchOptions{
		GetOptions:      walletsvc.GetOptions{RetrieveValue: true, RetrieveTags: true},
		RetrieveRecords: true,
	}).Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
}

func TestSearchEncryptedEquality(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	_, err := w.AddRecord(ctx, "Did", "e1", []byte("v"), map[string]string{"secret": "alpha"}).Wait(ctx)
	require.NoError(t, err)
	_, err = w.AddRecord(ctx, "Did", "e2", []byte("v"), map[string]string{"secret": "beta"}).Wait(ctx)
	require.NoError(t, err)

	query := []byte(`{"secret": "alpha"}`)
	result, err := w.Search(ctx, "Did", query, walletsvc.SearchOptions{
		GetOptions:      walletsvc.GetOptions{RetrieveValue: true},
		RetrieveRecords: true,
	}).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "e1", result.Records[0].ID)
}

func TestRekeyPreservesRecords(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	_, err := w.AddRecord(ctx, "Did", "r1", []byte("v"), map[string]string{"~tag": "x"}).Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, w.Rekey(ctx, walletcrypto.KDFInteractive, []byte("new passphrase"), walletcrypto.InteractiveParams))

	rec, err := w.Get(ctx, "Did", "r1", walletsvc.GetOptions{RetrieveValue: true, RetrieveTags: true}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), rec.Value)
	assert.Equal(t, "x", rec.Tags["~tag"])
}

func TestOpenExistingRejectsWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	cfg := sqliteConfig(t)

	req := walletsvc.OpenRequest{
		StorageType: "sqlite",
		Config:      cfg,
		KDFMethod:   walletcrypto.KDFInteractive,
		Passphrase:  []byte("right"),
		Params:      walletcrypto.InteractiveParams,
	}
	_, w, err := m.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	wrong := req
	wrong.Passphrase = []byte("wrong")
	_, _, err = m.OpenExisting(ctx, wrong)
	require.Error(t, err)
}

func TestManyConcurrentAddsBoundedByPool(t *testing.T) {
	ctx := context.Background()
	w := createWallet(t, newTestManager(t))
	defer w.Close()

	futs := make([]*workerpool.Future[struct{}], 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("bulk-%d", i)
		futs = append(futs, w.AddRecord(ctx, "Did", id, []byte("v"), nil))
	}
	for _, fut := range futs {
		_, err := fut.Wait(ctx)
		require.NoError(t, err)
	}

	result, err := w.Search(ctx, "Did", []byte(`{"$and": []}`), walletsvc.SearchOptions{RetrieveRecords: true}).Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Records, 20)
}
