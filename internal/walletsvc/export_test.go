package walletsvc_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/internal/walletsvc"
)

func TestExportImportPreservesAllRecords(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	w := createWallet(t, m)

	const n = 100
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("cred-%03d", i)
		tags := map[string]string{
			"secret":  "shared",
			"~serial": fmt.Sprintf("%d", i),
		}
		_, err := w.AddRecord(ctx, "Credential", id, []byte{byte(i)}, tags).Wait(ctx)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	_, err := w.Export(ctx, &buf, []byte("export-key"), walletcrypto.KDFInteractive, walletcrypto.InteractiveParams).Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	importReq := walletsvc.OpenRequest{
		StorageType: "sqlite",
		Config:      sqliteConfig(t),
		KDFMethod:   walletcrypto.KDFInteractive,
		Passphrase:  []byte("a different passphrase entirely"),
		Params:      walletcrypto.InteractiveParams,
	}
	_, w2, err := m.Import(ctx, importReq, &buf, []byte("export-key"), walletcrypto.InteractiveParams)
	require.NoError(t, err)
	defer w2.Close()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("cred-%03d", i)
		rec, err := w2.Get(ctx, "Credential", id, walletsvc.GetOptions{RetrieveValue: true, RetrieveTags: true}).Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, rec.Value)
		require.Equal(t, "shared", rec.Tags["secret"])
	}
}

func TestImportDeletesWalletOnAuthFailure(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	w := createWallet(t, m)
	_, err := w.AddRecord(ctx, "T", "1", []byte("v"), map[string]string{"~a": "b"}).Wait(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = w.Export(ctx, &buf, []byte("export-key"), walletcrypto.KDFInteractive, walletcrypto.InteractiveParams).Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dbPath := filepath.Join(t.TempDir(), "import-target.db")
	cfg := []byte(`{"path":"` + dbPath + `"}`)
	importReq := walletsvc.OpenRequest{
		StorageType: "sqlite",
		Config:      cfg,
		KDFMethod:   walletcrypto.KDFInteractive,
		Passphrase:  []byte("new"),
		Params:      walletcrypto.InteractiveParams,
	}

	// Wrong export key: Import must fail and the target wallet must be
	// gone, not left half-populated (spec.md §4.6/§7).
	_, _, err = m.Import(ctx, importReq, &buf, []byte("wrong-export-key"), walletcrypto.InteractiveParams)
	require.Error(t, err)

	_, _, err = m.OpenExisting(ctx, walletsvc.OpenRequest{
		StorageType: "sqlite",
		Config:      cfg,
		KDFMethod:   walletcrypto.KDFInteractive,
		Passphrase:  []byte("new"),
		Params:      walletcrypto.InteractiveParams,
	})
	require.Error(t, err, "target wallet storage should have been deleted after the failed import")
}
