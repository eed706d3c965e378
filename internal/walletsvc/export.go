package walletsvc

import (
	"context"
	"io"

	"github.com/agentvault/vault/internal/exportimport"
	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/internal/workerpool"
	"github.com/agentvault/vault/pkg/werr"
)

// cursorSource adapts a storage.Cursor of this wallet's own records
// into an exportimport.Source, decrypting type/id/value/tags with the
// wallet's keys as each row is pulled off the cursor.
type cursorSource struct {
	wallet *Wallet
	cursor storage.Cursor
}

func (s *cursorSource) Next(ctx context.Context) (*exportimport.Record, error) {
	raw, err := s.cursor.Next(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	rawType, err := walletcrypto.DecryptSearchable(s.wallet.keys.TypeKey, raw.Type)
	if err != nil {
		return nil, err
	}
	rec, err := s.wallet.decryptRecord(string(rawType), "", raw)
	if err != nil {
		return nil, err
	}
	return &exportimport.Record{Type: rec.Type, ID: rec.ID, Value: rec.Value, Tags: rec.Tags}, nil
}

// Export streams every record in the wallet to sink under a fresh key
// derived from exportPassphrase (spec.md §4.6), independent of the
// wallet's own passphrase — a dump taken under one export key can be
// imported into a wallet with an entirely different master key.
func (w *Wallet) Export(ctx context.Context, sink io.Writer, exportPassphrase []byte, method walletcrypto.KDFMethod, params walletcrypto.KDFParams) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		cur, err := w.backend.ExportAll(ctx)
		if err != nil {
			return struct{}{}, err
		}
		defer cur.Close()

		src := &cursorSource{wallet: w, cursor: cur}
		err = exportimport.Export(ctx, sink, src, exportPassphrase, method, params)
		w.metrics.ObserveOperation("export", err)
		return struct{}{}, err
	})
}

// walletSink adapts a Wallet's untyped write path into an
// exportimport.Sink, re-encrypting each imported record under the
// target wallet's own keys (not the export key).
type walletSink struct {
	wallet *Wallet
}

func (s *walletSink) Put(ctx context.Context, rec exportimport.Record) error {
	return s.wallet.addRecord(ctx, rec.Type, rec.ID, rec.Value, rec.Tags)
}

// Import creates a brand-new wallet per req and streams source into it
// under the target wallet's own keys, having decrypted it with
// exportPassphrase. If any chunk fails authentication, the half-built
// target wallet is deleted before the error is returned — no partial
// state is ever visible to a caller (spec.md §4.6/§7).
func (m *Manager) Import(ctx context.Context, req OpenRequest, source io.Reader, exportPassphrase []byte, exportParams walletcrypto.KDFParams) (Handle, *Wallet, error) {
	handle, w, err := m.Create(ctx, req)
	if err != nil {
		return "", nil, err
	}

	sink := &walletSink{wallet: w}
	if err := exportimport.Import(ctx, source, sink, exportPassphrase, exportParams); err != nil {
		_ = w.Close()
		if delErr := m.Delete(ctx, req); delErr != nil {
			return "", nil, werr.Wrap(werr.KindStorage, delErr, "deleting partially imported wallet after %v", err)
		}
		return "", nil, err
	}

	m.metrics.ObserveOperation("import", nil)
	return handle, w, nil
}
