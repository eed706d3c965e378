// Package walletsvc implements the wallet orchestrating service
// (spec.md C5): the open storage handle, the decrypted key bundle, and
// the typed/untyped record API. Record operations, search and export
// are dispatched through a bounded worker pool and return a Future;
// Manager.Create, Manager.OpenExisting, Manager.Import and Wallet.Rekey
// run on the caller's goroutine, including their memory-hard KDF call.
package walletsvc

import (
	"context"
	"encoding/json"

	"github.com/agentvault/vault/internal/keyhierarchy"
	"github.com/agentvault/vault/internal/obs"
	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/tagquery"
	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/internal/workerpool"
	"github.com/agentvault/vault/pkg/werr"
)

// GetOptions mirrors spec.md §6's record get-options JSON object.
type GetOptions = storage.GetOptions

// SearchOptions mirrors spec.md §6's search options JSON object.
type SearchOptions = storage.SearchOptions

// Record is the decrypted, caller-facing view of a stored item.
type Record struct {
	Type  string
	ID    string
	Value []byte
	Tags  map[string]string
}

// Wallet is an open wallet handle: an independent backend connection
// plus an independent clone of the key bundle, safe for concurrent
// reads; writes serialize through the backend's own primitives
// (spec.md §5).
type Wallet struct {
	backend storage.Backend
	keys    *keyhierarchy.WalletKeys
	pool    *workerpool.Pool
	logger  *obs.Logger
	metrics *obs.Metrics
}

// Config carries the dependencies a Wallet is opened with.
type Config struct {
	Backend storage.Backend
	Keys    *keyhierarchy.WalletKeys
	Pool    *workerpool.Pool
	Logger  *obs.Logger
	Metrics *obs.Metrics
}

// Open wraps an already-open storage.Backend and unsealed key bundle
// into a Wallet handle. Backend opening, key derivation, and metadata
// unsealing are the caller's responsibility (see Create/OpenExisting
// in lifecycle.go) — Open itself never touches storage.
func Open(cfg Config) *Wallet {
	logger := cfg.Logger
	if logger == nil {
		logger = obs.Null()
	}
	pool := cfg.Pool
	if pool == nil {
		pool = workerpool.New(4)
	}
	return &Wallet{backend: cfg.Backend, keys: cfg.Keys, pool: pool, logger: logger, metrics: cfg.Metrics}
}

// Close releases the wallet's backend connection and wipes this
// handle's clone of the key bundle from memory. It does not wait for
// in-flight futures dispatched from this handle; callers that need
// that should Wait on them first.
func (w *Wallet) Close() error {
	w.keys.Wipe()
	return w.backend.Close()
}

func (w *Wallet) encryptType(rawType string) ([]byte, error) {
	return walletcrypto.EncryptSearchable(w.keys.TypeKey, w.keys.TypeHMACKey, []byte(rawType))
}

func (w *Wallet) encryptID(rawID string) ([]byte, error) {
	return walletcrypto.EncryptSearchable(w.keys.NameKey, w.keys.IDHMACKey, []byte(rawID))
}

func (w *Wallet) encryptValue(plaintext []byte) ([]byte, error) {
	perRecordKey, err := walletcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := walletcrypto.WrapKey(w.keys.ValueKey, perRecordKey)
	if err != nil {
		return nil, err
	}
	sealed, err := walletcrypto.EncryptRandom(perRecordKey, plaintext, nil)
	if err != nil {
		return nil, err
	}
	return append(wrapped, sealed...), nil
}

func (w *Wallet) decryptValue(encryptedValue []byte) ([]byte, error) {
	if len(encryptedValue) < walletcrypto.WrappedKeyLen {
		return nil, werr.Newf(werr.KindInvalidStructure, "encrypted value shorter than wrapped-key prefix: %d bytes", len(encryptedValue))
	}
	wrapped, sealed := encryptedValue[:walletcrypto.WrappedKeyLen], encryptedValue[walletcrypto.WrappedKeyLen:]
	perRecordKey, err := walletcrypto.UnwrapKey(w.keys.ValueKey, wrapped)
	if err != nil {
		return nil, err
	}
	return walletcrypto.DecryptRandom(perRecordKey, sealed, nil)
}

func (w *Wallet) encryptTags(tags map[string]string) ([]storage.Tag, error) {
	out := make([]storage.Tag, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for name, value := range tags {
		if name == "" {
			return nil, werr.New(werr.KindInvalidStructure, "empty tag name")
		}
		if seen[name] {
			return nil, werr.New(werr.KindInvalidStructure, "duplicate tag name on record")
		}
		seen[name] = true

		kind := storage.TagEncrypted
		rawName := name
		if name[0] == '~' {
			kind = storage.TagPlaintext
			rawName = name[1:]
		}

		nameCT, err := walletcrypto.EncryptSearchable(w.keys.TagNameKey, w.keys.TagsHMACKey, []byte(rawName))
		if err != nil {
			return nil, err
		}

		var valueOut []byte
		if kind == storage.TagPlaintext {
			valueOut = []byte(value)
		} else {
			valueOut, err = walletcrypto.EncryptSearchable(w.keys.TagValueKey, w.keys.TagsHMACKey, []byte(value))
			if err != nil {
				return nil, err
			}
		}
		out = append(out, storage.Tag{Name: nameCT, Value: valueOut, Kind: kind})
	}
	return out, nil
}

// decryptTagValue reverses the value half of encryptTags. Tag name
// decryption is handled separately in decryptRecord, since the ~
// prefix marker has to be reattached based on tag.Kind.
func decryptTagValue(keys *keyhierarchy.WalletKeys, tag storage.Tag) (string, error) {
	if tag.Kind == storage.TagPlaintext {
		return string(tag.Value), nil
	}
	plain, err := walletcrypto.DecryptSearchable(keys.TagValueKey, tag.Value)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func serializeValue(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "serializing record value")
	}
	return data, nil
}

// Compile resolves a parsed predicate tree against this wallet's key
// bundle — exposed so callers building a search can share the same
// tagquery.Parse/Compile pipeline the write path uses internally.
func (w *Wallet) Compile(node *tagquery.Node) (*tagquery.Compiled, error) {
	return tagquery.Compile(node, w.keys)
}
