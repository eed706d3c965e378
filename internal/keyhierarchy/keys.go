// Package keyhierarchy derives and seals the wallet's key material: the
// master key (from a passphrase or raw key via walletcrypto's KDF
// contracts) and the eight subkeys it wraps (spec.md "WalletKeys").
package keyhierarchy

import (
	"encoding/json"

	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/pkg/werr"
)

// WalletKeys bundles the eight symmetric keys a wallet uses to encrypt
// and index records. The HMAC keys drive deterministic ciphertexts
// (searchable encryption); the AEAD keys drive randomized ciphertexts
// (payload confidentiality).
type WalletKeys struct {
	TypeKey     []byte `json:"type_key"`
	NameKey     []byte `json:"name_key"`
	ValueKey    []byte `json:"value_key"`
	TagNameKey  []byte `json:"tag_name_key"`
	TagValueKey []byte `json:"tag_value_key"`
	TagsHMACKey []byte `json:"tags_hmac_key"`
	TypeHMACKey []byte `json:"type_hmac_key"`
	IDHMACKey   []byte `json:"id_hmac_key"`

	locked bool
}

// slots lists every subkey slice, for Lock/Wipe to iterate uniformly.
func (k *WalletKeys) slots() [][]byte {
	return [][]byte{
		k.TypeKey, k.NameKey, k.ValueKey, k.TagNameKey,
		k.TagValueKey, k.TagsHMACKey, k.TypeHMACKey, k.IDHMACKey,
	}
}

// Lock attempts to mlock every subkey so the open wallet's decrypted
// key bundle is never paged to disk. Best-effort: a platform or
// RLIMIT_MEMLOCK failure here does not fail wallet open.
func (k *WalletKeys) Lock() {
	locked := true
	for _, slot := range k.slots() {
		if !walletcrypto.MemLock(slot) {
			locked = false
		}
	}
	k.locked = locked
}

// Wipe zeroes and unlocks every subkey. Call when a Wallet closes so
// key material doesn't linger in process memory past the handle's
// lifetime.
func (k *WalletKeys) Wipe() {
	for _, slot := range k.slots() {
		for i := range slot {
			slot[i] = 0
		}
		if k.locked {
			walletcrypto.MemUnlock(slot)
		}
	}
	k.locked = false
}

// Metadata is the bytes persisted in a wallet's single storage metadata
// slot: the master-key salt plus the sealed WalletKeys blob. Every
// wallet has exactly one Metadata record (spec.md "WalletMetadata").
type Metadata struct {
	KDFMethod walletcrypto.KDFMethod
	Salt      []byte
	Sealed    []byte
}

// GenerateWalletKeys produces a fresh set of eight random subkeys.
func GenerateWalletKeys() (*WalletKeys, error) {
	keys := &WalletKeys{}
	slots := []*[]byte{
		&keys.TypeKey, &keys.NameKey, &keys.ValueKey,
		&keys.TagNameKey, &keys.TagValueKey, &keys.TagsHMACKey,
		&keys.TypeHMACKey, &keys.IDHMACKey,
	}
	for _, slot := range slots {
		k, err := walletcrypto.GenerateKey()
		if err != nil {
			return nil, werr.Wrap(werr.KindIOError, err, "generating wallet subkey")
		}
		*slot = k
	}
	keys.Lock()
	return keys, nil
}

// Create derives a master key from passphrase and a fresh salt,
// generates a new WalletKeys set, and seals it — implementing the
// wallet-creation sequence: derive master key, generate eight subkeys,
// serialize, AEAD-seal under the master key, return salt + sealed blob
// as storage metadata (spec.md §5 "On wallet creation").
func Create(method walletcrypto.KDFMethod, passphrase []byte, params walletcrypto.KDFParams) (*Metadata, *WalletKeys, error) {
	var salt []byte
	var err error
	if method != walletcrypto.KDFRaw {
		salt, err = walletcrypto.NewSalt()
		if err != nil {
			return nil, nil, err
		}
	}

	master, err := walletcrypto.DeriveMasterKey(method, passphrase, salt, params)
	if err != nil {
		return nil, nil, err
	}

	keys, err := GenerateWalletKeys()
	if err != nil {
		return nil, nil, err
	}

	sealed, err := seal(master, keys)
	if err != nil {
		return nil, nil, err
	}

	return &Metadata{KDFMethod: method, Salt: salt, Sealed: sealed}, keys, nil
}

// Open derives the master key from passphrase and Metadata's salt, then
// unseals the WalletKeys blob. A wrong passphrase or a corrupted blob
// surfaces as KindAccessFailed, matching the wallet service's open
// contract (spec.md invariant I4); an error from DeriveMasterKey itself
// (unknown method, empty salt, bad RAW key length) is returned as is.
func Open(meta *Metadata, passphrase []byte, params walletcrypto.KDFParams) (*WalletKeys, error) {
	master, err := walletcrypto.DeriveMasterKey(meta.KDFMethod, passphrase, meta.Salt, params)
	if err != nil {
		return nil, err
	}

	keys, err := unseal(master, meta.Sealed)
	if err != nil {
		return nil, werr.Wrap(werr.KindAccessFailed, err, "unsealing wallet keys")
	}
	return keys, nil
}

// Rotate derives a new master key from newPassphrase and a fresh salt,
// then re-seals the existing WalletKeys under it. Per-record data is
// untouched: only the metadata blob changes (spec.md §5 "Rotation").
func Rotate(keys *WalletKeys, method walletcrypto.KDFMethod, newPassphrase []byte, params walletcrypto.KDFParams) (*Metadata, error) {
	var salt []byte
	var err error
	if method != walletcrypto.KDFRaw {
		salt, err = walletcrypto.NewSalt()
		if err != nil {
			return nil, err
		}
	}

	master, err := walletcrypto.DeriveMasterKey(method, newPassphrase, salt, params)
	if err != nil {
		return nil, err
	}

	sealed, err := seal(master, keys)
	if err != nil {
		return nil, err
	}

	return &Metadata{KDFMethod: method, Salt: salt, Sealed: sealed}, nil
}

func seal(master []byte, keys *WalletKeys) ([]byte, error) {
	plain, err := json.Marshal(keys)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "serializing wallet keys")
	}
	return walletcrypto.EncryptRandom(master, plain, nil)
}

func unseal(master, sealed []byte) (*WalletKeys, error) {
	plain, err := walletcrypto.DecryptRandom(master, sealed, nil)
	if err != nil {
		return nil, err
	}
	var keys WalletKeys
	if err := json.Unmarshal(plain, &keys); err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "parsing wallet keys")
	}
	keys.Lock()
	return &keys, nil
}
