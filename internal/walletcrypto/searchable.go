package walletcrypto

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/agentvault/vault/pkg/werr"
)

// KeyedHash computes a deterministic, keyed digest of data. It backs
// both the searchable-encryption nonce derivation below and the
// tags/type/record-id HMAC keys in the key hierarchy (C3).
func KeyedHash(key, data []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "constructing keyed hash")
	}
	if _, err := h.Write(data); err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "hashing data")
	}
	return h.Sum(nil), nil
}

// EncryptSearchable implements the AEAD-searchable contract: the nonce
// is derived deterministically as the first NonceBytes of
// KeyedHash(hmacKey, plaintext), so identical (key, plaintext) pairs
// always produce identical ciphertext — enabling equality search
// against ciphertext without decrypting anything (spec.md §4.2).
func EncryptSearchable(key, hmacKey, plaintext []byte) ([]byte, error) {
	digest, err := KeyedHash(hmacKey, plaintext)
	if err != nil {
		return nil, err
	}
	nonce := digest[:NonceBytes]

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "constructing AEAD cipher")
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(append([]byte{}, nonce...), sealed...), nil
}

// DecryptSearchable reverses EncryptSearchable. It does not re-derive or
// check the nonce against a fresh HMAC of the recovered plaintext: AEAD
// authentication already guarantees the ciphertext wasn't tampered with,
// and determinism is a property of the encrypting side, not a
// decryption-time invariant.
func DecryptSearchable(key, blob []byte) ([]byte, error) {
	return DecryptRandom(key, blob, nil)
}
