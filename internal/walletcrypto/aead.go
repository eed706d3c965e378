// Package walletcrypto implements the cryptographic primitive contracts
// of the wallet: authenticated encryption (randomized and searchable),
// memory-hard key derivation, and signing. It deliberately shadows
// stdlib "crypto" the way the teacher's internal/crypto and
// internal/sigilcrypto packages do — the name describes the domain, not
// the package's relationship to the standard library.
//
//nolint:revive // package name intentionally mirrors stdlib "crypto" for domain clarity
package walletcrypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/agentvault/vault/pkg/werr"
)

// Byte-length constants used throughout the wallet's on-disk and
// on-wire formats. These are bit-exact: the export file format and the
// EncryptedValue wrapped-key prefix both depend on them (SPEC_FULL §8,
// spec.md §3 and §6).
const (
	KeyBytes   = chacha20poly1305.KeySize   // 32
	NonceBytes = chacha20poly1305.NonceSizeX // 24
	TagBytes   = chacha20poly1305.Overhead  // 16

	// WrappedKeyLen is the fixed length of a key wrapped by WrapKey:
	// nonce ‖ wrapped-key-ciphertext ‖ tag.
	WrappedKeyLen = NonceBytes + KeyBytes + TagBytes
)

// GenerateKey returns KeyBytes of cryptographically random key material.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, werr.Wrap(werr.KindIOError, err, "generating random key")
	}
	return key, nil
}

// EncryptRandom implements the AEAD-nonce-random contract: a fresh
// random nonce is generated per call, so repeated calls with identical
// plaintext/key produce different ciphertext. Output layout is
// nonce ‖ ciphertext ‖ tag.
func EncryptRandom(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "constructing AEAD cipher")
	}

	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, werr.Wrap(werr.KindIOError, err, "generating nonce")
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, sealed...), nil
}

// DecryptRandom reverses EncryptRandom. Any tampering — of nonce,
// ciphertext, or tag — surfaces as KindInvalidStructure, never
// distinguishing which property failed (spec.md §7).
func DecryptRandom(key, blob, aad []byte) ([]byte, error) {
	if len(blob) < NonceBytes+TagBytes {
		return nil, werr.New(werr.KindInvalidStructure, "ciphertext shorter than nonce+tag")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "constructing AEAD cipher")
	}

	nonce, ciphertext := blob[:NonceBytes], blob[NonceBytes:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, werr.New(werr.KindInvalidStructure, "authentication failed")
	}
	return plaintext, nil
}

// WrapKey seals a per-record key under a wrap key, producing exactly
// WrappedKeyLen bytes (the EncryptedValue wrapped-key prefix).
func WrapKey(wrapKey, perRecordKey []byte) ([]byte, error) {
	if len(perRecordKey) != KeyBytes {
		return nil, werr.Newf(werr.KindInvalidStructure, "key to wrap must be %d bytes, got %d", KeyBytes, len(perRecordKey))
	}
	wrapped, err := EncryptRandom(wrapKey, perRecordKey, nil)
	if err != nil {
		return nil, err
	}
	if len(wrapped) != WrappedKeyLen {
		return nil, fmt.Errorf("internal error: wrapped key length %d, want %d", len(wrapped), WrappedKeyLen)
	}
	return wrapped, nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(wrapKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) != WrappedKeyLen {
		return nil, werr.Newf(werr.KindInvalidStructure, "wrapped key must be %d bytes, got %d", WrappedKeyLen, len(wrapped))
	}
	return DecryptRandom(wrapKey, wrapped, nil)
}
