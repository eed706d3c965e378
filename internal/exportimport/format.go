// Package exportimport implements the bit-exact wallet export/import
// stream (spec.md §4.6/§6): a passphrase-sealed sequence of chunks that
// carries a wallet's decrypted records across key hierarchies, so a
// dump taken under one passphrase can be re-imported into a wallet
// sealed under a different one entirely.
package exportimport

import (
	"context"
	"encoding/binary"

	"github.com/agentvault/vault/internal/walletcrypto"
)

// Record is one decrypted (type, id, value, tags) triple as it crosses
// the export/import boundary — plaintext, independent of any wallet's
// key hierarchy, since the whole point of export is to survive a
// change of master key (spec.md §4.6).
type Record struct {
	Type  string
	ID    string
	Value []byte
	Tags  map[string]string
}

// Source supplies Records to Export in order. Next returns (nil, nil)
// once exhausted; the caller (walletsvc) wraps a wallet's decrypted
// ExportAll cursor to satisfy this.
type Source interface {
	Next(ctx context.Context) (*Record, error)
}

// Sink consumes Records produced by Import, inserting each into a
// freshly created target wallet under that wallet's own keys.
type Sink interface {
	Put(ctx context.Context, rec Record) error
}

// sentinelChunkLen terminates the repeated chunk sequence before the
// trailer HMAC: a zero-length chunk carries no nonce/ciphertext and
// unambiguously tells a streaming reader "no more chunks follow,
// read the trailer next" without requiring the reader to know the
// total stream length up front.
const sentinelChunkLen uint32 = 0

// maxRecordsPerChunk bounds how many records one chunk batches before
// being sealed and flushed, keeping any single AEAD call's plaintext
// bounded regardless of wallet size.
const maxRecordsPerChunk = 500

// Wire format constants, bit-exact per spec.md §6:
//
//	MAGIC(4) ‖ VERSION(u32 LE) ‖ SALT(32) ‖ KDF_ID(u8) ‖ HEADER_HMAC(32)
//	{ CHUNK_LEN(u32 LE) ‖ NONCE(24) ‖ CIPHERTEXT ‖ TAG(16) }*
//	TRAILER_HMAC(32)
//
// CHUNK_LEN counts the bytes of the NONCE‖CIPHERTEXT‖TAG frame that
// follows it, not the plaintext length — a reader never needs to know
// plaintext size before decrypting.
var magic = [4]byte{'W', 'L', 'T', '1'}

const formatVersion uint32 = 1

const headerLen = 4 + 4 + walletcrypto.SaltBytes + 1 + 32

// kdfID maps a KDFMethod to the single byte the header persists it as.
// RAW is excluded: export always derives its own key from a caller-
// supplied passphrase, independent of the source wallet's KDF method.
func kdfID(method walletcrypto.KDFMethod) (byte, error) {
	switch method {
	case walletcrypto.KDFModerate:
		return 0, nil
	case walletcrypto.KDFInteractive:
		return 1, nil
	default:
		return 0, errUnsupportedKDF
	}
}

func kdfMethodFromID(id byte) (walletcrypto.KDFMethod, error) {
	switch id {
	case 0:
		return walletcrypto.KDFModerate, nil
	case 1:
		return walletcrypto.KDFInteractive, nil
	default:
		return "", errUnsupportedKDF
	}
}

func putU32LE(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func u32LE(b []byte) uint32         { return binary.LittleEndian.Uint32(b) }
