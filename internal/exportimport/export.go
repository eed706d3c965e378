package exportimport

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sync/errgroup"

	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/pkg/werr"
)

// sealHMACKeys derives the two keys Export/Import actually use from the
// export master key via domain-separated keyed hashes, so the same
// key material never backs both AEAD sealing and HMAC accumulation —
// the same key-separation principle the wallet's own subkey hierarchy
// follows (spec.md "WalletKeys").
func sealHMACKeys(exportMaster []byte) (sealKey, hmacKey []byte, err error) {
	sealKey, err = walletcrypto.KeyedHash(exportMaster, []byte("wallet-export-seal-v1"))
	if err != nil {
		return nil, nil, err
	}
	hmacKey, err = walletcrypto.KeyedHash(exportMaster, []byte("wallet-export-hmac-v1"))
	if err != nil {
		return nil, nil, err
	}
	return sealKey, hmacKey, nil
}

// Export streams every Record src yields to w in the bit-exact format
// of spec.md §6: header, sealed chunks, sentinel terminator, trailer
// HMAC. method must be ARGON2I_MOD or ARGON2I_INT — export always
// derives its own key from passphrase, independent of the source
// wallet's own KDF method.
func Export(ctx context.Context, w io.Writer, src Source, passphrase []byte, method walletcrypto.KDFMethod, params walletcrypto.KDFParams) error {
	id, err := kdfID(method)
	if err != nil {
		return err
	}

	salt, err := walletcrypto.NewSalt()
	if err != nil {
		return err
	}

	master, err := walletcrypto.DeriveMasterKey(method, passphrase, salt, params)
	if err != nil {
		return err
	}
	sealKey, hmacKey, err := sealHMACKeys(master)
	if err != nil {
		return err
	}

	header := make([]byte, headerLen-32)
	copy(header[0:4], magic[:])
	putU32LE(header[4:8], formatVersion)
	copy(header[8:8+walletcrypto.SaltBytes], salt)
	header[8+walletcrypto.SaltBytes] = id

	headerHMAC, err := walletcrypto.KeyedHash(hmacKey, header)
	if err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return werr.Wrap(werr.KindIOError, err, "writing export header")
	}
	if _, err := w.Write(headerHMAC); err != nil {
		return werr.Wrap(werr.KindIOError, err, "writing export header HMAC")
	}

	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "constructing export AEAD cipher")
	}
	acc := newTrailerAccumulator(hmacKey)

	// Chunk sealing is pipelined one batch ahead of the write side: a
	// goroutine drains src and seals batches into frames while the
	// previous frame is written to w, bounding memory to two in-flight
	// batches rather than the whole wallet (SPEC_FULL §8).
	chunks := make(chan []byte, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		batch := make([]Record, 0, maxRecordsPerChunk)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			frame, err := sealBatch(aead, batch)
			if err != nil {
				return err
			}
			batch = make([]Record, 0, maxRecordsPerChunk)
			select {
			case chunks <- frame:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		for {
			rec, err := src.Next(gctx)
			if err != nil {
				return err
			}
			if rec == nil {
				return flush()
			}
			batch = append(batch, *rec)
			if len(batch) >= maxRecordsPerChunk {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	})

	var writeErr error
	for frame := range chunks {
		if writeErr != nil {
			continue // drain the channel so the producer goroutine doesn't block
		}
		if _, err := w.Write(frame); err != nil {
			writeErr = werr.Wrap(werr.KindIOError, err, "writing export chunk")
			continue
		}
		acc.write(frame)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	sentinel := make([]byte, 4)
	putU32LE(sentinel, sentinelChunkLen)
	if _, err := w.Write(sentinel); err != nil {
		return werr.Wrap(werr.KindIOError, err, "writing export sentinel chunk")
	}

	if _, err := w.Write(acc.sum()); err != nil {
		return werr.Wrap(werr.KindIOError, err, "writing export trailer HMAC")
	}
	return nil
}

// sealBatch JSON-encodes batch as a self-describing record list
// (spec.md §6: "chunk plaintext is a map-encoded list of record
// tuples" — a JSON array of objects is exactly that, and unlike a
// fixed binary struct it tolerates an older wallet schema with fewer
// tag fields on import) and seals it, returning the full
// CHUNK_LEN ‖ NONCE ‖ CIPHERTEXT ‖ TAG frame.
func sealBatch(aead cipher.AEAD, batch []Record) ([]byte, error) {
	plain, err := json.Marshal(batch)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "encoding export chunk")
	}

	nonce := make([]byte, walletcrypto.NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, werr.Wrap(werr.KindIOError, err, "generating export chunk nonce")
	}

	sealed := aead.Seal(nil, nonce, plain, nil)

	frame := make([]byte, 4+walletcrypto.NonceBytes+len(sealed))
	putU32LE(frame[:4], uint32(len(nonce)+len(sealed))) //nolint:gosec // G115: chunk size bounded by maxRecordsPerChunk, never near u32 overflow
	copy(frame[4:], nonce)
	copy(frame[4+len(nonce):], sealed)
	return frame, nil
}
