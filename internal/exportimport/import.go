package exportimport

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/pkg/werr"
)

// Import reads an Export stream from r, verifying the header HMAC
// before touching sink and the trailer HMAC before returning success.
// Every decrypted batch is handed to sink in stream order. On any
// authentication failure mid-stream, Import returns immediately —
// spec.md §4.6 makes deleting the partially populated target wallet
// the caller's responsibility, since only the caller (walletsvc) holds
// the storage factory needed to do that.
func Import(ctx context.Context, r io.Reader, sink Sink, passphrase []byte, params walletcrypto.KDFParams) error {
	header := make([]byte, headerLen-32)
	if _, err := io.ReadFull(r, header); err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "reading export header")
	}
	if !bytes.Equal(header[0:4], magic[:]) {
		return errBadMagic
	}
	if u32LE(header[4:8]) != formatVersion {
		return errBadVersion
	}
	salt := append([]byte(nil), header[8:8+walletcrypto.SaltBytes]...)
	method, err := kdfMethodFromID(header[8+walletcrypto.SaltBytes])
	if err != nil {
		return err
	}

	wantHeaderHMAC := make([]byte, 32)
	if _, err := io.ReadFull(r, wantHeaderHMAC); err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "reading export header HMAC")
	}

	master, err := walletcrypto.DeriveMasterKey(method, passphrase, salt, params)
	if err != nil {
		return err
	}
	sealKey, hmacKey, err := sealHMACKeys(master)
	if err != nil {
		return err
	}

	gotHeaderHMAC, err := walletcrypto.KeyedHash(hmacKey, header)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(gotHeaderHMAC, wantHeaderHMAC) != 1 {
		return errHeaderAuth
	}

	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "constructing export AEAD cipher")
	}
	acc := newTrailerAccumulator(hmacKey)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return werr.Wrap(werr.KindInvalidStructure, err, "reading export chunk length")
		}
		chunkLen := u32LE(lenBuf)
		if chunkLen == sentinelChunkLen {
			break
		}

		body := make([]byte, chunkLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return werr.Wrap(werr.KindInvalidStructure, err, "reading export chunk body")
		}

		frame := append(lenBuf, body...)
		acc.write(frame)

		if len(body) < walletcrypto.NonceBytes+walletcrypto.TagBytes {
			return errTruncated
		}
		nonce, ciphertext := body[:walletcrypto.NonceBytes], body[walletcrypto.NonceBytes:]
		plain, err := aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return werr.Wrap(werr.KindAccessFailed, err, "export chunk authentication failed")
		}

		var batch []Record
		if err := json.Unmarshal(plain, &batch); err != nil {
			return werr.Wrap(werr.KindInvalidStructure, err, "decoding export chunk")
		}
		for _, rec := range batch {
			if err := sink.Put(ctx, rec); err != nil {
				return err
			}
		}
	}

	wantTrailerHMAC := make([]byte, 32)
	if _, err := io.ReadFull(r, wantTrailerHMAC); err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "reading export trailer HMAC")
	}
	if subtle.ConstantTimeCompare(acc.sum(), wantTrailerHMAC) != 1 {
		return errTrailerAuth
	}
	return nil
}
