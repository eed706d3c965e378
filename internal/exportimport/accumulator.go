package exportimport

import "golang.org/x/crypto/blake2b"

// trailerAccumulator computes the running HMAC of every chunk frame
// written to the export stream (spec.md §4.6's "trailer carrying a
// running HMAC of all chunk ciphertexts"), without buffering the
// frames themselves.
type trailerAccumulator struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

func newTrailerAccumulator(hmacKey []byte) *trailerAccumulator {
	h, err := blake2b.New256(hmacKey)
	if err != nil {
		// hmacKey is always a 32-byte KeyedHash output; blake2b.New256
		// only rejects keys longer than 64 bytes.
		panic(err)
	}
	return &trailerAccumulator{h: h}
}

func (a *trailerAccumulator) write(frame []byte) {
	_, _ = a.h.Write(frame)
}

func (a *trailerAccumulator) sum() []byte {
	return a.h.Sum(nil)
}
