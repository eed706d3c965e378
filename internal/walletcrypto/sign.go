package walletcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"

	"golang.org/x/crypto/curve25519"

	"github.com/agentvault/vault/pkg/werr"
)

// GenerateSigningKey returns a fresh Ed25519 key pair.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, werr.Wrap(werr.KindIOError, err, "generating signing key")
	}
	return pub, priv, nil
}

// Sign produces a detached Ed25519 signature over message.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify checks a detached Ed25519 signature.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}

// DeriveX25519FromEd25519 implements the monodirectional mapping from an
// Ed25519 signing seed to an X25519 key-agreement private scalar
// (spec.md §4.2's "derive an encryption key from a signing key"). This
// follows the standard birational map used by libsodium's
// crypto_sign_ed25519_sk_to_curve25519: the X25519 scalar is the
// clamped first half of SHA-512(seed). The mapping is one-way — it is
// not possible to recover an Ed25519 key from the derived X25519 key.
func DeriveX25519FromEd25519(priv ed25519.PrivateKey) ([]byte, error) {
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	scalar := make([]byte, curve25519.ScalarSize)
	copy(scalar, h[:curve25519.ScalarSize])
	// Clamp per RFC 7748.
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar, nil
}

// X25519PublicFromScalar computes the X25519 public key for a clamped
// scalar produced by DeriveX25519FromEd25519.
func X25519PublicFromScalar(scalar []byte) ([]byte, error) {
	pub, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "computing X25519 public key")
	}
	return pub, nil
}

// X25519SharedSecret computes an X25519 Diffie-Hellman shared secret.
func X25519SharedSecret(scalar, peerPublic []byte) ([]byte, error) {
	shared, err := curve25519.X25519(scalar, peerPublic)
	if err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "computing X25519 shared secret")
	}
	return shared, nil
}
