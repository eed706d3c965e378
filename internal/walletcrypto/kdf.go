package walletcrypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"

	"github.com/agentvault/vault/pkg/werr"
)

// KDFMethod selects a key-derivation parameter preset, mirroring the
// credentials object's key_derivation_method field (spec.md §6).
type KDFMethod string

// Supported KDF methods.
const (
	KDFModerate    KDFMethod = "ARGON2I_MOD"
	KDFInteractive KDFMethod = "ARGON2I_INT"
	KDFRaw         KDFMethod = "RAW"
)

// SaltBytes is the KDF salt length used in both the wallet metadata
// blob and the export file header.
const SaltBytes = 32

// KDFParams holds the memory/time/parallelism costs for an Argon2i
// preset. Concrete costs are tunables (SPEC_FULL §11), not fixed
// constants, so services may override them via svcconfig.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// ModerateParams is tuned for long-term wallet passphrases: expensive
// enough to resist offline brute force, used sparingly (wallet
// creation, open, rekey).
var ModerateParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

// InteractiveParams is tuned for operations a human is waiting on
// synchronously but that still derive long-lived key material.
var InteractiveParams = KDFParams{Time: 1, Memory: 32 * 1024, Threads: 2}

// NewSalt returns SaltBytes of random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, werr.Wrap(werr.KindIOError, err, "generating KDF salt")
	}
	return salt, nil
}

// DeriveMasterKey derives a KeyBytes-length master key from a
// passphrase and salt under the given method. KDFRaw bypasses
// derivation entirely and requires passphrase to already be exactly
// KeyBytes long, treating it as the raw key (spec.md §4.2).
func DeriveMasterKey(method KDFMethod, passphrase, salt []byte, params KDFParams) ([]byte, error) {
	switch method {
	case KDFRaw:
		if len(passphrase) != KeyBytes {
			return nil, werr.Newf(werr.KindInvalidStructure, "raw key must be %d bytes, got %d", KeyBytes, len(passphrase))
		}
		key := make([]byte, KeyBytes)
		copy(key, passphrase)
		return key, nil

	case KDFModerate, KDFInteractive, "":
		if len(salt) == 0 {
			return nil, werr.New(werr.KindInvalidStructure, "KDF salt must not be empty")
		}
		return argon2.Key(passphrase, salt, params.Time, params.Memory, params.Threads, KeyBytes), nil

	default:
		return nil, werr.Newf(werr.KindInvalidStructure, "unknown key derivation method %q", method)
	}
}

// ParamsFor resolves the default cost parameters for a named method.
func ParamsFor(method KDFMethod) KDFParams {
	switch method {
	case KDFInteractive:
		return InteractiveParams
	default:
		return ModerateParams
	}
}
