package exportimport

import "github.com/agentvault/vault/pkg/werr"

var (
	errUnsupportedKDF = werr.New(werr.KindInvalidStructure, "export key derivation method must be ARGON2I_MOD or ARGON2I_INT")
	errBadMagic       = werr.New(werr.KindInvalidStructure, "export stream has wrong magic bytes")
	errBadVersion     = werr.New(werr.KindInvalidStructure, "export stream has unsupported version")
	errHeaderAuth     = werr.New(werr.KindAccessFailed, "export header authentication failed")
	errTrailerAuth    = werr.New(werr.KindAccessFailed, "export trailer authentication failed")
	errTruncated      = werr.New(werr.KindInvalidStructure, "export stream truncated")
)
