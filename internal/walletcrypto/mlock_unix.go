//go:build !windows

package walletcrypto

import (
	"golang.org/x/sys/unix"
)

// mlock attempts to lock the memory region containing data so it is
// never swapped to disk. Returns true if successful, false otherwise
// (e.g. RLIMIT_MEMLOCK exhausted) — callers degrade gracefully rather
// than failing key-bundle construction over an unlocked page.
func mlock(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return unix.Mlock(data) == nil
}

// munlock unlocks a region locked by mlock.
func munlock(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munlock(data)
}
