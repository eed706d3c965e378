package walletcrypto

import (
	"runtime"
	"sync"
)

// SecureBytes wraps a sensitive byte slice (a derived key, a subkey)
// with best-effort mlock and explicit zeroing on Destroy, so a wallet's
// decrypted key material doesn't linger readable in swapped-out pages
// after the process no longer needs it.
type SecureBytes struct {
	data   []byte
	locked bool
	mu     sync.Mutex
}

// NewSecureBytes allocates size bytes and attempts to lock them.
func NewSecureBytes(size int) *SecureBytes {
	data := make([]byte, size)
	sb := &SecureBytes{data: data, locked: mlock(data)}
	runtime.SetFinalizer(sb, func(s *SecureBytes) { s.Destroy() })
	return sb
}

// SecureBytesFromSlice copies data into freshly locked memory.
func SecureBytesFromSlice(data []byte) *SecureBytes {
	sb := NewSecureBytes(len(data))
	copy(sb.data, data)
	return sb
}

// MemLock exposes the platform mlock primitive to other packages in
// the module (notably internal/keyhierarchy, which locks a WalletKeys
// bundle's subkeys directly rather than through a SecureBytes wrapper,
// since the bundle is also JSON-serialized for sealing).
func MemLock(data []byte) bool { return mlock(data) }

// MemUnlock exposes the platform munlock primitive; see MemLock.
func MemUnlock(data []byte) { munlock(data) }

// Bytes returns the underlying slice, or nil once Destroy has run.
func (s *SecureBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// IsLocked reports whether the memory was successfully mlocked.
func (s *SecureBytes) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Destroy zeros and unlocks the memory. Safe to call more than once.
func (s *SecureBytes) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	if s.locked {
		munlock(s.data)
		s.locked = false
	}
	s.data = nil
	runtime.SetFinalizer(s, nil)
}
