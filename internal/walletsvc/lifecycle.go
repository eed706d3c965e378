package walletsvc

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentvault/vault/internal/keyhierarchy"
	"github.com/agentvault/vault/internal/obs"
	"github.com/agentvault/vault/internal/registry"
	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/internal/workerpool"
	"github.com/agentvault/vault/pkg/werr"
)

// OpenRequest is the caller-supplied JSON pair spec.md §6 describes:
// a storage_type-tagged config object plus out-of-band credentials
// (never persisted alongside the config).
type OpenRequest struct {
	StorageType string          `json:"storage_type"`
	Config      json.RawMessage `json:"config"`
	Credentials []byte          `json:"-"`
	KDFMethod   walletcrypto.KDFMethod
	Passphrase  []byte
	Params      walletcrypto.KDFParams
}

// Handle identifies one open wallet within a process, independent of
// its storage_type or passphrase — issued fresh on every Create/
// OpenExisting so a caller holding stale state can't confuse two
// generations of the same wallet.
type Handle string

// newHandle mints a process-unique wallet handle id.
func newHandle() Handle {
	return Handle(uuid.NewString())
}

// Manager opens and tracks wallets against a shared storage-backend
// registry, worker pool, and KDF rate limiter — the process-scoped
// object a service constructs once at startup (spec.md §9).
type Manager struct {
	registry *registry.Registry
	pool     *workerpool.Pool
	kdfLimit *rate.Limiter
	logger   *obs.Logger
	metrics  *obs.Metrics
}

// ManagerConfig carries a Manager's shared dependencies.
type ManagerConfig struct {
	Registry       *registry.Registry
	Pool           *workerpool.Pool
	KDFPerSecond   float64
	KDFBurst       int
	Logger         *obs.Logger
	Metrics        *obs.Metrics
}

// NewManager constructs a Manager. A nil Registry falls back to
// registry.NewDefault(); a zero KDFPerSecond disables throttling.
func NewManager(cfg ManagerConfig) *Manager {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.NewDefault()
	}
	pool := cfg.Pool
	if pool == nil {
		pool = workerpool.New(8)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obs.Null()
	}

	var limiter *rate.Limiter
	if cfg.KDFPerSecond > 0 {
		burst := cfg.KDFBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.KDFPerSecond), burst)
	}

	return &Manager{registry: reg, pool: pool, kdfLimit: limiter, logger: logger, metrics: cfg.Metrics}
}

func (m *Manager) throttleKDF(ctx context.Context) error {
	if m.kdfLimit == nil {
		return nil
	}
	if err := m.kdfLimit.Wait(ctx); err != nil {
		return werr.Wrap(werr.KindIOError, err, "waiting for KDF rate limiter")
	}
	return nil
}

// Create provisions brand-new storage for req and seals a fresh key
// bundle under req.Passphrase, returning an open Wallet and its handle.
func (m *Manager) Create(ctx context.Context, req OpenRequest) (Handle, *Wallet, error) {
	factory, err := m.registry.Lookup(req.StorageType)
	if err != nil {
		return "", nil, err
	}

	if err := factory.Init(ctx, req.Config, req.Credentials); err != nil {
		return "", nil, werr.Wrap(werr.KindIOError, err, "initializing storage for new wallet")
	}

	backend, err := factory.Open(ctx, req.Config, req.Credentials)
	if err != nil {
		return "", nil, werr.Wrap(werr.KindIOError, err, "opening newly initialized storage")
	}

	if err := m.throttleKDF(ctx); err != nil {
		_ = backend.Close()
		return "", nil, err
	}

	meta, keys, err := keyhierarchy.Create(req.KDFMethod, req.Passphrase, req.Params)
	if err != nil {
		_ = backend.Close()
		return "", nil, err
	}

	blob, err := json.Marshal(meta)
	if err != nil {
		_ = backend.Close()
		return "", nil, werr.Wrap(werr.KindInvalidStructure, err, "encoding wallet metadata")
	}
	if err := backend.SetStorageMetadata(ctx, blob); err != nil {
		_ = backend.Close()
		return "", nil, err
	}

	w := Open(Config{Backend: backend, Keys: keys, Pool: m.pool, Logger: m.logger, Metrics: m.metrics})
	m.metrics.ObserveOperation("create_wallet", nil)
	return newHandle(), w, nil
}

// OpenExisting opens a previously created wallet and derives its master
// key from req.Passphrase. The KDF method is read from the wallet's own
// metadata; the cost parameters (time/memory/threads) are not persisted
// per-wallet, so req.Params must match whatever preset the wallet was
// created or last rekeyed under (see DESIGN.md).
func (m *Manager) OpenExisting(ctx context.Context, req OpenRequest) (Handle, *Wallet, error) {
	factory, err := m.registry.Lookup(req.StorageType)
	if err != nil {
		return "", nil, err
	}

	backend, err := factory.Open(ctx, req.Config, req.Credentials)
	if err != nil {
		return "", nil, werr.Wrap(werr.KindIOError, err, "opening wallet storage")
	}

	blob, err := backend.GetStorageMetadata(ctx)
	if err != nil {
		_ = backend.Close()
		return "", nil, err
	}
	var meta keyhierarchy.Metadata
	if err := json.Unmarshal(blob, &meta); err != nil {
		_ = backend.Close()
		return "", nil, werr.Wrap(werr.KindInvalidStructure, err, "decoding wallet metadata")
	}

	if err := m.throttleKDF(ctx); err != nil {
		_ = backend.Close()
		return "", nil, err
	}

	keys, err := keyhierarchy.Open(&meta, req.Passphrase, req.Params)
	if err != nil {
		_ = backend.Close()
		return "", nil, err
	}

	w := Open(Config{Backend: backend, Keys: keys, Pool: m.pool, Logger: m.logger, Metrics: m.metrics})
	m.metrics.ObserveOperation("open_wallet", nil)
	return newHandle(), w, nil
}

// Delete destroys a wallet's persisted storage entirely, without ever
// opening it or deriving its keys.
func (m *Manager) Delete(ctx context.Context, req OpenRequest) error {
	factory, err := m.registry.Lookup(req.StorageType)
	if err != nil {
		return err
	}
	return factory.Delete(ctx, req.Config, req.Credentials)
}

// Rekey reseals a wallet's key bundle under a new passphrase/KDF
// method without touching any stored record: every encrypted tag,
// value, type, and id was produced from the subkeys themselves, which
// are untouched by Rotate — only the wrapper around them changes.
func (w *Wallet) Rekey(ctx context.Context, method walletcrypto.KDFMethod, newPassphrase []byte, params walletcrypto.KDFParams) error {
	meta, err := keyhierarchy.Rotate(w.keys, method, newPassphrase, params)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "encoding rotated wallet metadata")
	}
	return w.backend.SetStorageMetadata(ctx, blob)
}
