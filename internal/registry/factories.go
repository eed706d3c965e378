package registry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/storage/boltstore"
	"github.com/agentvault/vault/internal/storage/pgstore"
	"github.com/agentvault/vault/internal/storage/sqlitestore"
	"github.com/agentvault/vault/pkg/werr"
)

// sqliteConfig is the storage_config shape for storage_type "sqlite".
type sqliteConfig struct {
	Path string `json:"path"`
}

type sqliteFactory struct{}

func (sqliteFactory) Init(ctx context.Context, config, _ []byte) error {
	var cfg sqliteConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "parsing sqlite storage_config")
	}
	store, err := sqlitestore.Open(ctx, cfg.Path)
	if err != nil {
		return err
	}
	return store.Close()
}

func (sqliteFactory) Open(ctx context.Context, config, _ []byte) (storage.Backend, error) {
	var cfg sqliteConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "parsing sqlite storage_config")
	}
	return sqlitestore.Open(ctx, cfg.Path)
}

func (sqliteFactory) Delete(_ context.Context, config, _ []byte) error {
	var cfg sqliteConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "parsing sqlite storage_config")
	}
	if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
		return werr.Wrap(werr.KindStorage, err, "deleting sqlite wallet file")
	}
	return nil
}

// boltConfig is the storage_config shape for storage_type "bolt".
type boltConfig struct {
	Path string `json:"path"`
}

type boltFactory struct{}

func (boltFactory) Init(_ context.Context, config, _ []byte) error {
	var cfg boltConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "parsing bolt storage_config")
	}
	store, err := boltstore.Open(cfg.Path)
	if err != nil {
		return err
	}
	return store.Close()
}

func (boltFactory) Open(_ context.Context, config, _ []byte) (storage.Backend, error) {
	var cfg boltConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, werr.Wrap(werr.KindInvalidStructure, err, "parsing bolt storage_config")
	}
	return boltstore.Open(cfg.Path)
}

func (boltFactory) Delete(_ context.Context, config, _ []byte) error {
	var cfg boltConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return werr.Wrap(werr.KindInvalidStructure, err, "parsing bolt storage_config")
	}
	if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
		return werr.Wrap(werr.KindStorage, err, "deleting bolt wallet file")
	}
	return nil
}

// pgConfig is the storage_config shape for storage_type "postgres".
// Strategy selects among pgstore's three deployment strategies
// (spec.md §4.1).
type pgConfig struct {
	WalletID string `json:"wallet_id"`
	Strategy string `json:"strategy"` // "per_wallet_db" | "shared_table" | "per_wallet_table"
}

// pgCredentials is the storage_credentials shape: a Postgres DSN, kept
// separate from storage_config since credentials are handled through
// the wallet's distinct credentials object (spec.md §4.5).
type pgCredentials struct {
	DSN string `json:"dsn"`
}

func parsePgStrategy(name string) (pgstore.Strategy, error) {
	switch name {
	case "", "per_wallet_db":
		return pgstore.StrategyPerWalletDB, nil
	case "shared_table":
		return pgstore.StrategySharedTable, nil
	case "per_wallet_table":
		return pgstore.StrategyPerWalletTable, nil
	default:
		return 0, werr.Newf(werr.KindInvalidStructure, "unknown postgres strategy %q", name)
	}
}

type pgFactory struct{}

func (pgFactory) Init(ctx context.Context, config, credentials []byte) error {
	cfg, creds, err := parsePgArgs(config, credentials)
	if err != nil {
		return err
	}
	strategy, err := parsePgStrategy(cfg.Strategy)
	if err != nil {
		return err
	}
	if err := pgstore.InitStorage(ctx, creds.DSN, strategy); err != nil {
		return err
	}
	return pgstore.InitWallet(ctx, creds.DSN, strategy, cfg.WalletID)
}

func (pgFactory) Open(ctx context.Context, config, credentials []byte) (storage.Backend, error) {
	cfg, creds, err := parsePgArgs(config, credentials)
	if err != nil {
		return nil, err
	}
	strategy, err := parsePgStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return pgstore.Open(ctx, creds.DSN, strategy, cfg.WalletID)
}

func (pgFactory) Delete(ctx context.Context, config, credentials []byte) error {
	cfg, creds, err := parsePgArgs(config, credentials)
	if err != nil {
		return err
	}
	strategy, err := parsePgStrategy(cfg.Strategy)
	if err != nil {
		return err
	}
	return pgstore.DropWallet(ctx, creds.DSN, strategy, cfg.WalletID)
}

func parsePgArgs(config, credentials []byte) (pgConfig, pgCredentials, error) {
	var cfg pgConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return pgConfig{}, pgCredentials{}, werr.Wrap(werr.KindInvalidStructure, err, "parsing postgres storage_config")
	}
	var creds pgCredentials
	if err := json.Unmarshal(credentials, &creds); err != nil {
		return pgConfig{}, pgCredentials{}, werr.Wrap(werr.KindInvalidStructure, err, "parsing postgres storage_credentials")
	}
	if creds.DSN == "" {
		return pgConfig{}, pgCredentials{}, werr.New(werr.KindInvalidStructure, "postgres storage_credentials.dsn is required")
	}
	return cfg, creds, nil
}
