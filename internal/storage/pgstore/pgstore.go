// Package pgstore is the relational-cluster Backend (spec.md §4.1):
// a shared Postgres cluster hosting one or many wallets, selectable
// among three deployment strategies via github.com/lib/pq.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/agentvault/vault/pkg/werr"
)

// Strategy selects how a wallet's data is isolated within the shared
// Postgres cluster (spec.md §4.1).
type Strategy int

const (
	// StrategyPerWalletDB opens a dedicated database per wallet id.
	StrategyPerWalletDB Strategy = iota
	// StrategySharedTable adds a wallet_id column to shared tables,
	// qualifying every statement with it.
	StrategySharedTable
	// StrategyPerWalletTable creates items_<walletid> etc. under one
	// shared database.
	StrategyPerWalletTable
)

// Store implements storage.Backend against a Postgres connection under
// one of the three deployment strategies.
type Store struct {
	db       *sql.DB
	strategy Strategy
	walletID string
	names    tableNames
}

type tableNames struct {
	items, tagsEnc, tagsPt, meta string
}

func canonicalTableNames() tableNames {
	return tableNames{items: "items", tagsEnc: "tags_encrypted", tagsPt: "tags_plaintext", meta: "metadata"}
}

func perWalletTableNames(walletID string) tableNames {
	suffix := sanitizeIdent(walletID)
	return tableNames{
		items:   "items_" + suffix,
		tagsEnc: "tags_encrypted_" + suffix,
		tagsPt:  "tags_plaintext_" + suffix,
		meta:    "metadata_" + suffix,
	}
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.ToLower(b.String())
}

func dbName(walletID string) string {
	return "wallet_" + sanitizeIdent(walletID)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func withDatabase(dsn, dbname string) string {
	// lib/pq accepts a space-separated key=value DSN; append/override
	// dbname rather than assume a URL-form connection string.
	return strings.TrimSpace(dsn) + " dbname=" + dbname
}

// schemaDDL renders the four-table schema (spec.md §5's relational
// layout) under the given table names. includeWalletID adds the
// wallet_id discriminator column StrategySharedTable needs to keep
// multiple wallets' rows apart within one shared table set.
func schemaDDL(names tableNames, includeWalletID bool) string {
	walletCol, walletUnique := "", ""
	if includeWalletID {
		walletCol = "wallet_id TEXT NOT NULL,\n\t"
		walletUnique = "wallet_id, "
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id    BIGSERIAL PRIMARY KEY,
	%[5]stype  BYTEA NOT NULL,
	name  BYTEA NOT NULL,
	value BYTEA NOT NULL,
	UNIQUE(%[6]stype, name)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_type_name ON %[1]s(%[6]stype, name);

CREATE TABLE IF NOT EXISTS %[2]s (
	name    BYTEA NOT NULL,
	value   BYTEA NOT NULL,
	item_id BIGINT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_%[2]s_name_value ON %[2]s(name, value);

CREATE TABLE IF NOT EXISTS %[3]s (
	name    BYTEA NOT NULL,
	value   BYTEA NOT NULL,
	item_id BIGINT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_%[3]s_name_value ON %[3]s(name, value);

CREATE TABLE IF NOT EXISTS %[4]s (
	%[5]skey BYTEA NOT NULL
);
`, names.items, names.tagsEnc, names.tagsPt, names.meta, walletCol, walletUnique)
}

// InitStorage provisions the schema objects a strategy needs exactly
// once, cluster-wide (spec.md §4.1). StrategyPerWalletDB and
// StrategyPerWalletTable provision nothing here — their schema objects
// are wallet-scoped and created by InitWallet instead.
func InitStorage(ctx context.Context, dsn string, strategy Strategy) error {
	if strategy != StrategySharedTable {
		return nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "connecting to postgres")
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schemaDDL(canonicalTableNames(), true)); err != nil {
		return werr.Wrap(werr.KindStorage, err, "provisioning shared-table schema")
	}
	return nil
}

// InitWallet provisions the per-wallet schema subset a strategy needs
// (spec.md §4.1).
func InitWallet(ctx context.Context, dsn string, strategy Strategy, walletID string) error {
	switch strategy {
	case StrategyPerWalletDB:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "connecting to postgres")
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %s`, quoteIdent(dbName(walletID)))); err != nil {
			return werr.Wrap(werr.KindStorage, err, "creating per-wallet database")
		}

		walletDB, err := sql.Open("postgres", withDatabase(dsn, dbName(walletID)))
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "connecting to per-wallet database")
		}
		defer walletDB.Close()
		if _, err := walletDB.ExecContext(ctx, schemaDDL(canonicalTableNames(), false)); err != nil {
			return werr.Wrap(werr.KindStorage, err, "provisioning per-wallet-db schema")
		}
		return nil

	case StrategyPerWalletTable:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "connecting to postgres")
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, schemaDDL(perWalletTableNames(walletID), false)); err != nil {
			return werr.Wrap(werr.KindStorage, err, "creating per-wallet tables")
		}
		return nil

	case StrategySharedTable:
		return nil

	default:
		return werr.Newf(werr.KindInvalidStructure, "unknown pgstore strategy %d", strategy)
	}
}

// Open connects to Postgres and returns a Backend scoped to walletID
// under the given strategy. The caller must have already run
// InitStorage (once, cluster-wide) and InitWallet (once, per wallet).
func Open(ctx context.Context, dsn string, strategy Strategy, walletID string) (*Store, error) {
	actualDSN := dsn
	if strategy == StrategyPerWalletDB {
		actualDSN = withDatabase(dsn, dbName(walletID))
	}

	db, err := sql.Open("postgres", actualDSN)
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "connecting to postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, werr.Wrap(werr.KindStorage, err, "pinging postgres")
	}

	names := canonicalTableNames()
	if strategy == StrategyPerWalletTable {
		names = perWalletTableNames(walletID)
	}
	return &Store{db: db, strategy: strategy, walletID: walletID, names: names}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DropWallet destroys the persisted storage for one wallet id under
// strategy, without ever opening it as a Backend: StrategyPerWalletDB
// drops the dedicated database, StrategyPerWalletTable drops its four
// tables, and StrategySharedTable deletes that wallet's rows from the
// shared tables (safe to run concurrently with other wallets sharing
// them, since every statement is scoped by wallet_id).
func DropWallet(ctx context.Context, dsn string, strategy Strategy, walletID string) error {
	switch strategy {
	case StrategyPerWalletDB:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "connecting to postgres")
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, quoteIdent(dbName(walletID)))); err != nil {
			return werr.Wrap(werr.KindStorage, err, "dropping per-wallet database")
		}
		return nil

	case StrategyPerWalletTable:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "connecting to postgres")
		}
		defer db.Close()
		names := perWalletTableNames(walletID)
		stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s, %s, %s, %s`, names.items, names.tagsEnc, names.tagsPt, names.meta)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return werr.Wrap(werr.KindStorage, err, "dropping per-wallet tables")
		}
		return nil

	case StrategySharedTable:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "connecting to postgres")
		}
		defer db.Close()
		names := canonicalTableNames()
		for _, table := range []string{names.items, names.meta} {
			if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE wallet_id = $1`, table), walletID); err != nil {
				return werr.Wrap(werr.KindStorage, err, "deleting wallet rows from %s", table)
			}
		}
		return nil

	default:
		return werr.Newf(werr.KindInvalidStructure, "unknown pgstore strategy %d", strategy)
	}
}

// walletFilter returns the SQL fragment needed to scope a query to this
// wallet under StrategySharedTable, with a "$WALLETARG" placeholder that
// bind later numbers and backs with the wallet id argument; other
// strategies already isolate by database or table name, so it is a no-op.
func (s *Store) walletFilter() string {
	if s.strategy == StrategySharedTable {
		return " AND wallet_id = $WALLETARG"
	}
	return ""
}

// metaWalletFilter is walletFilter's counterpart for the metadata
// table's queries, which have no other column to filter on and so
// need a bare WHERE rather than an AND tacked onto an existing one.
func (s *Store) metaWalletFilter() string {
	if s.strategy == StrategySharedTable {
		return " WHERE wallet_id = $WALLETARG"
	}
	return ""
}
