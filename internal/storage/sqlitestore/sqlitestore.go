// Package sqlitestore is the primary embedded file-store Backend
// (spec.md §5 "On-disk format of embedded backend"): a single SQLite
// file holding the items/tags_encrypted/tags_plaintext/metadata
// relational schema, driven through modernc.org/sqlite (no cgo).
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/pkg/werr"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	type  BLOB NOT NULL,
	name  BLOB NOT NULL,
	value BLOB NOT NULL,
	key   BLOB,
	UNIQUE(type, name)
);
CREATE INDEX IF NOT EXISTS idx_items_type_name ON items(type, name);

CREATE TABLE IF NOT EXISTS tags_encrypted (
	name    BLOB NOT NULL,
	value   BLOB NOT NULL,
	item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tags_encrypted_name_value ON tags_encrypted(name, value);

CREATE TABLE IF NOT EXISTS tags_plaintext (
	name    BLOB NOT NULL,
	value   BLOB NOT NULL,
	item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tags_plaintext_name_value ON tags_plaintext(name, value);

CREATE TABLE IF NOT EXISTS metadata (
	key BLOB NOT NULL
);
`

// Store implements storage.Backend against a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ storage.Backend = (*Store)(nil)

// Open opens (creating if absent) the SQLite file at path and ensures
// schema exists. WAL mode gives readers a consistent snapshot without
// blocking the single writer a wallet backend expects.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "opening sqlite database %q", path)
	}
	db.SetMaxOpenConns(1) // single writer; WAL still allows concurrent read snapshots

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, werr.Wrap(werr.KindStorage, err, "enabling WAL mode")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, werr.Wrap(werr.KindStorage, err, "applying schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// itemID looks up the internal row id for (type, id), returning
// KindWalletItemNotFound if absent.
func (s *Store) itemID(ctx context.Context, q queryer, typeCT, idCT []byte) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM items WHERE type = ? AND name = ?`, typeCT, idCT).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, werr.New(werr.KindWalletItemNotFound, "record not found")
	}
	if err != nil {
		return 0, werr.Wrap(werr.KindStorage, err, "looking up record")
	}
	return id, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Get(ctx context.Context, typeCT, idCT []byte, opts storage.GetOptions) (*storage.StorageRecord, error) {
	rowID, err := s.itemID(ctx, s.db, typeCT, idCT)
	if err != nil {
		return nil, err
	}

	rec := &storage.StorageRecord{ID: idCT}
	if opts.RetrieveType {
		rec.Type = typeCT
	}
	if opts.RetrieveValue {
		if err := s.db.QueryRowContext(ctx, `SELECT value FROM items WHERE id = ?`, rowID).Scan(&rec.Value); err != nil {
			return nil, werr.Wrap(werr.KindStorage, err, "reading record value")
		}
	}
	if opts.RetrieveTags {
		tags, err := s.loadTags(ctx, s.db, rowID)
		if err != nil {
			return nil, err
		}
		rec.Tags = tags
	}
	return rec, nil
}

func (s *Store) loadTags(ctx context.Context, q queryer, rowID int64) ([]storage.Tag, error) {
	var tags []storage.Tag
	for _, t := range []struct {
		table string
		kind  storage.TagKind
	}{
		{"tags_encrypted", storage.TagEncrypted},
		{"tags_plaintext", storage.TagPlaintext},
	} {
		rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT name, value FROM %s WHERE item_id = ?`, t.table), rowID)
		if err != nil {
			return nil, werr.Wrap(werr.KindStorage, err, "reading tags")
		}
		for rows.Next() {
			var name, value []byte
			if err := rows.Scan(&name, &value); err != nil {
				rows.Close()
				return nil, werr.Wrap(werr.KindStorage, err, "scanning tag row")
			}
			tags = append(tags, storage.Tag{Name: name, Value: value, Kind: t.kind})
		}
		rows.Close()
	}
	return tags, nil
}

func (s *Store) Add(ctx context.Context, rec storage.StorageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `INSERT INTO items(type, name, value) VALUES (?, ?, ?)`, rec.Type, rec.ID, rec.Value)
	if err != nil {
		if isUniqueViolation(err) {
			return werr.New(werr.KindWalletItemExists, "record already exists")
		}
		return werr.Wrap(werr.KindStorage, err, "inserting record")
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "reading inserted row id")
	}

	if err := insertTags(ctx, tx, rowID, rec.Tags); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return werr.Wrap(werr.KindStorage, err, "committing transaction")
	}
	return nil
}

func checkNoDuplicateNames(tags []storage.Tag) error {
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		key := hex.EncodeToString(t.Name)
		if seen[key] {
			return werr.New(werr.KindInvalidStructure, "duplicate tag name on record")
		}
		seen[key] = true
	}
	return nil
}

func insertTags(ctx context.Context, tx *sql.Tx, rowID int64, tags []storage.Tag) error {
	if err := checkNoDuplicateNames(tags); err != nil {
		return err
	}
	for _, t := range tags {
		table := "tags_plaintext"
		if t.Kind == storage.TagEncrypted {
			table = "tags_encrypted"
		}
		q := fmt.Sprintf(`INSERT INTO %s(name, value, item_id) VALUES (?, ?, ?)`, table)
		if _, err := tx.ExecContext(ctx, q, t.Name, t.Value, rowID); err != nil {
			return werr.Wrap(werr.KindStorage, err, "inserting tag")
		}
	}
	return nil
}

func (s *Store) UpdateValue(ctx context.Context, typeCT, idCT, valueCT []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET value = ? WHERE type = ? AND name = ?`, valueCT, typeCT, idCT)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "updating record value")
	}
	return requireAffected(res, "record not found")
}

func (s *Store) AddTags(ctx context.Context, typeCT, idCT []byte, tags []storage.Tag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	rowID, err := s.itemID(ctx, tx, typeCT, idCT)
	if err != nil {
		return err
	}
	existing, err := s.loadTags(ctx, tx, rowID)
	if err != nil {
		return err
	}
	if err := checkNoDuplicateNames(append(append([]storage.Tag{}, existing...), tags...)); err != nil {
		return err
	}
	if err := insertTags(ctx, tx, rowID, tags); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateTags(ctx context.Context, typeCT, idCT []byte, tags []storage.Tag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	rowID, err := s.itemID(ctx, tx, typeCT, idCT)
	if err != nil {
		return err
	}
	for _, t := range tags {
		table := "tags_plaintext"
		if t.Kind == storage.TagEncrypted {
			table = "tags_encrypted"
		}
		q := fmt.Sprintf(`UPDATE %s SET value = ? WHERE item_id = ? AND name = ?`, table)
		if _, err := tx.ExecContext(ctx, q, t.Value, rowID, t.Name); err != nil {
			return werr.Wrap(werr.KindStorage, err, "updating tag")
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteTags(ctx context.Context, typeCT, idCT []byte, names [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	rowID, err := s.itemID(ctx, tx, typeCT, idCT)
	if err != nil {
		return err
	}
	for _, name := range names {
		for _, table := range []string{"tags_encrypted", "tags_plaintext"} {
			q := fmt.Sprintf(`DELETE FROM %s WHERE item_id = ? AND name = ?`, table)
			if _, err := tx.ExecContext(ctx, q, rowID, name); err != nil {
				return werr.Wrap(werr.KindStorage, err, "deleting tag")
			}
		}
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, typeCT, idCT []byte) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE type = ? AND name = ?`, typeCT, idCT)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "deleting record")
	}
	return requireAffected(res, "record not found")
}

func (s *Store) GetAll(ctx context.Context, typeCT []byte) (storage.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, value FROM items WHERE type = ?`, typeCT)
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "listing records")
	}
	return &cursor{store: s, rows: rows, typeCT: typeCT}, nil
}

func (s *Store) GetStorageMetadata(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT key FROM metadata LIMIT 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, werr.New(werr.KindWalletNotFound, "wallet metadata not set")
	}
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "reading wallet metadata")
	}
	return blob, nil
}

func (s *Store) SetStorageMetadata(ctx context.Context, blob []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM metadata`); err != nil {
		return werr.Wrap(werr.KindStorage, err, "clearing wallet metadata")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO metadata(key) VALUES (?)`, blob); err != nil {
		return werr.Wrap(werr.KindStorage, err, "writing wallet metadata")
	}
	return tx.Commit()
}

func requireAffected(res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "reading affected row count")
	}
	if n == 0 {
		return werr.New(werr.KindWalletItemNotFound, notFoundMsg)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces SQLite's result code in the error
	// string; there is no typed sentinel, so match the message the
	// engine actually returns for a UNIQUE constraint failure.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
