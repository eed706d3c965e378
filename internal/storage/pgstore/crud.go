package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/tagquery"
	"github.com/agentvault/vault/pkg/werr"
)

// bind finalizes a query template containing zero or more "$WALLETARG"
// placeholders (from walletFilter) and Postgres-style "$N" placeholders
// already numbered from 1, appending the wallet id argument at the
// correct position when this store's strategy requires it.
func (s *Store) bind(query string, args ...any) (string, []any) {
	if s.strategy != StrategySharedTable {
		query = strings.ReplaceAll(query, " AND wallet_id = $WALLETARG", "")
		query = strings.ReplaceAll(query, " WHERE wallet_id = $WALLETARG", "")
		return query, args
	}
	placeholder := "$" + strconv.Itoa(len(args)+1)
	return strings.ReplaceAll(query, "$WALLETARG", placeholder), append(args, s.walletID)
}

func (s *Store) itemID(ctx context.Context, q queryer, typeCT, idCT []byte) (int64, error) {
	query, args := s.bind(
		fmt.Sprintf(`SELECT id FROM %s WHERE type = $1 AND name = $2`+s.walletFilter(), s.names.items),
		typeCT, idCT,
	)
	var id int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&id)
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
		q := fmt.Sprintf(`SELECT value FROM %s WHERE id = $1`, s.names.items)
		if err := s.db.QueryRowContext(ctx, q, rowID).Scan(&rec.Value); err != nil {
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
		{s.names.tagsEnc, storage.TagEncrypted},
		{s.names.tagsPt, storage.TagPlaintext},
	} {
		rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT name, value FROM %s WHERE item_id = $1`, t.table), rowID)
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

	var insertQuery string
	var args []any
	if s.strategy == StrategySharedTable {
		insertQuery = fmt.Sprintf(`INSERT INTO %s(wallet_id, type, name, value) VALUES ($1, $2, $3, $4) RETURNING id`, s.names.items)
		args = []any{s.walletID, rec.Type, rec.ID, rec.Value}
	} else {
		insertQuery = fmt.Sprintf(`INSERT INTO %s(type, name, value) VALUES ($1, $2, $3) RETURNING id`, s.names.items)
		args = []any{rec.Type, rec.ID, rec.Value}
	}

	var rowID int64
	if err := tx.QueryRowContext(ctx, insertQuery, args...).Scan(&rowID); err != nil {
		if isUniqueViolation(err) {
			return werr.New(werr.KindWalletItemExists, "record already exists")
		}
		return werr.Wrap(werr.KindStorage, err, "inserting record")
	}

	if err := s.insertTags(ctx, tx, rowID, rec.Tags); err != nil {
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
		key := string(t.Name)
		if seen[key] {
			return werr.New(werr.KindInvalidStructure, "duplicate tag name on record")
		}
		seen[key] = true
	}
	return nil
}

func (s *Store) insertTags(ctx context.Context, tx *sql.Tx, rowID int64, tags []storage.Tag) error {
	if err := checkNoDuplicateNames(tags); err != nil {
		return err
	}
	for _, t := range tags {
		table := s.names.tagsPt
		if t.Kind == storage.TagEncrypted {
			table = s.names.tagsEnc
		}
		q := fmt.Sprintf(`INSERT INTO %s(name, value, item_id) VALUES ($1, $2, $3)`, table)
		if _, err := tx.ExecContext(ctx, q, t.Name, t.Value, rowID); err != nil {
			return werr.Wrap(werr.KindStorage, err, "inserting tag")
		}
	}
	return nil
}

func (s *Store) UpdateValue(ctx context.Context, typeCT, idCT, valueCT []byte) error {
	query, args := s.bind(
		fmt.Sprintf(`UPDATE %s SET value = $1 WHERE type = $2 AND name = $3`+s.walletFilter(), s.names.items),
		valueCT, typeCT, idCT,
	)
	res, err := s.db.ExecContext(ctx, query, args...)
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
	if err := s.insertTags(ctx, tx, rowID, tags); err != nil {
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
		table := s.names.tagsPt
		if t.Kind == storage.TagEncrypted {
			table = s.names.tagsEnc
		}
		q := fmt.Sprintf(`UPDATE %s SET value = $1 WHERE item_id = $2 AND name = $3`, table)
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
		for _, table := range []string{s.names.tagsEnc, s.names.tagsPt} {
			q := fmt.Sprintf(`DELETE FROM %s WHERE item_id = $1 AND name = $2`, table)
			if _, err := tx.ExecContext(ctx, q, rowID, name); err != nil {
				return werr.Wrap(werr.KindStorage, err, "deleting tag")
			}
		}
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, typeCT, idCT []byte) error {
	query, args := s.bind(
		fmt.Sprintf(`DELETE FROM %s WHERE type = $1 AND name = $2`+s.walletFilter(), s.names.items),
		typeCT, idCT,
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return werr.Wrap(werr.KindStorage, err, "deleting record")
	}
	return requireAffected(res, "record not found")
}

func (s *Store) GetAll(ctx context.Context, typeCT []byte) (storage.Cursor, error) {
	query, args := s.bind(
		fmt.Sprintf(`SELECT id, name, value FROM %s WHERE type = $1`+s.walletFilter(), s.names.items),
		typeCT,
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "listing records")
	}
	return &cursor{store: s, rows: rows, typeCT: typeCT, opts: storage.GetOptions{RetrieveType: true, RetrieveValue: true, RetrieveTags: true}}, nil
}

func (s *Store) ExportAll(ctx context.Context) (storage.Cursor, error) {
	query := fmt.Sprintf(`SELECT id, type, name, value FROM %s`, s.names.items)
	var args []any
	if s.strategy == StrategySharedTable {
		query += ` WHERE wallet_id = $1`
		args = append(args, s.walletID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "listing records for export")
	}
	return &exportCursor{store: s, rows: rows}, nil
}

func (s *Store) Search(ctx context.Context, typeCT []byte, predicate storage.Predicate, opts storage.SearchOptions) (storage.Cursor, error) {
	pred, ok := predicate.(*tagquery.Compiled)
	if !ok {
		return nil, werr.New(werr.KindWalletQueryError, "predicate is not a compiled tag query")
	}

	query, args := s.bind(
		fmt.Sprintf(`SELECT id, name, value FROM %s WHERE type = $1`+s.walletFilter(), s.names.items),
		typeCT,
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "listing records for search")
	}
	source := &cursor{
		store:  s,
		rows:   rows,
		typeCT: typeCT,
		opts:   storage.GetOptions{RetrieveType: true, RetrieveValue: true, RetrieveTags: true},
	}
	return &filteredCursor{source: source, pred: pred, opts: opts}, nil
}

func (s *Store) GetStorageMetadata(ctx context.Context) ([]byte, error) {
	query, args := s.bind(fmt.Sprintf(`SELECT key FROM %s`, s.names.meta) + s.metaWalletFilter() + ` LIMIT 1`)
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&blob)
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

	delQuery, delArgs := s.bind(fmt.Sprintf(`DELETE FROM %s`, s.names.meta) + s.metaWalletFilter())
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return werr.Wrap(werr.KindStorage, err, "clearing wallet metadata")
	}

	if s.strategy == StrategySharedTable {
		q := fmt.Sprintf(`INSERT INTO %s(wallet_id, key) VALUES ($1, $2)`, s.names.meta)
		if _, err := tx.ExecContext(ctx, q, s.walletID, blob); err != nil {
			return werr.Wrap(werr.KindStorage, err, "writing wallet metadata")
		}
	} else {
		q := fmt.Sprintf(`INSERT INTO %s(key) VALUES ($1)`, s.names.meta)
		if _, err := tx.ExecContext(ctx, q, blob); err != nil {
			return werr.Wrap(werr.KindStorage, err, "writing wallet metadata")
		}
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

var _ storage.Backend = (*Store)(nil)

func isUniqueViolation(err error) bool {
	// lib/pq exposes a typed *pq.Error with a Code; avoiding that
	// import-specific assertion here keeps pgstore's error handling
	// uniform with the embedded backends, at the cost of matching on
	// the message Postgres actually returns for a unique violation.
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}
