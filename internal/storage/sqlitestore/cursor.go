package sqlitestore

import (
	"context"
	"database/sql"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/tagquery"
	"github.com/agentvault/vault/pkg/werr"
)

// cursor iterates the rows of a GetAll query, loading tags lazily only
// if asked (Search wraps this with predicate filtering below).
type cursor struct {
	store  *Store
	rows   *sql.Rows
	typeCT []byte
	total  int
	opts   storage.GetOptions
}

func (c *cursor) Next(ctx context.Context) (*storage.StorageRecord, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, werr.Wrap(werr.KindStorage, err, "iterating cursor")
		}
		return nil, nil
	}

	var rowID int64
	var name, value []byte
	if err := c.rows.Scan(&rowID, &name, &value); err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "scanning cursor row")
	}

	rec := &storage.StorageRecord{ID: name}
	if c.opts.RetrieveType {
		rec.Type = c.typeCT
	}
	if c.opts.RetrieveValue {
		rec.Value = value
	}
	if c.opts.RetrieveTags {
		tags, err := c.store.loadTags(ctx, c.store.db, rowID)
		if err != nil {
			return nil, err
		}
		rec.Tags = tags
	}
	c.total++
	return rec, nil
}

func (c *cursor) TotalCount(ctx context.Context) (int, error) {
	return c.total, nil
}

func (c *cursor) Close() error {
	return c.rows.Close()
}

// filteredCursor wraps a source cursor (always fetching type/value/tags
// so predicates can be evaluated) and applies a compiled predicate,
// re-shaping results to the caller's requested options afterward.
//
// The source rows are a forward-only *sql.Rows, so they can only be
// walked once: filteredCursor drains the source fully on first use and
// serves both Next and TotalCount from the materialized match list,
// regardless of which is called first or whether both are (a combined
// RetrieveTotalCount+RetrieveRecords search is the common case).
type filteredCursor struct {
	source  storage.Cursor
	pred    *tagquery.Compiled
	opts    storage.SearchOptions
	records []*storage.StorageRecord
	total   int
	pos     int
	drained bool
}

func (f *filteredCursor) drain(ctx context.Context) error {
	if f.drained {
		return nil
	}
	for {
		rec, err := f.source.Next(ctx)
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if !tagquery.Eval(f.pred, rec.Tags) {
			continue
		}
		f.total++
		if f.opts.RetrieveRecords {
			f.records = append(f.records, shapeRecord(rec, f.opts.GetOptions))
		}
	}
	f.drained = true
	return nil
}

func (f *filteredCursor) Next(ctx context.Context) (*storage.StorageRecord, error) {
	if err := f.drain(ctx); err != nil {
		return nil, err
	}
	if f.pos >= len(f.records) {
		return nil, nil
	}
	rec := f.records[f.pos]
	f.pos++
	return rec, nil
}

func shapeRecord(rec *storage.StorageRecord, opts storage.GetOptions) *storage.StorageRecord {
	out := &storage.StorageRecord{ID: rec.ID}
	if opts.RetrieveType {
		out.Type = rec.Type
	}
	if opts.RetrieveValue {
		out.Value = rec.Value
	}
	if opts.RetrieveTags {
		out.Tags = rec.Tags
	}
	return out
}

func (f *filteredCursor) TotalCount(ctx context.Context) (int, error) {
	if err := f.drain(ctx); err != nil {
		return 0, err
	}
	return f.total, nil
}

func (f *filteredCursor) Close() error {
	return f.source.Close()
}

// exportCursor iterates every row of items regardless of type, always
// fully populated — export has no get-options to honor.
type exportCursor struct {
	store *Store
	rows  *sql.Rows
	total int
}

func (c *exportCursor) Next(ctx context.Context) (*storage.StorageRecord, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, werr.Wrap(werr.KindStorage, err, "iterating export cursor")
		}
		return nil, nil
	}

	var rowID int64
	var typ, name, value []byte
	if err := c.rows.Scan(&rowID, &typ, &name, &value); err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "scanning export cursor row")
	}

	tags, err := c.store.loadTags(ctx, c.store.db, rowID)
	if err != nil {
		return nil, err
	}
	c.total++
	return &storage.StorageRecord{Type: typ, ID: name, Value: value, Tags: tags}, nil
}

func (c *exportCursor) TotalCount(ctx context.Context) (int, error) { return c.total, nil }
func (c *exportCursor) Close() error                                { return c.rows.Close() }

func (s *Store) ExportAll(ctx context.Context) (storage.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, name, value FROM items`)
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

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, value FROM items WHERE type = ?`, typeCT)
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
