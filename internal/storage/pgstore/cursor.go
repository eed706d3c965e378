package pgstore

import (
	"context"
	"database/sql"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/tagquery"
	"github.com/agentvault/vault/pkg/werr"
)

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

func (c *cursor) TotalCount(_ context.Context) (int, error) {
	return c.total, nil
}

func (c *cursor) Close() error {
	return c.rows.Close()
}

// exportCursor iterates every row across all types for this wallet,
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

func (c *exportCursor) TotalCount(_ context.Context) (int, error) { return c.total, nil }
func (c *exportCursor) Close() error                              { return c.rows.Close() }

// filteredCursor wraps a source cursor with in-process predicate
// evaluation, mirroring sqlitestore's — pgstore pushes the type scope
// down to SQL but evaluates the compiled tag predicate in Go, same as
// the embedded backends.
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
