// Package boltstore is a second embedded file-store Backend variant,
// grounded on the teacher corpus's BoltDB usage (cuemby-warren's
// pkg/storage/boltdb.go): a single bbolt file with one bucket per
// logical table instead of sqlitestore's relational schema. It proves
// the Backend contract is storage-engine-agnostic and gives
// go.etcd.io/bbolt a home alongside sqlitestore.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/tagquery"
	"github.com/agentvault/vault/pkg/werr"
)

var (
	bucketItems     = []byte("items")
	bucketTagsEnc   = []byte("tags_encrypted")
	bucketTagsPlain = []byte("tags_plaintext")
	bucketMetadata  = []byte("metadata")
	bucketSeq       = []byte("seq")
)

// item is the JSON-serialized row stored under the composite
// type‖0x00‖id key in bucketItems.
type item struct {
	Type  []byte `json:"type"`
	ID    []byte `json:"id"`
	Value []byte `json:"value"`
	RowID uint64 `json:"row_id"`
}

// tagEntry is stored under a rowID key in the per-kind tag bucket.
type tagEntry struct {
	Name  []byte `json:"name"`
	Value []byte `json:"value"`
}

// Store implements storage.Backend against a bbolt file.
type Store struct {
	db *bolt.DB
}

var _ storage.Backend = (*Store)(nil)

// Open opens (creating if absent) the bbolt file at path and ensures
// all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, werr.Wrap(werr.KindStorage, err, "opening bolt database %q", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketItems, bucketTagsEnc, bucketTagsPlain, bucketMetadata, bucketSeq} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, werr.Wrap(werr.KindStorage, err, "creating buckets")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func itemKey(typeCT, idCT []byte) []byte {
	key := make([]byte, 0, len(typeCT)+1+len(idCT))
	key = append(key, typeCT...)
	key = append(key, 0)
	key = append(key, idCT...)
	return key
}

func rowIDKey(rowID uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, rowID)
	return b
}

func (s *Store) Get(_ context.Context, typeCT, idCT []byte, opts storage.GetOptions) (*storage.StorageRecord, error) {
	var rec *storage.StorageRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get(itemKey(typeCT, idCT))
		if raw == nil {
			return werr.New(werr.KindWalletItemNotFound, "record not found")
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return werr.Wrap(werr.KindStorage, err, "decoding record")
		}

		rec = &storage.StorageRecord{ID: idCT}
		if opts.RetrieveType {
			rec.Type = typeCT
		}
		if opts.RetrieveValue {
			rec.Value = it.Value
		}
		if opts.RetrieveTags {
			tags, err := loadTags(tx, it.RowID)
			if err != nil {
				return err
			}
			rec.Tags = tags
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func loadTags(tx *bolt.Tx, rowID uint64) ([]storage.Tag, error) {
	var tags []storage.Tag
	for _, kv := range []struct {
		bucket []byte
		kind   storage.TagKind
	}{
		{bucketTagsEnc, storage.TagEncrypted},
		{bucketTagsPlain, storage.TagPlaintext},
	} {
		raw := tx.Bucket(kv.bucket).Get(rowIDKey(rowID))
		if raw == nil {
			continue
		}
		var entries []tagEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, werr.Wrap(werr.KindStorage, err, "decoding tags")
		}
		for _, e := range entries {
			tags = append(tags, storage.Tag{Name: e.Name, Value: e.Value, Kind: kv.kind})
		}
	}
	return tags, nil
}

func (s *Store) Add(_ context.Context, rec storage.StorageRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketItems)
		key := itemKey(rec.Type, rec.ID)
		if items.Get(key) != nil {
			return werr.New(werr.KindWalletItemExists, "record already exists")
		}

		rowID, _ := tx.Bucket(bucketSeq).NextSequence()
		it := item{Type: rec.Type, ID: rec.ID, Value: rec.Value, RowID: rowID}
		data, err := json.Marshal(it)
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "encoding record")
		}
		if err := items.Put(key, data); err != nil {
			return werr.Wrap(werr.KindStorage, err, "writing record")
		}

		return writeTags(tx, rowID, rec.Tags, nil)
	})
}

// writeTags replaces the tag set for rowID, merging newTags on top of
// existing (nil existing means "write exactly newTags"), rejecting any
// duplicate tag name across the merged set.
func writeTags(tx *bolt.Tx, rowID uint64, newTags []storage.Tag, existing []storage.Tag) error {
	combined := append(append([]storage.Tag{}, existing...), newTags...)
	seen := make(map[string]bool, len(combined))
	for _, t := range combined {
		key := string(t.Name)
		if seen[key] {
			return werr.New(werr.KindInvalidStructure, "duplicate tag name on record")
		}
		seen[key] = true
	}

	byKind := map[storage.TagKind][]tagEntry{}
	for _, t := range combined {
		byKind[t.Kind] = append(byKind[t.Kind], tagEntry{Name: t.Name, Value: t.Value})
	}

	for bucket, kind := range map[*bolt.Bucket]storage.TagKind{
		tx.Bucket(bucketTagsEnc):   storage.TagEncrypted,
		tx.Bucket(bucketTagsPlain): storage.TagPlaintext,
	} {
		data, err := json.Marshal(byKind[kind])
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "encoding tags")
		}
		if err := bucket.Put(rowIDKey(rowID), data); err != nil {
			return werr.Wrap(werr.KindStorage, err, "writing tags")
		}
	}
	return nil
}

func (s *Store) UpdateValue(_ context.Context, typeCT, idCT, valueCT []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketItems)
		key := itemKey(typeCT, idCT)
		raw := items.Get(key)
		if raw == nil {
			return werr.New(werr.KindWalletItemNotFound, "record not found")
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return werr.Wrap(werr.KindStorage, err, "decoding record")
		}
		it.Value = valueCT
		data, err := json.Marshal(it)
		if err != nil {
			return werr.Wrap(werr.KindStorage, err, "encoding record")
		}
		return items.Put(key, data)
	})
}

func (s *Store) AddTags(_ context.Context, typeCT, idCT []byte, tags []storage.Tag) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get(itemKey(typeCT, idCT))
		if raw == nil {
			return werr.New(werr.KindWalletItemNotFound, "record not found")
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return werr.Wrap(werr.KindStorage, err, "decoding record")
		}
		existing, err := loadTags(tx, it.RowID)
		if err != nil {
			return err
		}
		return writeTags(tx, it.RowID, tags, existing)
	})
}

func (s *Store) UpdateTags(_ context.Context, typeCT, idCT []byte, tags []storage.Tag) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get(itemKey(typeCT, idCT))
		if raw == nil {
			return werr.New(werr.KindWalletItemNotFound, "record not found")
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return werr.Wrap(werr.KindStorage, err, "decoding record")
		}
		existing, err := loadTags(tx, it.RowID)
		if err != nil {
			return err
		}
		byName := make(map[string]*storage.Tag, len(existing))
		result := make([]storage.Tag, len(existing))
		copy(result, existing)
		for i := range result {
			byName[string(result[i].Name)] = &result[i]
		}
		for _, t := range tags {
			if cur, ok := byName[string(t.Name)]; ok {
				cur.Value = t.Value
				cur.Kind = t.Kind
			}
		}
		return writeTags(tx, it.RowID, nil, result)
	})
}

func (s *Store) DeleteTags(_ context.Context, typeCT, idCT []byte, names [][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get(itemKey(typeCT, idCT))
		if raw == nil {
			return werr.New(werr.KindWalletItemNotFound, "record not found")
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return werr.Wrap(werr.KindStorage, err, "decoding record")
		}
		existing, err := loadTags(tx, it.RowID)
		if err != nil {
			return err
		}
		drop := make(map[string]bool, len(names))
		for _, n := range names {
			drop[string(n)] = true
		}
		kept := existing[:0:0]
		for _, t := range existing {
			if !drop[string(t.Name)] {
				kept = append(kept, t)
			}
		}
		return writeTags(tx, it.RowID, nil, kept)
	})
}

func (s *Store) Delete(_ context.Context, typeCT, idCT []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketItems)
		key := itemKey(typeCT, idCT)
		raw := items.Get(key)
		if raw == nil {
			return werr.New(werr.KindWalletItemNotFound, "record not found")
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return werr.Wrap(werr.KindStorage, err, "decoding record")
		}
		if err := items.Delete(key); err != nil {
			return werr.Wrap(werr.KindStorage, err, "deleting record")
		}
		_ = tx.Bucket(bucketTagsEnc).Delete(rowIDKey(it.RowID))
		_ = tx.Bucket(bucketTagsPlain).Delete(rowIDKey(it.RowID))
		return nil
	})
}

func (s *Store) GetAll(_ context.Context, typeCT []byte) (storage.Cursor, error) {
	var all []storage.StorageRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketItems).Cursor()
		prefix := append(append([]byte{}, typeCT...), 0)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var it item
			if err := json.Unmarshal(v, &it); err != nil {
				return werr.Wrap(werr.KindStorage, err, "decoding record")
			}
			tags, err := loadTags(tx, it.RowID)
			if err != nil {
				return err
			}
			all = append(all, storage.StorageRecord{Type: it.Type, ID: it.ID, Value: it.Value, Tags: tags})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sliceCursor{records: all}, nil
}

func (s *Store) ExportAll(_ context.Context) (storage.Cursor, error) {
	var all []storage.StorageRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketItems).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var it item
			if err := json.Unmarshal(v, &it); err != nil {
				return werr.Wrap(werr.KindStorage, err, "decoding record")
			}
			tags, err := loadTags(tx, it.RowID)
			if err != nil {
				return err
			}
			all = append(all, storage.StorageRecord{Type: it.Type, ID: it.ID, Value: it.Value, Tags: tags})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sliceCursor{records: all}, nil
}

func (s *Store) Search(ctx context.Context, typeCT []byte, predicate storage.Predicate, opts storage.SearchOptions) (storage.Cursor, error) {
	pred, ok := predicate.(*tagquery.Compiled)
	if !ok {
		return nil, werr.New(werr.KindWalletQueryError, "predicate is not a compiled tag query")
	}
	all, err := s.GetAll(ctx, typeCT)
	if err != nil {
		return nil, err
	}
	defer all.Close()

	var matched []storage.StorageRecord
	for {
		rec, err := all.Next(ctx)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if tagquery.Eval(pred, rec.Tags) {
			matched = append(matched, shapeRecord(*rec, opts.GetOptions))
		}
	}
	if !opts.RetrieveRecords {
		return &sliceCursor{records: nil, total: len(matched)}, nil
	}
	return &sliceCursor{records: matched}, nil
}

func shapeRecord(rec storage.StorageRecord, opts storage.GetOptions) storage.StorageRecord {
	out := storage.StorageRecord{ID: rec.ID}
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

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (s *Store) GetStorageMetadata(_ context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMetadata).Get([]byte("blob"))
		if v == nil {
			return werr.New(werr.KindWalletNotFound, "wallet metadata not set")
		}
		blob = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *Store) SetStorageMetadata(_ context.Context, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte("blob"), blob)
	})
}

// sliceCursor is an in-memory Cursor over records already materialized
// by GetAll/Search — bbolt's View transaction can't stay open past the
// call that produced them, so results are copied out eagerly.
type sliceCursor struct {
	records []storage.StorageRecord
	pos     int
	total   int
}

func (c *sliceCursor) Next(_ context.Context) (*storage.StorageRecord, error) {
	if c.pos >= len(c.records) {
		return nil, nil
	}
	rec := c.records[c.pos]
	c.pos++
	return &rec, nil
}

func (c *sliceCursor) TotalCount(_ context.Context) (int, error) {
	if c.total > 0 {
		return c.total, nil
	}
	return len(c.records), nil
}

func (c *sliceCursor) Close() error {
	return nil
}
