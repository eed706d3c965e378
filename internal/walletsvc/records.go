package walletsvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/tagquery"
	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/internal/workerpool"
	"github.com/agentvault/vault/pkg/werr"
)

// AddRecord is the untyped write path (spec.md's add_record escape
// hatch): caller-supplied plaintext value and tags, dispatched on the
// worker pool and returned as a cancellable Future.
func (w *Wallet) AddRecord(ctx context.Context, recordType, id string, value []byte, tags map[string]string) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		err := w.addRecord(ctx, recordType, id, value, tags)
		w.metrics.ObserveOperation("add_record", err)
		return struct{}{}, err
	})
}

func (w *Wallet) addRecord(ctx context.Context, recordType, id string, value []byte, tags map[string]string) error {
	typeCT, err := w.encryptType(recordType)
	if err != nil {
		return err
	}
	idCT, err := w.encryptID(id)
	if err != nil {
		return err
	}
	valueCT, err := w.encryptValue(value)
	if err != nil {
		return err
	}
	tagsCT, err := w.encryptTags(tags)
	if err != nil {
		return err
	}
	return w.backend.Add(ctx, storage.StorageRecord{Type: typeCT, ID: idCT, Value: valueCT, Tags: tagsCT})
}

// Add is the typed write path: v is JSON-serialized (or passed through
// verbatim if it is already []byte) before being sealed.
func Add[T any](ctx context.Context, w *Wallet, recordType, id string, v T, tags map[string]string) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		data, err := serializeValue(v)
		if err != nil {
			return struct{}{}, err
		}
		err = w.addRecord(ctx, recordType, id, data, tags)
		w.metrics.ObserveOperation("add", err)
		return struct{}{}, err
	})
}

// Get fetches and decrypts a single record by type and id.
func (w *Wallet) Get(ctx context.Context, recordType, id string, opts GetOptions) *workerpool.Future[*Record] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (*Record, error) {
		rec, err := w.get(ctx, recordType, id, opts)
		w.metrics.ObserveOperation("get", err)
		return rec, err
	})
}

func (w *Wallet) get(ctx context.Context, recordType, id string, opts GetOptions) (*Record, error) {
	typeCT, err := w.encryptType(recordType)
	if err != nil {
		return nil, err
	}
	idCT, err := w.encryptID(id)
	if err != nil {
		return nil, err
	}
	raw, err := w.backend.Get(ctx, typeCT, idCT, opts)
	if err != nil {
		return nil, err
	}
	return w.decryptRecord(recordType, id, raw)
}

func (w *Wallet) decryptRecord(recordType, id string, raw *storage.StorageRecord) (*Record, error) {
	if id == "" && raw.ID != nil {
		plainID, err := walletcrypto.DecryptSearchable(w.keys.NameKey, raw.ID)
		if err != nil {
			return nil, err
		}
		id = string(plainID)
	}
	out := &Record{Type: recordType, ID: id}
	if raw.Value != nil {
		plain, err := w.decryptValue(raw.Value)
		if err != nil {
			return nil, err
		}
		out.Value = plain
	}
	if raw.Tags != nil {
		tags := make(map[string]string, len(raw.Tags))
		for _, t := range raw.Tags {
			name, err := walletcrypto.DecryptSearchable(w.keys.TagNameKey, t.Name)
			if err != nil {
				return nil, err
			}
			val, err := decryptTagValue(w.keys, t)
			if err != nil {
				return nil, err
			}
			if t.Kind == storage.TagPlaintext {
				tags["~"+string(name)] = val
			} else {
				tags[string(name)] = val
			}
		}
		out.Tags = tags
	}
	return out, nil
}

// GetTyped fetches a record and unmarshals its value into a fresh T.
func GetTyped[T any](ctx context.Context, w *Wallet, recordType, id string) *workerpool.Future[T] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (T, error) {
		var zero T
		rec, err := w.get(ctx, recordType, id, GetOptions{RetrieveValue: true})
		if err != nil {
			return zero, err
		}
		var out T
		if err := json.Unmarshal(rec.Value, &out); err != nil {
			return zero, werr.Wrap(werr.KindInvalidStructure, err, "decoding record value")
		}
		w.metrics.ObserveOperation("get_typed", nil)
		return out, nil
	})
}

// UpdateValue overwrites an existing record's value, re-sealing it
// under a freshly generated per-record key.
func (w *Wallet) UpdateValue(ctx context.Context, recordType, id string, value []byte) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		typeCT, err := w.encryptType(recordType)
		if err != nil {
			return struct{}{}, err
		}
		idCT, err := w.encryptID(id)
		if err != nil {
			return struct{}{}, err
		}
		valueCT, err := w.encryptValue(value)
		if err != nil {
			return struct{}{}, err
		}
		err = w.backend.UpdateValue(ctx, typeCT, idCT, valueCT)
		w.metrics.ObserveOperation("update_value", err)
		return struct{}{}, err
	})
}

// Update is the typed counterpart of UpdateValue.
func Update[T any](ctx context.Context, w *Wallet, recordType, id string, v T) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		data, err := serializeValue(v)
		if err != nil {
			return struct{}{}, err
		}
		fut := w.UpdateValue(ctx, recordType, id, data)
		_, err = fut.Wait(ctx)
		return struct{}{}, err
	})
}

// AddTags adds tags to an existing record.
func (w *Wallet) AddTags(ctx context.Context, recordType, id string, tags map[string]string) *workerpool.Future[struct{}] {
	return w.tagOp(ctx, "add_tags", recordType, id, tags, w.backend.AddTags)
}

// UpdateTags replaces the value of existing tags on a record.
func (w *Wallet) UpdateTags(ctx context.Context, recordType, id string, tags map[string]string) *workerpool.Future[struct{}] {
	return w.tagOp(ctx, "update_tags", recordType, id, tags, w.backend.UpdateTags)
}

func (w *Wallet) tagOp(ctx context.Context, opName, recordType, id string, tags map[string]string, op func(context.Context, []byte, []byte, []storage.Tag) error) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		typeCT, err := w.encryptType(recordType)
		if err != nil {
			return struct{}{}, err
		}
		idCT, err := w.encryptID(id)
		if err != nil {
			return struct{}{}, err
		}
		tagsCT, err := w.encryptTags(tags)
		if err != nil {
			return struct{}{}, err
		}
		err = op(ctx, typeCT, idCT, tagsCT)
		w.metrics.ObserveOperation(opName, err)
		return struct{}{}, err
	})
}

// DeleteTags removes the named tags from a record.
func (w *Wallet) DeleteTags(ctx context.Context, recordType, id string, names []string) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		typeCT, err := w.encryptType(recordType)
		if err != nil {
			return struct{}{}, err
		}
		idCT, err := w.encryptID(id)
		if err != nil {
			return struct{}{}, err
		}
		namesCT := make([][]byte, 0, len(names))
		for _, name := range names {
			raw := name
			if len(name) > 0 && name[0] == '~' {
				raw = name[1:]
			}
			nameCT, err := walletcrypto.EncryptSearchable(w.keys.TagNameKey, w.keys.TagsHMACKey, []byte(raw))
			if err != nil {
				return struct{}{}, err
			}
			namesCT = append(namesCT, nameCT)
		}
		err = w.backend.DeleteTags(ctx, typeCT, idCT, namesCT)
		w.metrics.ObserveOperation("delete_tags", err)
		return struct{}{}, err
	})
}

// Delete removes a record entirely.
func (w *Wallet) Delete(ctx context.Context, recordType, id string) *workerpool.Future[struct{}] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (struct{}, error) {
		typeCT, err := w.encryptType(recordType)
		if err != nil {
			return struct{}{}, err
		}
		idCT, err := w.encryptID(id)
		if err != nil {
			return struct{}{}, err
		}
		err = w.backend.Delete(ctx, typeCT, idCT)
		w.metrics.ObserveOperation("delete", err)
		return struct{}{}, err
	})
}

// SearchResult is one page of a search's decrypted records.
type SearchResult struct {
	Records    []Record
	TotalCount int
}

// Search compiles a raw JSON predicate (spec.md §6's tag-query grammar)
// against this wallet's keys and streams matching records, decrypting
// each one as it's read off the cursor.
func (w *Wallet) Search(ctx context.Context, recordType string, rawQuery []byte, opts SearchOptions) *workerpool.Future[*SearchResult] {
	return workerpool.Submit(ctx, w.pool, func(ctx context.Context) (*SearchResult, error) {
		start := time.Now()
		result, err := w.search(ctx, recordType, rawQuery, opts)
		n := 0
		if result != nil {
			n = len(result.Records)
		}
		w.metrics.ObserveSearch(time.Since(start), n)
		w.metrics.ObserveOperation("search", err)
		return result, err
	})
}

func (w *Wallet) search(ctx context.Context, recordType string, rawQuery []byte, opts SearchOptions) (*SearchResult, error) {
	node, err := tagquery.Parse(rawQuery)
	if err != nil {
		return nil, err
	}
	compiled, err := w.Compile(node)
	if err != nil {
		return nil, err
	}
	typeCT, err := w.encryptType(recordType)
	if err != nil {
		return nil, err
	}

	cursor, err := w.backend.Search(ctx, typeCT, compiled, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	result := &SearchResult{}
	if opts.RetrieveTotalCount {
		result.TotalCount, err = cursor.TotalCount(ctx)
		if err != nil {
			return nil, err
		}
	}
	if !opts.RetrieveRecords {
		return result, nil
	}

	for {
		raw, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			break
		}
		rec, err := w.decryptRecord(recordType, "", raw)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, *rec)
	}
	return result, nil
}
