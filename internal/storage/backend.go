// Package storage defines the backend-agnostic contract a wallet
// persists against (spec.md C1): the shared record/tag/search types and
// the Backend interface every storage implementation — embedded file
// store, relational cluster, or plugin — must satisfy.
package storage

import (
	"context"
)

// TagKind distinguishes encrypted tags (name and value both ciphertext,
// equality/inequality/set-membership only) from plaintext tags (stored
// and indexed as-is, full range/prefix support).
type TagKind int

const (
	TagEncrypted TagKind = iota
	TagPlaintext
)

// Tag is a single name/value pair attached to a record, post tag-kind
// resolution. Name is always the reversible searchably-encrypted form
// of the raw tag name, regardless of Kind — only Value's treatment
// differs by kind (ciphertext for TagEncrypted, raw UTF-8 bytes for
// TagPlaintext, both indexable for equality by a Backend without
// decryption).
type Tag struct {
	Name  []byte
	Value []byte
	Kind  TagKind
}

// StorageRecord is the unit a Backend stores and returns. Type and ID
// are ciphertext (deterministically encrypted so lookups work); Value
// is the serialized EncryptedValue (wrapped per-record key ‖
// ciphertext ‖ tag). Tags is nil unless the caller asked to retrieve
// them.
type StorageRecord struct {
	Type  []byte
	ID    []byte
	Value []byte
	Tags  []Tag
}

// GetOptions controls which fields of a record Get returns, mirroring
// spec.md's record get-options object.
type GetOptions struct {
	RetrieveType  bool
	RetrieveValue bool
	RetrieveTags  bool
}

// SearchOptions extends GetOptions with result-set shaping for Search.
type SearchOptions struct {
	GetOptions
	RetrieveRecords    bool
	RetrieveTotalCount bool
}

// Predicate is a compiled tag query, opaque to storage itself — this
// package can't reference internal/tagquery.Compiled directly since
// tagquery already imports storage for Tag/TagKind, so Predicate is a
// marker interface tagquery.Compiled satisfies instead of a concrete
// type.
type Predicate interface {
	predicateMarker()
}

// Cursor iterates a compiled search's matching rows. It is owned by the
// Backend that created it and must be released by Close even if Next
// is never exhausted (spec.md "Search cursor" lifecycle).
type Cursor interface {
	Next(ctx context.Context) (*StorageRecord, error)
	TotalCount(ctx context.Context) (int, error)
	Close() error
}

// Backend is the storage contract a wallet opens against. All
// byte-slice arguments are already opaque (ciphertext or HMAC digests)
// by the time they reach a Backend — a Backend never sees plaintext
// type names, record ids, values, or encrypted-tag values.
type Backend interface {
	// Get fetches a single record by (typeCT, idCT).
	Get(ctx context.Context, typeCT, idCT []byte, opts GetOptions) (*StorageRecord, error)

	// Add inserts a new record. Returns WalletItemExists if (type, id)
	// already exists within the wallet.
	Add(ctx context.Context, rec StorageRecord) error

	// UpdateValue overwrites an existing record's value.
	UpdateValue(ctx context.Context, typeCT, idCT, valueCT []byte) error

	// AddTags adds tags to an existing record. Duplicate tag names
	// against the record are rejected.
	AddTags(ctx context.Context, typeCT, idCT []byte, tags []Tag) error

	// UpdateTags replaces the value of existing tags on a record.
	UpdateTags(ctx context.Context, typeCT, idCT []byte, tags []Tag) error

	// DeleteTags removes the named tags from a record.
	DeleteTags(ctx context.Context, typeCT, idCT []byte, names [][]byte) error

	// Delete removes a record entirely.
	Delete(ctx context.Context, typeCT, idCT []byte) error

	// GetAll returns a cursor over every record of a given type.
	GetAll(ctx context.Context, typeCT []byte) (Cursor, error)

	// ExportAll returns a cursor over every record in the wallet
	// regardless of type, fully populated (type, id, value, tags) —
	// the whole-wallet enumeration export needs. Mirrors the
	// type-agnostic full-scan a storage backend's export walk performs.
	ExportAll(ctx context.Context) (Cursor, error)

	// Search returns a cursor over records of typeCT matching a
	// compiled predicate tree (see internal/tagquery.Compiled).
	Search(ctx context.Context, typeCT []byte, predicate Predicate, opts SearchOptions) (Cursor, error)

	// GetStorageMetadata returns the wallet's single metadata blob.
	GetStorageMetadata(ctx context.Context) ([]byte, error)

	// SetStorageMetadata atomically replaces the wallet's metadata
	// blob (used by creation and by key rotation).
	SetStorageMetadata(ctx context.Context, blob []byte) error

	// Close releases backend resources (file handles, connections).
	// It does not delete persisted data.
	Close() error
}

// Factory constructs a Backend from a JSON storage_config object and,
// where applicable, backend-specific storage credentials. Implementers
// register a Factory with internal/registry under a storage_type name.
type Factory interface {
	// Init prepares underlying storage (e.g. creates the file/schema)
	// for a brand-new wallet. Called once, at wallet creation.
	Init(ctx context.Context, config, credentials []byte) error

	// Open opens an existing wallet's storage and returns a Backend.
	Open(ctx context.Context, config, credentials []byte) (Backend, error)

	// Delete destroys a wallet's persisted storage entirely.
	Delete(ctx context.Context, config, credentials []byte) error
}
