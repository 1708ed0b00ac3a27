package store

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/jacentio/tablestore/schema"
)

// System attribute names. Entity properties may not use them.
const (
	AttrPartitionKey = "PartitionKey"
	AttrRowKey       = "RowKey"
	AttrTimestamp    = "Timestamp"
	AttrVersionTag   = "ETag"
)

// Provider error codes shared by the TableClient implementations.
const (
	CodeConditionFailed     = "ConditionalCheckFailed"
	CodeTransactionCanceled = "TransactionCanceled"
	CodeTableNotFound       = "ResourceNotFound"
)

// Key addresses one row.
type Key struct {
	PartitionKey string
	RowKey       string
}

func (k Key) String() string {
	return k.PartitionKey + "/" + k.RowKey
}

// Record is one stored row.
type Record struct {
	PartitionKey string
	RowKey       string

	// VersionTag changes on every write. Empty on records not yet stored.
	VersionTag string

	// Timestamp is the time of the last write, set by the backing store.
	Timestamp time.Time

	Fields []schema.Field
}

// Key returns the address of r.
func (r Record) Key() Key {
	return Key{PartitionKey: r.PartitionKey, RowKey: r.RowKey}
}

// Lookup resolves a property of r for filter evaluation, including the
// system attributes. Timestamps resolve to their stored string form.
func (r Record) Lookup(name string) (any, bool) {
	switch {
	case strings.EqualFold(name, AttrPartitionKey):
		return r.PartitionKey, true
	case strings.EqualFold(name, AttrRowKey):
		return r.RowKey, true
	case strings.EqualFold(name, AttrVersionTag):
		return r.VersionTag, r.VersionTag != ""
	case strings.EqualFold(name, AttrTimestamp):
		if r.Timestamp.IsZero() {
			return nil, false
		}
		return schema.FormatTime(r.Timestamp), true
	}
	return schema.Lookup(r.Fields, name)
}

// UpsertMergeAction is one write of a transaction. Fields are merged into
// the stored row. The write only applies when the stored version tag equals
// ExpectedTag; an empty ExpectedTag requires that the row does not exist.
type UpsertMergeAction struct {
	Record      Record
	ExpectedTag string

	// Remove names attributes to delete from the stored row.
	Remove []string
}

// TableClient is the backing-store boundary. Implementations must be safe for
// concurrent use and report provider failures as *RequestFailedError.
type TableClient interface {
	// CreateTableIfNotExists creates table, waiting until it is usable.
	CreateTableIfNotExists(ctx context.Context, table string) error

	// GetEntity returns ErrNotFound when the row does not exist.
	GetEntity(ctx context.Context, table, partitionKey, rowKey string) (Record, error)

	// UpsertMerge writes record unconditionally and returns the new version tag.
	UpsertMerge(ctx context.Context, table string, record Record) (string, error)

	// SubmitTransaction applies actions atomically. All actions share one
	// partition key, and every written row gets the same version tag and
	// timestamp.
	SubmitTransaction(ctx context.Context, table string, actions []UpsertMergeAction) error

	// DeleteEntity removes a row. Deleting a missing row is not an error.
	DeleteEntity(ctx context.Context, table, partitionKey, rowKey string) error

	// Query yields every row matching filter. An empty filter matches all rows.
	Query(ctx context.Context, table, filter string) iter.Seq2[Record, error]
}

// BatchGetter is implemented by TableClients that fetch rows by exact key.
// Table.Lookup prefers it to a filter query.
type BatchGetter interface {
	// BatchGetEntities returns the rows stored at keys, in no particular
	// order. Keys with no row are left out.
	BatchGetEntities(ctx context.Context, table string, keys []Key) ([]Record, error)
}
