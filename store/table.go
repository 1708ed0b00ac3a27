package store

import (
	"context"
	"iter"

	"github.com/jacentio/tablestore/filter"
)

// Table is a handle on one entity table.
type Table struct {
	Name string

	client TableClient
}

// Get fetches one row, returning ErrNotFound when it does not exist.
func (t *Table) Get(ctx context.Context, key Key) (Record, error) {
	return t.client.GetEntity(ctx, t.Name, key.PartitionKey, key.RowKey)
}

// Query yields the rows matching f. A nil f matches every row.
func (t *Table) Query(ctx context.Context, f filter.Expr) iter.Seq2[Record, error] {
	return t.client.Query(ctx, t.Name, filter.String(f))
}

// Submit applies actions in one transaction.
func (t *Table) Submit(ctx context.Context, actions []UpsertMergeAction) error {
	return t.client.SubmitTransaction(ctx, t.Name, actions)
}

// Delete removes one row.
func (t *Table) Delete(ctx context.Context, key Key) error {
	return t.client.DeleteEntity(ctx, t.Name, key.PartitionKey, key.RowKey)
}

// Lookup fetches the rows stored at keys, batchSize keys per request. Keys
// with no row are absent from the result.
func (t *Table) Lookup(ctx context.Context, keys []Key, batchSize int) (map[Key]Record, error) {
	found := make(map[Key]Record, len(keys))
	for start := 0; start < len(keys); start += batchSize {
		recs, err := GetEntities(ctx, t.client, t.Name, keys[start:min(start+batchSize, len(keys))])
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			found[rec.Key()] = rec
		}
	}
	return found, nil
}

// GetEntities fetches the rows stored at keys in one request: a batch get
// when client is a BatchGetter, otherwise a query matching each key.
func GetEntities(ctx context.Context, client TableClient, table string, keys []Key) ([]Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if bg, ok := client.(BatchGetter); ok {
		return bg.BatchGetEntities(ctx, table, keys)
	}

	want := make(map[Key]bool, len(keys))
	exprs := make([]filter.Expr, 0, len(keys))
	for _, k := range keys {
		want[k] = true
		exprs = append(exprs, filter.And(
			filter.Eq(AttrPartitionKey, k.PartitionKey),
			filter.Eq(AttrRowKey, k.RowKey),
		))
	}
	var out []Record
	for rec, err := range client.Query(ctx, table, filter.String(filter.Or(exprs...))) {
		if err != nil {
			return nil, err
		}
		if want[rec.Key()] {
			out = append(out, rec)
		}
	}
	return out, nil
}
