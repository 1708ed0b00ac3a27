// Package tracing decorates a store.TableClient with OpenTelemetry spans.
package tracing

import (
	"context"
	"errors"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/tablestore/store"
)

const instrumentationName = "github.com/jacentio/tablestore/tracing"

// Attribute keys set on every span.
const (
	AttrSystem       = attribute.Key("db.system")
	AttrTable        = attribute.Key("db.collection.name")
	AttrPartitionKey = attribute.Key("tablestore.partition_key")
	AttrRowKey       = attribute.Key("tablestore.row_key")
	AttrFilter       = attribute.Key("tablestore.filter")
	AttrActions      = attribute.Key("tablestore.actions")
	AttrKeys         = attribute.Key("tablestore.keys")
	AttrRows         = attribute.Key("tablestore.rows")
	AttrErrorCode    = attribute.Key("tablestore.error_code")
	AttrFound        = attribute.Key("tablestore.found")
)

// Client is a traced store.TableClient.
type Client struct {
	inner  store.TableClient
	tracer trace.Tracer
	system string
}

var (
	_ store.TableClient = (*Client)(nil)
	_ store.BatchGetter = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithSystem overrides the db.system attribute, "dynamodb" by default.
func WithSystem(system string) Option {
	return func(c *Client) { c.system = system }
}

// Wrap returns inner with a span around every call.
func Wrap(inner store.TableClient, opts ...Option) *Client {
	c := &Client{
		inner:  inner,
		tracer: otel.GetTracerProvider().Tracer(instrumentationName),
		system: "dynamodb",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) start(ctx context.Context, op, table string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrSystem.String(c.system), AttrTable.String(table))
	return c.tracer.Start(ctx, "tablestore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		if code := store.ErrorCode(err); code != "" {
			span.SetAttributes(AttrErrorCode.String(code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Client) CreateTableIfNotExists(ctx context.Context, table string) error {
	ctx, span := c.start(ctx, "CreateTableIfNotExists", table)
	err := c.inner.CreateTableIfNotExists(ctx, table)
	finish(span, err)
	return err
}

func (c *Client) GetEntity(ctx context.Context, table, partitionKey, rowKey string) (store.Record, error) {
	ctx, span := c.start(ctx, "GetEntity", table,
		AttrPartitionKey.String(partitionKey),
		AttrRowKey.String(rowKey),
	)
	rec, err := c.inner.GetEntity(ctx, table, partitionKey, rowKey)
	if errors.Is(err, store.ErrNotFound) {
		// Misses keep an unset status.
		span.SetAttributes(AttrFound.Bool(false))
		span.End()
		return rec, err
	}
	finish(span, err)
	return rec, err
}

func (c *Client) UpsertMerge(ctx context.Context, table string, record store.Record) (string, error) {
	ctx, span := c.start(ctx, "UpsertMerge", table,
		AttrPartitionKey.String(record.PartitionKey),
		AttrRowKey.String(record.RowKey),
	)
	tag, err := c.inner.UpsertMerge(ctx, table, record)
	finish(span, err)
	return tag, err
}

func (c *Client) SubmitTransaction(ctx context.Context, table string, actions []store.UpsertMergeAction) error {
	attrs := []attribute.KeyValue{AttrActions.Int(len(actions))}
	if len(actions) > 0 {
		attrs = append(attrs, AttrPartitionKey.String(actions[0].Record.PartitionKey))
	}
	ctx, span := c.start(ctx, "SubmitTransaction", table, attrs...)
	err := c.inner.SubmitTransaction(ctx, table, actions)
	finish(span, err)
	return err
}

func (c *Client) DeleteEntity(ctx context.Context, table, partitionKey, rowKey string) error {
	ctx, span := c.start(ctx, "DeleteEntity", table,
		AttrPartitionKey.String(partitionKey),
		AttrRowKey.String(rowKey),
	)
	err := c.inner.DeleteEntity(ctx, table, partitionKey, rowKey)
	finish(span, err)
	return err
}

// BatchGetEntities uses the batch get of the wrapped client, or a key query
// when it has none.
func (c *Client) BatchGetEntities(ctx context.Context, table string, keys []store.Key) ([]store.Record, error) {
	ctx, span := c.start(ctx, "BatchGetEntities", table, AttrKeys.Int(len(keys)))
	recs, err := store.GetEntities(ctx, c.inner, table, keys)
	span.SetAttributes(AttrRows.Int(len(recs)))
	finish(span, err)
	return recs, err
}

// Query opens its span when iteration starts and ends it when iteration
// stops, recording the number of rows yielded.
func (c *Client) Query(ctx context.Context, table, filter string) iter.Seq2[store.Record, error] {
	return func(yield func(store.Record, error) bool) {
		ctx, span := c.start(ctx, "Query", table, AttrFilter.String(filter))
		var (
			rows int
			err  error
		)
		defer func() {
			span.SetAttributes(AttrRows.Int(rows))
			finish(span, err)
		}()
		for rec, qerr := range c.inner.Query(ctx, table, filter) {
			if qerr != nil {
				err = qerr
				yield(store.Record{}, qerr)
				return
			}
			rows++
			if !yield(rec, nil) {
				return
			}
		}
	}
}
