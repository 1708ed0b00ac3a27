// Package dynamo implements store.TableClient on Amazon DynamoDB.
//
// Tables use PartitionKey (HASH) and RowKey (RANGE) string keys and are billed
// per request, with a NEW_AND_OLD_IMAGES stream enabled for change feeds.
// Every write stamps an ETag attribute with a fresh UUID and a Timestamp
// attribute with the write time; conditional writes compare the ETag.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/tablestore/filter"
	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

// API is the subset of *dynamodb.Client used by Client.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// BatchGetItem limits.
const (
	maxBatchGetKeys     = 100
	maxBatchGetAttempts = 5
)

// Client is a store.TableClient backed by DynamoDB.
type Client struct {
	api         API
	logger      *zap.Logger
	waitTimeout time.Duration
	retryDelay  time.Duration
	now         func() time.Time
	newTag      func() string
}

var (
	_ store.TableClient = (*Client)(nil)
	_ store.BatchGetter = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWaitTimeout bounds table creation and deletion waits.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.waitTimeout = d
		}
	}
}

// New wraps api.
func New(api API, opts ...Option) *Client {
	c := &Client{
		api:         api,
		logger:      zap.NewNop(),
		waitTimeout: 2 * time.Minute,
		retryDelay:  50 * time.Millisecond,
		now:         time.Now,
		newTag:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("dynamo")
	return c
}

// CreateTableIfNotExists creates table when DescribeTable reports it missing,
// then waits for it to become active.
func (c *Client) CreateTableIfNotExists(ctx context.Context, table string) error {
	_, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return mapError(err)
	}

	_, err = c.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(store.AttrPartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(store.AttrRowKey), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(store.AttrPartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(store.AttrRowKey), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return mapError(err)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, c.waitTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}
	c.logger.Info("created table", zap.String("table", table))
	return nil
}

func (c *Client) GetEntity(ctx context.Context, table, partitionKey, rowKey string) (store.Record, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key(partitionKey, rowKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Record{}, mapError(err)
	}
	if out.Item == nil {
		return store.Record{}, store.ErrNotFound
	}
	return toRecord(out.Item)
}

func (c *Client) UpsertMerge(ctx context.Context, table string, rec store.Record) (string, error) {
	tag := c.newTag()
	expr, err := upsert(rec, nil, tag, c.timestamp(), nil)
	if err != nil {
		return "", err
	}
	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key(rec.PartitionKey, rec.RowKey),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return "", mapError(err)
	}
	return tag, nil
}

func (c *Client) SubmitTransaction(ctx context.Context, table string, actions []store.UpsertMergeAction) error {
	if len(actions) == 0 {
		return nil
	}
	tag := c.newTag()
	now := c.timestamp()

	items := make([]types.TransactWriteItem, 0, len(actions))
	for _, a := range actions {
		if a.Record.PartitionKey != actions[0].Record.PartitionKey {
			return &store.RequestFailedError{
				Code: "ValidationException",
				Err:  fmt.Errorf("transaction spans partitions %q and %q", actions[0].Record.PartitionKey, a.Record.PartitionKey),
			}
		}
		cond := expectTag(a.ExpectedTag)
		expr, err := upsert(a.Record, a.Remove, tag, now, &cond)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(table),
				Key:                       key(a.Record.PartitionKey, a.Record.RowKey),
				UpdateExpression:          expr.Update(),
				ConditionExpression:       expr.Condition(),
				ExpressionAttributeNames:  expr.Names(),
				ExpressionAttributeValues: expr.Values(),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return mapError(err)
	}
	c.logger.Debug("transaction committed",
		zap.String("table", table),
		zap.String("partition", actions[0].Record.PartitionKey),
		zap.Int("rows", len(items)))
	return nil
}

func (c *Client) DeleteEntity(ctx context.Context, table, partitionKey, rowKey string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       key(partitionKey, rowKey),
	})
	return mapError(err)
}

// BatchGetEntities reads the rows at keys with consistent BatchGetItem
// requests of up to 100 keys. Unprocessed keys are retried with a growing
// delay.
func (c *Client) BatchGetEntities(ctx context.Context, table string, keys []store.Key) ([]store.Record, error) {
	seen := make(map[store.Key]bool, len(keys))
	unique := make([]store.Key, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			unique = append(unique, k)
		}
	}

	var out []store.Record
	for start := 0; start < len(unique); start += maxBatchGetKeys {
		chunk := unique[start:min(start+maxBatchGetKeys, len(unique))]
		request := make([]map[string]types.AttributeValue, len(chunk))
		for i, k := range chunk {
			request[i] = key(k.PartitionKey, k.RowKey)
		}
		pending := map[string]types.KeysAndAttributes{
			table: {Keys: request, ConsistentRead: aws.Bool(true)},
		}
		for attempt := 0; len(pending[table].Keys) > 0; attempt++ {
			if attempt == maxBatchGetAttempts {
				return nil, &store.RequestFailedError{
					Code: "UnprocessedKeys",
					Err:  fmt.Errorf("%d keys left unprocessed after %d attempts", len(pending[table].Keys), attempt),
				}
			}
			if attempt > 0 {
				c.logger.Debug("retrying unprocessed keys",
					zap.String("table", table),
					zap.Int("keys", len(pending[table].Keys)),
					zap.Int("attempt", attempt))
				if err := sleep(ctx, time.Duration(attempt)*c.retryDelay); err != nil {
					return nil, err
				}
			}
			resp, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, mapError(err)
			}
			for _, item := range resp.Responses[table] {
				rec, err := toRecord(item)
				if err != nil {
					return nil, err
				}
				out = append(out, rec)
			}
			pending = resp.UnprocessedKeys
		}
	}
	return out, nil
}

// Query reads the rows matching query, filtering server-side. A filter that
// fixes PartitionKey runs as a Query on that partition; anything else scans
// the table. Pages are fetched lazily.
func (c *Client) Query(ctx context.Context, table, query string) iter.Seq2[store.Record, error] {
	return func(yield func(store.Record, error) bool) {
		f, err := filter.Parse(query)
		if err != nil {
			yield(store.Record{}, err)
			return
		}
		var pages iter.Seq2[[]map[string]types.AttributeValue, error]
		if kc, rest, ok := keyCondition(f); ok {
			pages, err = c.queryPages(ctx, table, kc, rest)
		} else {
			pages, err = c.scanPages(ctx, table, f)
		}
		if err != nil {
			yield(store.Record{}, err)
			return
		}
		for items, err := range pages {
			if err != nil {
				yield(store.Record{}, mapError(err))
				return
			}
			for _, item := range items {
				rec, err := toRecord(item)
				if !yield(rec, err) {
					return
				}
			}
		}
	}
}

func (c *Client) queryPages(ctx context.Context, table string, kc expression.KeyConditionBuilder, rest filter.Expr) (iter.Seq2[[]map[string]types.AttributeValue, error], error) {
	b := expression.NewBuilder().WithKeyCondition(kc)
	if rest != nil {
		cond, err := condition(rest)
		if err != nil {
			return nil, err
		}
		b = b.WithFilter(cond)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}
	pages := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		ConsistentRead:            aws.Bool(true),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return func(yield func([]map[string]types.AttributeValue, error) bool) {
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page.Items, nil) {
				return
			}
		}
	}, nil
}

func (c *Client) scanPages(ctx context.Context, table string, f filter.Expr) (iter.Seq2[[]map[string]types.AttributeValue, error], error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	}
	if f != nil {
		cond, err := condition(f)
		if err != nil {
			return nil, err
		}
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("build filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}
	pages := dynamodb.NewScanPaginator(c.api, input)
	return func(yield func([]map[string]types.AttributeValue, error) bool) {
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page.Items, nil) {
				return
			}
		}
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) timestamp() string {
	return schema.FormatTime(c.now())
}
