// Package stream turns DynamoDB Streams events of an entity table into
// typed change notifications.
//
// Every entity is stored once per address, so one logical write produces one
// stream record per address. Handler reports only the record at the primary
// address, giving one Change per entity write.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jacentio/tablestore/keys"
	"github.com/jacentio/tablestore/store"
)

// Operation is the kind of write a Change reports.
type Operation string

const (
	Insert Operation = "INSERT"
	Modify Operation = "MODIFY"
	Remove Operation = "REMOVE"
)

// Change is one entity write. Old is nil for inserts and New is nil for
// removals; both are nil when the stream view omits the image.
type Change[T any] struct {
	EventID   string
	Operation Operation
	Key       store.Key

	// VersionTag is the tag of the new image, or of the old image on removal.
	VersionTag string

	Old *T
	New *T
}

// Func receives the changes of one entity type, in stream order.
type Func[T any] func(ctx context.Context, change Change[T]) error

// Handler processes stream events of the table of T.
type Handler[T any] struct {
	meta      *store.Metadata[T]
	unique    keys.Strategy[T]
	partition keys.Strategy[T]
	fn        Func[T]
	logger    *zap.Logger
}

// NewHandler creates a handler for T, which must be registered with st.
func NewHandler[T any](st *store.Store, fn Func[T], logger *zap.Logger) (*Handler[T], error) {
	if fn == nil {
		return nil, errors.New("stream: nil change func")
	}
	meta, err := store.GetMetadata[T](st)
	if err != nil {
		return nil, err
	}
	unique, partition, err := store.PrimaryStrategies[T](st)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler[T]{
		meta:      meta,
		unique:    unique,
		partition: partition,
		fn:        fn,
		logger:    logger.Named("stream").With(zap.String("type", meta.SingularName)),
	}, nil
}

// Handle processes event in order and stops at the first failure, so the
// whole batch is retried. It can be passed to lambda.Start.
func (h *Handler[T]) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("eventID", record.EventID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// HandleBatch is Handle for event source mappings with partial batch
// responses enabled: the first failing record is reported by sequence
// number and the records after it are left unprocessed.
func (h *Handler[T]) HandleBatch(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Warn("record failed, reporting partial batch",
				zap.String("eventID", record.EventID),
				zap.String("sequenceNumber", record.Change.SequenceNumber),
				zap.Error(err),
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
			return resp, nil
		}
	}
	return resp, nil
}

func (h *Handler[T]) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if table := tableName(record.EventSourceArn); table != "" && table != h.meta.TableName {
		h.logger.Debug("skipping record of other table", zap.String("table", table))
		return nil
	}
	key := Key(record.Change.Keys)
	if !h.primary(key) {
		return nil
	}

	op := Operation(record.EventName)
	switch op {
	case Insert, Modify, Remove:
	default:
		return fmt.Errorf("stream: unknown event %q", record.EventName)
	}

	change := Change[T]{EventID: record.EventID, Operation: op, Key: key}
	var oldTag, newTag string
	var err error
	if change.Old, oldTag, err = h.decode(record.Change.OldImage); err != nil {
		return fmt.Errorf("old image of %s: %w", key, err)
	}
	if change.New, newTag, err = h.decode(record.Change.NewImage); err != nil {
		return fmt.Errorf("new image of %s: %w", key, err)
	}
	change.VersionTag = newTag
	if op == Remove {
		change.VersionTag = oldTag
	}

	h.logger.Debug("change",
		zap.String("operation", string(op)),
		zap.Stringer("key", key),
		zap.String("versionTag", change.VersionTag),
	)
	return h.fn(ctx, change)
}

// primary reports whether key is the primary address of an entity of T.
func (h *Handler[T]) primary(key store.Key) bool {
	return matches(h.unique, key.RowKey) && matches(h.partition, key.PartitionKey)
}

func matches(s keys.Descriptor, key string) bool {
	if f, ok := s.(keys.Fixed); ok {
		return key == f.FixedKey()
	}
	prefix, _, ok := keys.Split(key)
	return ok && prefix == s.Prefix()
}

func (h *Handler[T]) decode(image map[string]events.DynamoDBAttributeValue) (*T, string, error) {
	if len(image) == 0 {
		return nil, "", nil
	}
	rec, err := Record(image)
	if err != nil {
		return nil, "", err
	}
	entity, err := h.meta.Schema.Decode(rec.Fields)
	if err != nil {
		return nil, "", err
	}
	return entity, rec.VersionTag, nil
}

// tableName extracts the table from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/NAME/stream/LABEL.
func tableName(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}
