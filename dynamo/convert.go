package dynamo

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

// key builds the primary key of a row.
func key(partitionKey, rowKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		store.AttrPartitionKey: &types.AttributeValueMemberS{Value: partitionKey},
		store.AttrRowKey:       &types.AttributeValueMemberS{Value: rowKey},
	}
}

// storable converts a field value to the value written to DynamoDB. Times
// are written as fixed-width UTC strings so that they order and filter
// lexicographically.
func storable(v any) any {
	switch t := v.(type) {
	case time.Time:
		return schema.FormatTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return schema.FormatTime(*t)
	}
	return v
}

// toRecord decodes an item. Non-system attributes become fields, sorted by
// name.
func toRecord(item map[string]types.AttributeValue) (store.Record, error) {
	var rec store.Record
	names := make([]string, 0, len(item))
	for name := range item {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		av := item[name]
		switch name {
		case store.AttrPartitionKey:
			rec.PartitionKey = stringOf(av)
		case store.AttrRowKey:
			rec.RowKey = stringOf(av)
		case store.AttrVersionTag:
			rec.VersionTag = stringOf(av)
		case store.AttrTimestamp:
			ts, err := time.Parse(schema.TimeLayout, stringOf(av))
			if err != nil {
				return store.Record{}, fmt.Errorf("decode %s: %w", name, err)
			}
			rec.Timestamp = ts
		default:
			v, err := fromAttribute(av)
			if err != nil {
				return store.Record{}, fmt.Errorf("decode %s: %w", name, err)
			}
			rec.Fields = append(rec.Fields, schema.Field{Name: name, Value: v})
		}
	}
	return rec, nil
}

func stringOf(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// fromAttribute decodes scalars into string, bool, int64 or float64, with
// uint64 for integers beyond the int64 range. Other kinds fall back to
// attributevalue.Unmarshal.
func fromAttribute(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberN:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n, nil
		}
		if n, err := strconv.ParseUint(v.Value, 10, 64); err == nil {
			return n, nil
		}
		return strconv.ParseFloat(v.Value, 64)
	}
	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return nil, err
	}
	return out, nil
}
