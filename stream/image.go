package stream

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

// Key reads the row address from the key map of a stream record.
func Key(streamKey map[string]events.DynamoDBAttributeValue) store.Key {
	return store.Key{
		PartitionKey: stringAttr(streamKey, store.AttrPartitionKey),
		RowKey:       stringAttr(streamKey, store.AttrRowKey),
	}
}

// Record decodes a stream image the way the dynamo client decodes items.
// Fields are sorted by name.
func Record(image map[string]events.DynamoDBAttributeValue) (store.Record, error) {
	var rec store.Record
	names := make([]string, 0, len(image))
	for name := range image {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		av := image[name]
		switch name {
		case store.AttrPartitionKey:
			rec.PartitionKey = stringAttr(image, name)
		case store.AttrRowKey:
			rec.RowKey = stringAttr(image, name)
		case store.AttrVersionTag:
			rec.VersionTag = stringAttr(image, name)
		case store.AttrTimestamp:
			ts, err := time.Parse(schema.TimeLayout, stringAttr(image, name))
			if err != nil {
				return store.Record{}, fmt.Errorf("decode %s: %w", name, err)
			}
			rec.Timestamp = ts
		default:
			v, err := value(av)
			if err != nil {
				return store.Record{}, fmt.Errorf("decode %s: %w", name, err)
			}
			rec.Fields = append(rec.Fields, schema.Field{Name: name, Value: v})
		}
	}
	return rec, nil
}

// stringAttr extracts a string attribute, or "" when absent or not a string.
func stringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// value converts an attribute into string, bool, int64, float64, []byte,
// []any or map[string]any.
func value(av events.DynamoDBAttributeValue) (any, error) {
	switch av.DataType() {
	case events.DataTypeString:
		return av.String(), nil
	case events.DataTypeBoolean:
		return av.Boolean(), nil
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeNumber:
		return number(av.Number())
	case events.DataTypeBinary:
		return av.Binary(), nil
	case events.DataTypeStringSet:
		return av.StringSet(), nil
	case events.DataTypeNumberSet:
		out := make([]any, 0, len(av.NumberSet()))
		for _, n := range av.NumberSet() {
			v, err := number(n)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case events.DataTypeBinarySet:
		return av.BinarySet(), nil
	case events.DataTypeList:
		out := make([]any, 0, len(av.List()))
		for _, item := range av.List() {
			v, err := value(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case events.DataTypeMap:
		out := make(map[string]any, len(av.Map()))
		for k, item := range av.Map() {
			v, err := value(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported attribute type %v", av.DataType())
}

func number(s string) (any, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("number %q: %w", s, err)
	}
	return f, nil
}
