// Package keys derives partition and row key fragments from entities.
//
// A unique strategy produces row keys: within one partition, its value identifies
// at most one entity. A non-unique strategy produces partition keys and groups
// entities. Property strategies embed the property name in every key they build,
// so renaming the backing property is a breaking schema change.
package keys

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/jacentio/tablestore/internal/shard"
)

// Separator joins a key prefix and its value.
const Separator = "::"

// ErrMissingValue is returned when a key is derived from an absent value.
var ErrMissingValue = errors.New("tablestore: key value is missing")

// Descriptor is the type-independent half of a Strategy.
type Descriptor interface {
	// Unique reports whether the strategy yields row keys.
	Unique() bool

	// Prefix returns the stable prefix embedded in every key the strategy builds.
	Prefix() string
}

// Strategy maps an entity, or a bare value, to a key fragment.
// Implementations must be deterministic and free of side effects.
type Strategy[T any] interface {
	Descriptor

	// Key derives the key for entity.
	Key(entity *T) (string, error)

	// KeyFor derives the key for a value without a full entity,
	// e.g. to load by email without loading the object first.
	KeyFor(value any) (string, error)
}

// Fixed is implemented by strategies that ignore the entity entirely.
type Fixed interface {
	FixedKey() string
}

// Join builds "{prefix}::{value}".
func Join(prefix, value string) string {
	return prefix + Separator + value
}

// Split is the inverse of Join. ok is false when key carries no separator.
func Split(key string) (prefix, value string, ok bool) {
	return strings.Cut(key, Separator)
}

// IsFixed reports whether s ignores the entity.
func IsFixed(s Descriptor) bool {
	_, ok := s.(Fixed)
	return ok
}

// PropertyStrategy builds keys as "{Name}::{value}" from one property.
type PropertyStrategy[T, V any] struct {
	name   string
	get    func(*T) V
	unique bool
}

// Property returns a strategy over the property called name.
func Property[T, V any](name string, get func(*T) V, unique bool) *PropertyStrategy[T, V] {
	return &PropertyStrategy[T, V]{name: name, get: get, unique: unique}
}

func (p *PropertyStrategy[T, V]) Unique() bool   { return p.unique }
func (p *PropertyStrategy[T, V]) Prefix() string { return p.name }

func (p *PropertyStrategy[T, V]) Key(entity *T) (string, error) {
	if entity == nil {
		return "", fmt.Errorf("%s: %w", p.name, ErrMissingValue)
	}
	return p.KeyFor(p.get(entity))
}

// BuildKey derives the key for a bare property value.
func (p *PropertyStrategy[T, V]) BuildKey(value V) (string, error) {
	return p.KeyFor(value)
}

func (p *PropertyStrategy[T, V]) KeyFor(value any) (string, error) {
	s, err := Format(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	return Join(p.name, s), nil
}

// ConstantStrategy places every entity in one partition.
type ConstantStrategy[T any] struct {
	value string
}

// Constant returns a non-unique strategy that always yields value.
func Constant[T any](value string) *ConstantStrategy[T] {
	return &ConstantStrategy[T]{value: value}
}

func (c *ConstantStrategy[T]) Unique() bool               { return false }
func (c *ConstantStrategy[T]) Prefix() string             { return c.value }
func (c *ConstantStrategy[T]) Key(*T) (string, error)     { return c.value, nil }
func (c *ConstantStrategy[T]) KeyFor(any) (string, error) { return c.value, nil }
func (c *ConstantStrategy[T]) FixedKey() string           { return c.value }

// ShardedStrategy spreads entities over a fixed number of partitions
// by hashing a property value.
type ShardedStrategy[T, V any] struct {
	name      string
	get       func(*T) V
	numShards int
}

// Sharded returns a non-unique strategy yielding "{name}::{bucket}".
// numShards is clamped to [1, 256].
func Sharded[T, V any](name string, get func(*T) V, numShards int) *ShardedStrategy[T, V] {
	return &ShardedStrategy[T, V]{name: name, get: get, numShards: shard.Clamp(numShards)}
}

func (s *ShardedStrategy[T, V]) Unique() bool   { return false }
func (s *ShardedStrategy[T, V]) Prefix() string { return s.name }

func (s *ShardedStrategy[T, V]) Key(entity *T) (string, error) {
	if entity == nil {
		return "", fmt.Errorf("%s: %w", s.name, ErrMissingValue)
	}
	return s.KeyFor(s.get(entity))
}

func (s *ShardedStrategy[T, V]) KeyFor(value any) (string, error) {
	v, err := Format(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	return Join(s.name, shard.Bucket(v, s.numShards)), nil
}

// Partitions lists every partition key the strategy can produce.
func (s *ShardedStrategy[T, V]) Partitions() []string {
	buckets := shard.Buckets(s.numShards)
	out := make([]string, len(buckets))
	for i, b := range buckets {
		out[i] = Join(s.name, b)
	}
	return out
}

// Format renders a key value. Nil pointers, nil interfaces, empty strings and
// zero times are missing values.
func Format(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", ErrMissingValue
	case string:
		if v == "" {
			return "", ErrMissingValue
		}
		return v, nil
	case time.Time:
		if v.IsZero() {
			return "", ErrMissingValue
		}
		return v.UTC().Format(time.RFC3339Nano), nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "", ErrMissingValue
		}
		return Format(rv.Elem().Interface())
	case reflect.String:
		return Format(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	}

	s, err := cast.ToStringE(value)
	if err != nil {
		return "", fmt.Errorf("format key value %T: %w", value, err)
	}
	if s == "" {
		return "", ErrMissingValue
	}
	return s, nil
}
