// Package schema converts between typed entities and flat, ordered records.
//
// Every entity type is described once by a [Schema]: its properties, with typed
// accessors, and the constructors that can build it from named values. Nothing is
// discovered at runtime; the descriptor is the whole contract.
//
// # Writing
//
// [Schema.Values] maps each property to a storable primitive: integers become
// int64 (unsigned values beyond its range stay uint64), floats float64, times
// are normalised to UTC and enums are written by symbolic name. Absent
// optional values are omitted.
//
// # Reading
//
// [Schema.Decode] picks the declared constructor whose parameters overlap most
// (case-insensitively) with the available field names, then assigns every
// remaining settable property that has a matching field.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoViableConstructor is returned when no declared constructor can be
	// satisfied by a record's fields.
	ErrNoViableConstructor = errors.New("tablestore: no viable constructor")

	// ErrUnknownEnumValue is returned when an enum value has no symbolic name.
	ErrUnknownEnumValue = errors.New("tablestore: unknown enum value")

	// ErrInvalidSchema is returned by Validate.
	ErrInvalidSchema = errors.New("tablestore: invalid schema")
)

// Reserved lists the record attributes owned by the table layer.
var Reserved = []string{"PartitionKey", "RowKey", "Timestamp", "ETag"}

// IsReserved reports whether name collides with a table-owned attribute.
func IsReserved(name string) bool {
	for _, r := range Reserved {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// Field is one named value of a record.
type Field struct {
	Name  string
	Value any
}

// Lookup finds a field by case-insensitive name.
func Lookup(fields []Field, name string) (any, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return nil, false
}

// Schema describes an entity type T.
type Schema[T any] struct {
	// Name is the singular type name (e.g. "Organization").
	Name string

	// Properties are written in declaration order.
	Properties []Property[T]

	// Constructors are ranked in declaration order; on equal coverage the
	// first wins. When empty, new(T) is used.
	Constructors []Constructor[T]
}

// ConstructorError reports a record that no constructor can consume.
type ConstructorError struct {
	Type      string
	Available []string
}

func (e *ConstructorError) Error() string {
	return fmt.Sprintf("tablestore: no viable constructor for %s with available values [%s]",
		e.Type, strings.Join(e.Available, ","))
}

func (e *ConstructorError) Is(target error) bool {
	return target == ErrNoViableConstructor
}

// Validate checks names and constructors.
func (s *Schema[T]) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing type name", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s.Properties))
	for _, p := range s.Properties {
		key := strings.ToLower(p.Name)
		switch {
		case p.Name == "":
			return fmt.Errorf("%w: %s has an unnamed property", ErrInvalidSchema, s.Name)
		case IsReserved(p.Name):
			return fmt.Errorf("%w: %s.%s is a reserved name", ErrInvalidSchema, s.Name, p.Name)
		case seen[key]:
			return fmt.Errorf("%w: %s.%s is declared twice", ErrInvalidSchema, s.Name, p.Name)
		case p.get == nil || p.decode == nil:
			return fmt.Errorf("%w: %s.%s has no accessors", ErrInvalidSchema, s.Name, p.Name)
		}
		seen[key] = true
	}
	for i, c := range s.Constructors {
		if c.New == nil {
			return fmt.Errorf("%w: %s constructor %d has no function", ErrInvalidSchema, s.Name, i)
		}
	}
	return nil
}

// Property returns the property called name, matched case-insensitively.
func (s *Schema[T]) Property(name string) (Property[T], bool) {
	for _, p := range s.Properties {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Property[T]{}, false
}

// Values flattens entity into fields, in property order.
func (s *Schema[T]) Values(entity *T) ([]Field, error) {
	if entity == nil {
		return nil, fmt.Errorf("tablestore: nil %s", s.Name)
	}
	fields := make([]Field, 0, len(s.Properties))
	for _, p := range s.Properties {
		v, ok, err := p.get(entity)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", s.Name, p.Name, err)
		}
		if ok {
			fields = append(fields, Field{Name: p.Name, Value: v})
		}
	}
	return fields, nil
}
