package schema

import (
	"fmt"
	"strings"
)

// Constructor builds a T from named values.
type Constructor[T any] struct {
	// Params are the parameter names, matched case-insensitively against fields.
	Params []string

	// Required params must all be present for the constructor to be viable.
	Required []string

	New func(Args) (*T, error)
}

// Ctor is shorthand for a Constructor with no required params.
func Ctor[T any](fn func(Args) (*T, error), params ...string) Constructor[T] {
	return Constructor[T]{Params: params, New: fn}
}

// Args holds the values passed to a constructor, keyed by lower-cased name.
// Params absent from the record are not set.
type Args map[string]any

// Has reports whether the record supplied name.
func (a Args) Has(name string) bool {
	_, ok := a[strings.ToLower(name)]
	return ok
}

// Arg returns the named argument, or the zero value when it is absent or of
// another type.
func Arg[V any](a Args, name string) V {
	v, _ := a[strings.ToLower(name)].(V)
	return v
}

// Decode builds a T from fields.
func (s *Schema[T]) Decode(fields []Field) (*T, error) {
	values := make(map[string]any, len(fields))
	available := make([]string, 0, len(fields))
	for _, f := range fields {
		key := strings.ToLower(f.Name)
		v := f.Value
		if p, ok := s.Property(f.Name); ok {
			decoded, err := p.decode(f.Value)
			if err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", s.Name, p.Name, err)
			}
			v = decoded
		}
		values[key] = v
		available = append(available, f.Name)
	}

	entity, injected, err := s.construct(values, available)
	if err != nil {
		return nil, err
	}

	for _, p := range s.Properties {
		key := strings.ToLower(p.Name)
		if p.set == nil || injected[key] {
			continue
		}
		if v, ok := values[key]; ok {
			p.set(entity, v)
		}
	}
	return entity, nil
}

// construct runs the constructor with the largest parameter coverage.
func (s *Schema[T]) construct(values map[string]any, available []string) (*T, map[string]bool, error) {
	if len(s.Constructors) == 0 {
		return new(T), nil, nil
	}

	best, bestCoverage := -1, -1
	for i, c := range s.Constructors {
		if !satisfied(c.Required, values) {
			continue
		}
		coverage := 0
		for _, p := range c.Params {
			if _, ok := values[strings.ToLower(p)]; ok {
				coverage++
			}
		}
		if coverage > bestCoverage {
			best, bestCoverage = i, coverage
		}
	}
	if best < 0 {
		return nil, nil, &ConstructorError{Type: s.Name, Available: available}
	}

	c := s.Constructors[best]
	args := make(Args, len(c.Params))
	injected := make(map[string]bool, len(c.Params))
	for _, p := range c.Params {
		key := strings.ToLower(p)
		if v, ok := values[key]; ok {
			args[key] = v
			injected[key] = true
		}
	}

	entity, err := c.New(args)
	if err != nil {
		return nil, nil, fmt.Errorf("construct %s: %w", s.Name, err)
	}
	if entity == nil {
		return nil, nil, &ConstructorError{Type: s.Name, Available: available}
	}
	return entity, injected, nil
}

func satisfied(required []string, values map[string]any) bool {
	for _, r := range required {
		if _, ok := values[strings.ToLower(r)]; !ok {
			return false
		}
	}
	return true
}
