package schema

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Scalar is the set of primitive kinds a property may hold.
type Scalar interface {
	~string | ~bool |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Property is one mapped property of T.
type Property[T any] struct {
	Name string

	get    func(*T) (any, bool, error)
	set    func(*T, any)
	decode func(raw any) (any, error)
}

// Value returns the storable value of the property and whether it is present.
func (p Property[T]) Value(entity *T) (any, bool, error) {
	return p.get(entity)
}

// Settable reports whether the property can be assigned after construction.
func (p Property[T]) Settable() bool {
	return p.set != nil
}

// Prop maps a scalar property. A nil set makes it read-only.
func Prop[T any, V Scalar](name string, get func(*T) V, set func(*T, V)) Property[T] {
	p := Property[T]{
		Name: name,
		get: func(e *T) (any, bool, error) {
			return normalize(get(e)), true, nil
		},
		decode: func(raw any) (any, error) {
			return coerce[V](raw)
		},
	}
	if set != nil {
		p.set = func(e *T, v any) { set(e, v.(V)) }
	}
	return p
}

// PropPtr maps an optional scalar property. Nil values are omitted from records.
func PropPtr[T any, V Scalar](name string, get func(*T) *V, set func(*T, *V)) Property[T] {
	p := Property[T]{
		Name: name,
		get: func(e *T) (any, bool, error) {
			v := get(e)
			if v == nil {
				return nil, false, nil
			}
			return normalize(*v), true, nil
		},
		decode: func(raw any) (any, error) {
			if raw == nil {
				return (*V)(nil), nil
			}
			v, err := coerce[V](raw)
			if err != nil {
				return nil, err
			}
			return &v, nil
		},
	}
	if set != nil {
		p.set = func(e *T, v any) { set(e, v.(*V)) }
	}
	return p
}

// PropTime maps a time property. Times are written in UTC and read back in
// the local zone. Zero times are omitted.
func PropTime[T any](name string, get func(*T) time.Time, set func(*T, time.Time)) Property[T] {
	p := Property[T]{
		Name: name,
		get: func(e *T) (any, bool, error) {
			t := get(e)
			if t.IsZero() {
				return nil, false, nil
			}
			return t.UTC(), true, nil
		},
		decode: func(raw any) (any, error) {
			t, err := toTime(raw)
			if err != nil {
				return nil, err
			}
			return t.Local(), nil
		},
	}
	if set != nil {
		p.set = func(e *T, v any) { set(e, v.(time.Time)) }
	}
	return p
}

// PropEnum maps an enum property by symbolic name. names must cover every
// value the property can hold.
func PropEnum[T any, E comparable](name string, names map[E]string, get func(*T) E, set func(*T, E)) Property[T] {
	byName := make(map[string]E, len(names))
	for v, n := range names {
		byName[n] = v
	}
	p := Property[T]{
		Name: name,
		get: func(e *T) (any, bool, error) {
			v := get(e)
			n, ok := names[v]
			if !ok {
				return nil, false, fmt.Errorf("%w: %v", ErrUnknownEnumValue, v)
			}
			return n, true, nil
		},
		decode: func(raw any) (any, error) {
			s, err := cast.ToStringE(raw)
			if err != nil {
				return nil, err
			}
			if v, ok := byName[s]; ok {
				return v, nil
			}
			for n, v := range byName {
				if strings.EqualFold(n, s) {
					return v, nil
				}
			}
			return nil, fmt.Errorf("%w: %q", ErrUnknownEnumValue, s)
		},
	}
	if set != nil {
		p.set = func(e *T, v any) { set(e, v.(E)) }
	}
	return p
}

func normalize[V Scalar](v V) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u > math.MaxInt64 {
			return u
		}
		return int64(rv.Uint())
	default:
		return rv.Float()
	}
}

func coerce[V Scalar](raw any) (V, error) {
	var zero V
	rt := reflect.TypeOf(zero)

	var (
		base any
		err  error
	)
	switch rt.Kind() {
	case reflect.String:
		base, err = cast.ToStringE(raw)
	case reflect.Bool:
		base, err = cast.ToBoolE(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		base, err = cast.ToInt64E(raw)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		base, err = cast.ToUint64E(raw)
	default:
		base, err = cast.ToFloat64E(raw)
	}
	if err != nil {
		return zero, fmt.Errorf("coerce %T to %s: %w", raw, rt, err)
	}
	return reflect.ValueOf(base).Convert(rt).Interface().(V), nil
}

// TimeLayout is the fixed-width layout times are stored in, so that stored
// times order lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func toTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, nil
		}
	}
	return cast.ToTimeE(raw)
}
