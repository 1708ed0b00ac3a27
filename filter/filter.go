// Package filter implements the small filter language used to query tables.
//
// A filter compares properties against literals and combines comparisons:
//
//	Name eq 'Acme' and (Seats ge 10 or Active eq true)
//
// Supported operators are eq, ge and le. "and" binds tighter than "or".
// String literals are single-quoted, with an embedded quote written twice;
// numbers are integers or decimals; booleans are true and false.
//
// Filters are either parsed from text with [Parse] or built with [Eq], [Ge],
// [Le], [And] and [Or]. Built filters render back to text with String, and
// backends either evaluate them directly with Eval or compile the tree.
package filter

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/jacentio/tablestore/schema"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpGe Op = "ge"
	OpLe Op = "le"
)

// Conj joins two expressions.
type Conj string

const (
	ConjAnd Conj = "and"
	ConjOr  Conj = "or"
)

// Lookup resolves a property of the record under evaluation.
type Lookup func(name string) (any, bool)

// Expr is a node of a filter tree: either a *Comparison or a *Logical.
type Expr interface {
	fmt.Stringer

	// Eval reports whether the record behind lookup matches.
	Eval(lookup Lookup) bool

	expr()
}

// Comparison compares one property against a literal. Value is a string,
// bool, int64 or float64.
type Comparison struct {
	Property string
	Op       Op
	Value    any
}

// Logical combines two expressions.
type Logical struct {
	Conj  Conj
	Left  Expr
	Right Expr
}

func (*Comparison) expr() {}
func (*Logical) expr()    {}

func (c *Comparison) String() string {
	return c.Property + " " + string(c.Op) + " " + Literal(c.Value)
}

func (l *Logical) String() string {
	return "(" + l.Left.String() + ") " + string(l.Conj) + " (" + l.Right.String() + ")"
}

// Eval compares the looked-up value with the literal. Missing properties and
// values of an incomparable kind never match.
func (c *Comparison) Eval(lookup Lookup) bool {
	v, ok := lookup(c.Property)
	if !ok || v == nil {
		return false
	}
	cmp, ok := compare(normalize(v), c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpGe:
		return cmp >= 0
	case OpLe:
		return cmp <= 0
	}
	return false
}

func (l *Logical) Eval(lookup Lookup) bool {
	if l.Conj == ConjAnd {
		return l.Left.Eval(lookup) && l.Right.Eval(lookup)
	}
	return l.Left.Eval(lookup) || l.Right.Eval(lookup)
}

// Eq builds "property eq value".
func Eq(property string, value any) *Comparison {
	return &Comparison{Property: property, Op: OpEq, Value: normalize(value)}
}

// Ge builds "property ge value".
func Ge(property string, value any) *Comparison {
	return &Comparison{Property: property, Op: OpGe, Value: normalize(value)}
}

// Le builds "property le value".
func Le(property string, value any) *Comparison {
	return &Comparison{Property: property, Op: OpLe, Value: normalize(value)}
}

// And joins exprs left to right. Nil expressions are skipped; it returns nil
// when nothing is left.
func And(exprs ...Expr) Expr {
	return join(ConjAnd, exprs)
}

// Or joins exprs left to right. Nil expressions are skipped; it returns nil
// when nothing is left.
func Or(exprs ...Expr) Expr {
	return join(ConjOr, exprs)
}

func join(conj Conj, exprs []Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if isNil(e) {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &Logical{Conj: conj, Left: out, Right: e}
	}
	return out
}

func isNil(e Expr) bool {
	switch v := e.(type) {
	case nil:
		return true
	case *Comparison:
		return v == nil
	case *Logical:
		return v == nil
	}
	return false
}

// String renders e, or "" for a nil expression.
func String(e Expr) string {
	if isNil(e) {
		return ""
	}
	return e.String()
}

// Quote renders s as a string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders v as a literal.
func Literal(v any) string {
	switch x := normalize(v).(type) {
	case string:
		return Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	default:
		return Quote(cast.ToString(x))
	}
}

// normalize folds v into string, bool, int64 or float64. Times become
// fixed-width UTC strings so that they compare like stored times.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x
	case time.Time:
		return schema.FormatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return schema.FormatTime(*x)
	case fmt.Stringer:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u)
		}
		return int64(u)
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return cast.ToString(v)
}

// compare orders a against b. Integers and decimals compare numerically;
// strings lexicographically; false sorts before true.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, float64(y)), true
		case float64:
			return cmpOrdered(x, y), true
		}
	}
	return 0, false
}

func cmpOrdered[N int64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
