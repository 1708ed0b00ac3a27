package dynamo

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/jacentio/tablestore/filter"
	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

// condition compiles a filter tree into a DynamoDB condition.
func condition(e filter.Expr) (expression.ConditionBuilder, error) {
	switch n := e.(type) {
	case *filter.Comparison:
		name := expression.Name(n.Property)
		value := expression.Value(n.Value)
		switch n.Op {
		case filter.OpEq:
			return name.Equal(value), nil
		case filter.OpGe:
			return name.GreaterThanEqual(value), nil
		case filter.OpLe:
			return name.LessThanEqual(value), nil
		}
		return expression.ConditionBuilder{}, fmt.Errorf("unsupported operator %q", n.Op)
	case *filter.Logical:
		left, err := condition(n.Left)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		right, err := condition(n.Right)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		if n.Conj == filter.ConjAnd {
			return expression.And(left, right), nil
		}
		return expression.Or(left, right), nil
	}
	return expression.ConditionBuilder{}, fmt.Errorf("unsupported filter node %T", e)
}

// expectTag is the write condition for an expected version tag. An empty tag
// requires the row to be absent.
func expectTag(tag string) expression.ConditionBuilder {
	if tag == "" {
		return expression.AttributeNotExists(expression.Name(store.AttrPartitionKey))
	}
	return expression.Name(store.AttrVersionTag).Equal(expression.Value(tag))
}

// upsert builds the merge update of rec, stamping tag and timestamp and
// removing the attributes named in remove. cond may be nil for unconditional
// writes.
func upsert(rec store.Record, remove []string, tag, timestamp string, cond *expression.ConditionBuilder) (expression.Expression, error) {
	update := expression.Set(expression.Name(store.AttrVersionTag), expression.Value(tag)).
		Set(expression.Name(store.AttrTimestamp), expression.Value(timestamp))
	for _, f := range rec.Fields {
		if schema.IsReserved(f.Name) {
			continue
		}
		update = update.Set(expression.Name(f.Name), expression.Value(storable(f.Value)))
	}
	for _, name := range remove {
		if !schema.IsReserved(name) {
			update = update.Remove(expression.Name(name))
		}
	}

	b := expression.NewBuilder().WithUpdate(update)
	if cond != nil {
		b = b.WithCondition(*cond)
	}
	expr, err := b.Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("build update: %w", err)
	}
	return expr, nil
}

// keyCondition lifts the top-level conjuncts that fix PartitionKey, and at
// most one comparing RowKey, out of f into a key condition. ok is false when
// f does not fix PartitionKey, or when what is left still names a key
// attribute, which a Query filter may not reference.
func keyCondition(f filter.Expr) (kc expression.KeyConditionBuilder, rest filter.Expr, ok bool) {
	if f == nil {
		return kc, nil, false
	}
	var (
		pk, rk *filter.Comparison
		others []filter.Expr
	)
	for _, e := range conjuncts(f) {
		c, isComparison := e.(*filter.Comparison)
		if _, isString := comparedString(c); isComparison && isString {
			switch {
			case pk == nil && c.Property == store.AttrPartitionKey && c.Op == filter.OpEq:
				pk = c
				continue
			case rk == nil && c.Property == store.AttrRowKey:
				rk = c
				continue
			}
		}
		if namesKey(e) {
			return kc, nil, false
		}
		others = append(others, e)
	}
	if pk == nil {
		return kc, nil, false
	}

	kc = expression.Key(store.AttrPartitionKey).Equal(expression.Value(pk.Value))
	if rk != nil {
		name, value := expression.Key(store.AttrRowKey), expression.Value(rk.Value)
		switch rk.Op {
		case filter.OpEq:
			kc = kc.And(name.Equal(value))
		case filter.OpGe:
			kc = kc.And(name.GreaterThanEqual(value))
		case filter.OpLe:
			kc = kc.And(name.LessThanEqual(value))
		default:
			return kc, nil, false
		}
	}
	return kc, filter.And(others...), true
}

func comparedString(c *filter.Comparison) (string, bool) {
	if c == nil {
		return "", false
	}
	s, ok := c.Value.(string)
	return s, ok
}

// conjuncts flattens the top-level "and" chain of e.
func conjuncts(e filter.Expr) []filter.Expr {
	if l, ok := e.(*filter.Logical); ok && l.Conj == filter.ConjAnd {
		return append(conjuncts(l.Left), conjuncts(l.Right)...)
	}
	return []filter.Expr{e}
}

func namesKey(e filter.Expr) bool {
	switch n := e.(type) {
	case *filter.Comparison:
		return n.Property == store.AttrPartitionKey || n.Property == store.AttrRowKey
	case *filter.Logical:
		return namesKey(n.Left) || namesKey(n.Right)
	}
	return false
}
