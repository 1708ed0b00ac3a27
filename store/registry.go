package store

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/jacentio/tablestore/keys"
	"github.com/jacentio/tablestore/schema"
)

// Metadata describes a registered entity type.
type Metadata[T any] struct {
	// SingularName is the schema name, e.g. "Organization".
	SingularName string

	// PluralName is the pluralised schema name, e.g. "Organizations".
	PluralName string

	// TableName is Config.Schema followed by PluralName.
	TableName string

	Schema schema.Schema[T]

	// IDStrategy is a unique strategy over the "Id" or "{SingularName}Id"
	// property. Nil when the type has neither.
	IDStrategy keys.Strategy[T]
}

// Register records the schema of T. A type may only be registered once.
func Register[T any](st *Store, s schema.Schema[T]) error {
	if err := s.Validate(); err != nil {
		return err
	}

	plural := inflection.Plural(s.Name)
	md := &Metadata[T]{
		SingularName: s.Name,
		PluralName:   plural,
		TableName:    st.config.Schema + plural,
		Schema:       s,
	}
	for _, name := range []string{"Id", s.Name + "Id"} {
		if p, ok := s.Property(name); ok {
			md.IDStrategy = keys.Property(p.Name, func(e *T) any {
				v, ok, err := p.Value(e)
				if !ok || err != nil {
					return nil
				}
				return v
			}, true)
			break
		}
	}

	typ := reflect.TypeFor[T]()
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.types[typ]; ok {
		return fmt.Errorf("tablestore: %s is already registered", s.Name)
	}
	st.types[typ] = md
	st.logger.Debug("registered type",
		zap.String("type", md.SingularName),
		zap.String("table", md.TableName))
	return nil
}

// GetMetadata returns the metadata of T, or ErrUnregisteredType.
func GetMetadata[T any](st *Store) (*Metadata[T], error) {
	typ := reflect.TypeFor[T]()
	st.mu.RLock()
	md, ok := st.types[typ]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredType, typ)
	}
	return md.(*Metadata[T]), nil
}

// GetStrategies returns the strategies registered for T, in registration order.
func GetStrategies[T any](st *Store) []keys.Strategy[T] {
	var out []keys.Strategy[T]
	for _, d := range st.strategies {
		if s, ok := d.(keys.Strategy[T]); ok {
			out = append(out, s)
		}
	}
	return out
}

// PrimaryStrategies returns the unique and partition strategies that build
// the primary address of T.
func PrimaryStrategies[T any](st *Store) (unique, partition keys.Strategy[T], err error) {
	md, err := GetMetadata[T](st)
	if err != nil {
		return nil, nil, err
	}
	u, p, err := splitStrategies(st, md)
	if err != nil {
		return nil, nil, err
	}
	return u[0], p[0], nil
}

// splitStrategies separates the strategies of T by kind. The IDStrategy
// stands in when no unique strategy is registered, and a constant
// DefaultPartition when no partition strategy is.
func splitStrategies[T any](st *Store, md *Metadata[T]) (unique, partition []keys.Strategy[T], err error) {
	for _, strategy := range GetStrategies[T](st) {
		if strategy.Unique() {
			unique = append(unique, strategy)
		} else {
			partition = append(partition, strategy)
		}
	}
	if len(unique) == 0 && md.IDStrategy != nil {
		unique = append(unique, md.IDStrategy)
	}
	if len(unique) == 0 {
		return nil, nil, fmt.Errorf("%w for %s", ErrNoUniqueStrategy, md.SingularName)
	}
	if len(partition) == 0 {
		partition = append(partition, keys.Constant[T](st.config.DefaultPartition))
	}
	return unique, partition, nil
}

// GetTable returns the table handle of T. The table is created on first
// access; concurrent first accesses share one creation call.
func GetTable[T any](ctx context.Context, st *Store) (*Table, error) {
	md, err := GetMetadata[T](st)
	if err != nil {
		return nil, err
	}

	typ := reflect.TypeFor[T]()
	if t, ok := st.cachedTable(typ); ok {
		return t, nil
	}

	v, err, _ := st.group.Do(md.TableName, func() (any, error) {
		if t, ok := st.cachedTable(typ); ok {
			return t, nil
		}
		if err := st.client.CreateTableIfNotExists(ctx, md.TableName); err != nil {
			return nil, fmt.Errorf("create table %s: %w", md.TableName, err)
		}
		t := &Table{Name: md.TableName, client: st.client}
		st.mu.Lock()
		st.tables[typ] = t
		st.mu.Unlock()
		st.logger.Info("table ready", zap.String("table", md.TableName))
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

func (s *Store) cachedTable(typ reflect.Type) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[typ]
	return t, ok
}
