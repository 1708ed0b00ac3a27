package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jacentio/tablestore/filter"
	"github.com/jacentio/tablestore/keys"
)

// Cached is a tracked entity and the version tag it was read at. An empty
// VersionTag means the entity has not been stored yet.
type Cached[T any] struct {
	Entity     *T
	VersionTag string
}

// EntityService tracks the entities of one type within a session and commits
// them. It is not safe for concurrent use.
type EntityService[T any] struct {
	store  *Store
	meta   *Metadata[T]
	logger *zap.Logger

	// unique and partition hold at least one strategy each; the first of
	// each is primary.
	unique    []keys.Strategy[T]
	partition []keys.Strategy[T]

	entries map[Key]*Cached[T]
}

func newEntityService[T any](st *Store) (*EntityService[T], error) {
	md, err := GetMetadata[T](st)
	if err != nil {
		return nil, err
	}

	s := &EntityService[T]{
		store:   st,
		meta:    md,
		logger:  st.logger.Named("session").With(zap.String("type", md.SingularName)),
		entries: make(map[Key]*Cached[T]),
	}
	s.unique, s.partition, err = splitStrategies(st, md)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Metadata returns the metadata of T.
func (s *EntityService[T]) Metadata() *Metadata[T] {
	return s.meta
}

// Addresses returns every key entity is stored under: one per unique and
// partition strategy pair, primary pair first.
func (s *EntityService[T]) Addresses(entity *T) ([]Key, error) {
	out := make([]Key, 0, len(s.unique)*len(s.partition))
	for _, p := range s.partition {
		pk, err := p.Key(entity)
		if err != nil {
			return nil, fmt.Errorf("%s partition key: %w", s.meta.SingularName, err)
		}
		for _, u := range s.unique {
			rk, err := u.Key(entity)
			if err != nil {
				return nil, fmt.Errorf("%s row key: %w", s.meta.SingularName, err)
			}
			out = append(out, Key{PartitionKey: pk, RowKey: rk})
		}
	}
	return out, nil
}

// Entry returns the tracked entry at key.
func (s *EntityService[T]) Entry(key Key) (Cached[T], bool) {
	c, ok := s.entries[key]
	if !ok {
		return Cached[T]{}, false
	}
	return *c, true
}

// Tracked returns the keys currently tracked, sorted.
func (s *EntityService[T]) Tracked() []Key {
	return sortedKeys(s.entries)
}

// Load returns the entity whose primary unique key is built from id.
func (s *EntityService[T]) Load(ctx context.Context, id any) (*T, bool, error) {
	return s.LoadBy(ctx, s.unique[0], id)
}

// LoadBy returns the entity whose row key strategy builds from value.
// Cached entities are returned without I/O. found is false when no row
// exists; nothing is tracked then.
func (s *EntityService[T]) LoadBy(ctx context.Context, strategy keys.Strategy[T], value any) (*T, bool, error) {
	if !strategy.Unique() {
		return nil, false, fmt.Errorf("tablestore: %s strategy %s is not unique", s.meta.SingularName, strategy.Prefix())
	}
	rk, err := strategy.KeyFor(value)
	if err != nil {
		return nil, false, err
	}

	primary := s.partition[0]
	if fixed, ok := primary.(keys.Fixed); ok {
		key := Key{PartitionKey: fixed.FixedKey(), RowKey: rk}
		if c, ok := s.entries[key]; ok {
			s.cacheLookup(key, true)
			return c.Entity, true, nil
		}
		s.cacheLookup(key, false)

		table, err := GetTable[T](ctx, s.store)
		if err != nil {
			return nil, false, err
		}
		rec, err := table.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("load %s %s: %w", s.meta.SingularName, key, err)
		}
		return s.track(ctx, table, rec)
	}

	prefix := keys.Join(primary.Prefix(), "")
	for _, key := range sortedKeys(s.entries) {
		if key.RowKey == rk && strings.HasPrefix(key.PartitionKey, prefix) {
			s.cacheLookup(key, true)
			return s.entries[key].Entity, true, nil
		}
	}
	s.cacheLookup(Key{PartitionKey: prefix, RowKey: rk}, false)

	table, err := GetTable[T](ctx, s.store)
	if err != nil {
		return nil, false, err
	}
	var matches []Record
	f := filter.And(
		filter.Eq(AttrRowKey, rk),
		filter.Ge(AttrPartitionKey, prefix),
		filter.Le(AttrPartitionKey, prefix+string(utf8.MaxRune)),
	)
	for rec, err := range table.Query(ctx, f) {
		if err != nil {
			return nil, false, fmt.Errorf("load %s %s: %w", s.meta.SingularName, rk, err)
		}
		matches = append(matches, rec)
	}
	switch len(matches) {
	case 0:
		return nil, false, nil
	case 1:
		return s.track(ctx, table, matches[0])
	default:
		return nil, false, &InconsistentStateError{Type: s.meta.SingularName, RowKey: rk, Matches: len(matches)}
	}
}

// track decodes rec and tracks the result under every address it has. The
// other addresses are fetched in one lookup so each carries its own stored
// version tag.
func (s *EntityService[T]) track(ctx context.Context, table *Table, rec Record) (*T, bool, error) {
	entity, err := s.meta.Schema.Decode(rec.Fields)
	if err != nil {
		return nil, false, err
	}
	addrs, err := s.Addresses(entity)
	if err != nil {
		return nil, false, err
	}

	others := make([]Key, 0, len(addrs))
	for _, k := range addrs {
		if k != rec.Key() {
			others = append(others, k)
		}
	}
	stored, err := table.Lookup(ctx, others, s.store.config.LookupBatchSize)
	if err != nil {
		return nil, false, fmt.Errorf("load %s addresses: %w", s.meta.SingularName, err)
	}

	s.entries[rec.Key()] = &Cached[T]{Entity: entity, VersionTag: rec.VersionTag}
	for _, k := range others {
		if _, ok := s.entries[k]; ok {
			continue
		}
		s.entries[k] = &Cached[T]{Entity: entity, VersionTag: stored[k].VersionTag}
	}
	return entity, true, nil
}

// Store tracks entity under all its addresses. An existing entry keeps the
// version tag it was read at, so replacing it with another instance still
// commits against that baseline. Entries of another instance with the same
// primary unique key are taken over as well; CommitChanges retires the ones
// entity no longer addresses. No I/O happens until CommitChanges.
//
// CommitChanges re-reads what it writes, so afterwards the tracked entries
// hold a new instance. Changes made to entity after a commit are only picked
// up by calling Store again.
func (s *EntityService[T]) Store(entity *T) error {
	if entity == nil {
		return fmt.Errorf("tablestore: nil %s", s.meta.SingularName)
	}
	addrs, err := s.Addresses(entity)
	if err != nil {
		return err
	}
	if id := s.id(entity); id != "" {
		for k, c := range s.entries {
			if c.Entity != entity && s.id(c.Entity) == id {
				s.entries[k] = &Cached[T]{Entity: entity, VersionTag: c.VersionTag}
			}
		}
	}
	for _, k := range addrs {
		c, ok := s.entries[k]
		switch {
		case !ok:
			s.entries[k] = &Cached[T]{Entity: entity}
		case c.Entity != entity:
			s.entries[k] = &Cached[T]{Entity: entity, VersionTag: c.VersionTag}
		}
	}
	return nil
}

// Delete removes every row entity is tracked or addressable under and stops
// tracking them, whatever the outcome of the individual deletes.
func (s *EntityService[T]) Delete(ctx context.Context, entity *T) error {
	if entity == nil {
		return fmt.Errorf("tablestore: nil %s", s.meta.SingularName)
	}
	targets := make(map[Key]bool)
	for k, c := range s.entries {
		if c.Entity == entity {
			targets[k] = true
		}
	}
	addrs, err := s.Addresses(entity)
	if err != nil && len(targets) == 0 {
		return err
	}
	for _, k := range addrs {
		targets[k] = true
	}

	table, err := GetTable[T](ctx, s.store)
	if err != nil {
		return err
	}

	var errs error
	for _, k := range sortedKeys(targets) {
		if err := table.Delete(ctx, k); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s %s: %w", s.meta.SingularName, k, err))
		}
		delete(s.entries, k)
	}
	if errs != nil {
		s.logger.Warn("delete failed", zap.Error(errs))
		return errs
	}
	s.logger.Debug("deleted", zap.Int("rows", len(targets)))
	return nil
}

// DeleteByID loads the entity with the given id and deletes it. An unknown
// id is a no-op.
func (s *EntityService[T]) DeleteByID(ctx context.Context, id any) error {
	entity, found, err := s.Load(ctx, id)
	if err != nil || !found {
		return err
	}
	return s.Delete(ctx, entity)
}

// Query yields the entities of the rows matching filter, most recently
// written first. Each iteration runs the query again. Results are not
// tracked.
func (s *EntityService[T]) Query(ctx context.Context, query string) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		f, err := filter.Parse(query)
		if err != nil {
			yield(nil, err)
			return
		}
		s.query(ctx, f)(yield)
	}
}

func (s *EntityService[T]) query(ctx context.Context, f filter.Expr) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		table, err := GetTable[T](ctx, s.store)
		if err != nil {
			yield(nil, err)
			return
		}
		var recs []Record
		for rec, err := range table.Query(ctx, f) {
			if err != nil {
				yield(nil, err)
				return
			}
			recs = append(recs, rec)
		}
		slices.SortStableFunc(recs, func(a, b Record) int {
			return b.Timestamp.Compare(a.Timestamp)
		})
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(s.meta.Schema.Decode(rec.Fields)) {
				return
			}
		}
	}
}

// LoadAll returns the entities in the partition the primary partition
// strategy builds from value, one per primary unique key, most recently
// written first. Results are not tracked.
func (s *EntityService[T]) LoadAll(ctx context.Context, value any) ([]*T, error) {
	pk, err := s.partition[0].KeyFor(value)
	if err != nil {
		return nil, err
	}
	var (
		out  []*T
		seen = make(map[string]bool)
	)
	for entity, err := range s.query(ctx, filter.Eq(AttrPartitionKey, pk)) {
		if err != nil {
			return nil, err
		}
		id, err := s.unique[0].Key(entity)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, entity)
	}
	return out, nil
}

// id returns the primary unique value of entity, for error reporting.
func (s *EntityService[T]) id(entity *T) string {
	if entity == nil {
		return ""
	}
	k, err := s.unique[0].Key(entity)
	if err != nil {
		return ""
	}
	if _, v, ok := keys.Split(k); ok {
		return v
	}
	return k
}

func (s *EntityService[T]) cacheLookup(key Key, hit bool) {
	s.store.metrics.cacheLookup(s.meta.SingularName, hit)
	if ce := s.logger.Check(zap.DebugLevel, "cache lookup"); ce != nil {
		ce.Write(zap.Stringer("key", key), zap.Bool("hit", hit))
	}
}

func sortedKeys[V any](m map[Key]V) []Key {
	return slices.SortedFunc(maps.Keys(m), compareKeys)
}

func compareKeys(a, b Key) int {
	return cmp.Or(
		strings.Compare(a.PartitionKey, b.PartitionKey),
		strings.Compare(a.RowKey, b.RowKey),
	)
}
