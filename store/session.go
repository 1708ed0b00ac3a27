package store

import (
	"context"
	"iter"
	"reflect"

	"go.uber.org/multierr"

	"github.com/jacentio/tablestore/keys"
)

type committer interface {
	CommitChanges(ctx context.Context, failFast bool) error
}

// Session is a unit of work: it caches loaded entities, collects changes and
// writes them with SaveChanges. A Session is not safe for concurrent use.
type Session struct {
	store *Store

	// services are kept in first-touch order.
	services []committer
	byType   map[reflect.Type]any
}

// For returns the session's EntityService for T, creating it on first use.
func For[T any](s *Session) (*EntityService[T], error) {
	typ := reflect.TypeFor[T]()
	if svc, ok := s.byType[typ]; ok {
		return svc.(*EntityService[T]), nil
	}
	svc, err := newEntityService[T](s.store)
	if err != nil {
		return nil, err
	}
	s.byType[typ] = svc
	s.services = append(s.services, svc)
	return svc, nil
}

// Load returns the T with the given id. found is false when it does not exist.
func Load[T any](ctx context.Context, s *Session, id any) (entity *T, found bool, err error) {
	svc, err := For[T](s)
	if err != nil {
		return nil, false, err
	}
	return svc.Load(ctx, id)
}

// LoadBy returns the T whose unique strategy builds a key from value.
func LoadBy[T any](ctx context.Context, s *Session, strategy keys.Strategy[T], value any) (*T, bool, error) {
	svc, err := For[T](s)
	if err != nil {
		return nil, false, err
	}
	return svc.LoadBy(ctx, strategy, value)
}

// LoadMany loads each id in turn, returning the entities found in id order.
func LoadMany[T any](ctx context.Context, s *Session, ids ...any) ([]*T, error) {
	svc, err := For[T](s)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		entity, found, err := svc.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, entity)
		}
	}
	return out, nil
}

// Track stages entity to be written by the next SaveChanges. Changing a
// key-bearing property of a tracked entity moves it: SaveChanges writes the
// new addresses and deletes the rows at the old ones.
//
// SaveChanges replaces the tracked instance with one decoded from the written
// rows. To stage further changes to entity after a save, call Track again or
// Load it from the session.
func Track[T any](s *Session, entity *T) error {
	svc, err := For[T](s)
	if err != nil {
		return err
	}
	return svc.Store(entity)
}

// Delete removes entity immediately.
func Delete[T any](ctx context.Context, s *Session, entity *T) error {
	svc, err := For[T](s)
	if err != nil {
		return err
	}
	return svc.Delete(ctx, entity)
}

// DeleteByID removes the T with the given id immediately. Unknown ids are
// ignored.
func DeleteByID[T any](ctx context.Context, s *Session, id any) error {
	svc, err := For[T](s)
	if err != nil {
		return err
	}
	return svc.DeleteByID(ctx, id)
}

// Query yields the T rows matching filter, most recently written first.
func Query[T any](ctx context.Context, s *Session, filter string) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		svc, err := For[T](s)
		if err != nil {
			yield(nil, err)
			return
		}
		svc.Query(ctx, filter)(yield)
	}
}

// LoadAll returns every T in the partition built from value.
func LoadAll[T any](ctx context.Context, s *Session, value any) ([]*T, error) {
	svc, err := For[T](s)
	if err != nil {
		return nil, err
	}
	return svc.LoadAll(ctx, value)
}

// SaveChanges commits every entity type touched by the session, in the order
// the types were first used. A failing type does not stop the others; there
// is no atomicity across types. Written entities are re-read, and the
// session tracks the re-read instances from then on.
func (s *Session) SaveChanges(ctx context.Context) error {
	var errs error
	for _, svc := range s.services {
		errs = multierr.Append(errs, svc.CommitChanges(ctx, false))
	}
	return errs
}
