// Package memtable is an in-memory store.TableClient.
//
// It keeps the semantics the session layer relies on: every write gets a
// fresh version tag, transactions are atomic and conditioned on the tags of
// their rows, and queries evaluate filters with the filter package. Tests can
// inject failures with Intercept.
package memtable

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/tablestore/filter"
	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

// Op names a TableClient operation.
type Op string

const (
	OpCreateTable Op = "CreateTable"
	OpGet         Op = "Get"
	OpUpsert      Op = "UpsertMerge"
	OpTransaction Op = "SubmitTransaction"
	OpDelete      Op = "Delete"
	OpQuery       Op = "Query"
)

// Call describes an operation about to run, for interceptors.
type Call struct {
	Op      Op
	Table   string
	Keys    []store.Key
	Filter  string
	Actions []store.UpsertMergeAction
}

// Interceptor runs before every operation, under the service lock, so it
// must not call back into the Service. A non-nil error fails the
// operation without touching the tables.
type Interceptor func(Call) error

type row struct {
	tag       string
	timestamp time.Time
	fields    []schema.Field
}

// Service is an in-memory table service. It is safe for concurrent use.
type Service struct {
	logger *zap.Logger

	mu          sync.Mutex
	tables      map[string]map[store.Key]*row
	calls       map[Op]int
	intercept   Interceptor
	lastWritten time.Time
}

var _ store.TableClient = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New returns an empty Service.
func New(opts ...Option) *Service {
	s := &Service{
		logger: zap.NewNop(),
		tables: make(map[string]map[store.Key]*row),
		calls:  make(map[Op]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("memtable")
	return s
}

// Intercept installs fn, replacing any previous interceptor. Nil removes it.
func (s *Service) Intercept(fn Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = fn
}

// Calls returns how many times op was invoked, intercepted calls included.
func (s *Service) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ResetCalls zeroes the call counters.
func (s *Service) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.calls)
}

// ListTables returns the names of the tables starting with prefix, sorted.
func (s *Service) ListTables(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.tables {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// DropTable removes a table and its rows. Dropping a missing table is not
// an error.
func (s *Service) DropTable(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, name)
	return nil
}

// begin counts the call and runs the interceptor. Callers hold s.mu.
func (s *Service) begin(c Call) error {
	s.calls[c.Op]++
	if s.intercept != nil {
		if err := s.intercept(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) table(name string) (map[store.Key]*row, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, &store.RequestFailedError{
			Code: store.CodeTableNotFound,
			Err:  fmt.Errorf("table %s does not exist", name),
		}
	}
	return t, nil
}

// stamp returns a write time strictly after the previous one.
func (s *Service) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastWritten) {
		now = s.lastWritten.Add(time.Nanosecond)
	}
	s.lastWritten = now
	return now
}

func (s *Service) CreateTableIfNotExists(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(Call{Op: OpCreateTable, Table: name}); err != nil {
		return err
	}
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = make(map[store.Key]*row)
		s.logger.Debug("created table", zap.String("table", name))
	}
	return nil
}

func (s *Service) GetEntity(ctx context.Context, name, partitionKey, rowKey string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	key := store.Key{PartitionKey: partitionKey, RowKey: rowKey}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(Call{Op: OpGet, Table: name, Keys: []store.Key{key}}); err != nil {
		return store.Record{}, err
	}
	t, err := s.table(name)
	if err != nil {
		return store.Record{}, err
	}
	r, ok := t[key]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return r.record(key), nil
}

func (s *Service) UpsertMerge(ctx context.Context, name string, rec store.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(Call{Op: OpUpsert, Table: name, Keys: []store.Key{rec.Key()}}); err != nil {
		return "", err
	}
	t, err := s.table(name)
	if err != nil {
		return "", err
	}
	tag := uuid.NewString()
	merge(t, rec, nil, tag, s.stamp())
	return tag, nil
}

func (s *Service) SubmitTransaction(ctx context.Context, name string, actions []store.UpsertMergeAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batchKeys := make([]store.Key, len(actions))
	for i, a := range actions {
		batchKeys[i] = a.Record.Key()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(Call{Op: OpTransaction, Table: name, Keys: batchKeys, Actions: actions}); err != nil {
		return err
	}
	t, err := s.table(name)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}

	seen := make(map[store.Key]bool, len(actions))
	for _, a := range actions {
		key := a.Record.Key()
		switch {
		case key.PartitionKey != actions[0].Record.PartitionKey:
			return &store.RequestFailedError{
				Code: "ValidationException",
				Err:  fmt.Errorf("transaction spans partitions %q and %q", actions[0].Record.PartitionKey, key.PartitionKey),
			}
		case seen[key]:
			return &store.RequestFailedError{
				Code: "ValidationException",
				Err:  fmt.Errorf("transaction writes %s twice", key),
			}
		}
		seen[key] = true

		current := ""
		if r, ok := t[key]; ok {
			current = r.tag
		}
		if current != a.ExpectedTag {
			return &store.RequestFailedError{
				Code: store.CodeTransactionCanceled,
				Err:  fmt.Errorf("condition failed for %s: expected version %q, found %q", key, a.ExpectedTag, current),
			}
		}
	}

	tag := uuid.NewString()
	now := s.stamp()
	for _, a := range actions {
		merge(t, a.Record, a.Remove, tag, now)
	}
	s.logger.Debug("transaction applied", zap.String("table", name), zap.Int("rows", len(actions)))
	return nil
}

func (s *Service) DeleteEntity(ctx context.Context, name, partitionKey, rowKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := store.Key{PartitionKey: partitionKey, RowKey: rowKey}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(Call{Op: OpDelete, Table: name, Keys: []store.Key{key}}); err != nil {
		return err
	}
	t, err := s.table(name)
	if err != nil {
		return err
	}
	delete(t, key)
	return nil
}

// Query snapshots the matching rows when iteration starts.
func (s *Service) Query(ctx context.Context, name, query string) iter.Seq2[store.Record, error] {
	return func(yield func(store.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(store.Record{}, err)
			return
		}
		f, err := filter.Parse(query)
		if err != nil {
			yield(store.Record{}, err)
			return
		}

		s.mu.Lock()
		if err := s.begin(Call{Op: OpQuery, Table: name, Filter: query}); err != nil {
			s.mu.Unlock()
			yield(store.Record{}, err)
			return
		}
		t, err := s.table(name)
		if err != nil {
			s.mu.Unlock()
			yield(store.Record{}, err)
			return
		}
		var matches []store.Record
		for key, r := range t {
			rec := r.record(key)
			if f == nil || f.Eval(rec.Lookup) {
				matches = append(matches, rec)
			}
		}
		s.mu.Unlock()

		slices.SortFunc(matches, func(a, b store.Record) int {
			if c := strings.Compare(a.PartitionKey, b.PartitionKey); c != 0 {
				return c
			}
			return strings.Compare(a.RowKey, b.RowKey)
		})
		for _, rec := range matches {
			if err := ctx.Err(); err != nil {
				yield(store.Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (r *row) record(key store.Key) store.Record {
	return store.Record{
		PartitionKey: key.PartitionKey,
		RowKey:       key.RowKey,
		VersionTag:   r.tag,
		Timestamp:    r.timestamp,
		Fields:       slices.Clone(r.fields),
	}
}

// merge replaces the named fields of the row at rec's key and drops the
// removed ones, keeping the rest.
func merge(t map[store.Key]*row, rec store.Record, remove []string, tag string, now time.Time) {
	key := rec.Key()
	r, ok := t[key]
	if !ok {
		r = &row{}
		t[key] = r
	}
	r.fields = slices.DeleteFunc(r.fields, func(f schema.Field) bool {
		return slices.ContainsFunc(remove, func(name string) bool {
			return strings.EqualFold(name, f.Name)
		})
	})
	for _, f := range rec.Fields {
		if schema.IsReserved(f.Name) {
			continue
		}
		replaced := false
		for i := range r.fields {
			if strings.EqualFold(r.fields[i].Name, f.Name) {
				r.fields[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			r.fields = append(r.fields, f)
		}
	}
	r.tag = tag
	r.timestamp = now
}
