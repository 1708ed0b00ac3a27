package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/tablestore/keys"
	"github.com/jacentio/tablestore/memtable"
	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

type Organization struct {
	ID         string
	ExternalID string
	Name       string
	CreatedAt  time.Time
	Seats      *int
}

var (
	orgByID       = keys.Property("Id", func(o *Organization) string { return o.ID }, true)
	orgByExternal = keys.Property("ExternalId", func(o *Organization) string { return o.ExternalID }, true)
)

func organizationSchema() schema.Schema[Organization] {
	return schema.Schema[Organization]{
		Name: "Organization",
		Properties: []schema.Property[Organization]{
			schema.Prop("Id", func(o *Organization) string { return o.ID }, nil),
			schema.Prop("ExternalId", func(o *Organization) string { return o.ExternalID }, func(o *Organization, v string) { o.ExternalID = v }),
			schema.Prop("Name", func(o *Organization) string { return o.Name }, func(o *Organization, v string) { o.Name = v }),
			schema.PropTime("CreatedAt", func(o *Organization) time.Time { return o.CreatedAt }, func(o *Organization, v time.Time) { o.CreatedAt = v }),
			schema.PropPtr("Seats", func(o *Organization) *int { return o.Seats }, func(o *Organization, v *int) { o.Seats = v }),
		},
		Constructors: []schema.Constructor[Organization]{
			schema.Ctor(func(a schema.Args) (*Organization, error) {
				return &Organization{ID: schema.Arg[string](a, "Id")}, nil
			}, "Id"),
		},
	}
}

type Employee struct {
	ID         string
	Email      string
	Department string
	Name       string
}

var (
	employeeByID    = keys.Property("Id", func(e *Employee) string { return e.ID }, true)
	employeeByEmail = keys.Property("Email", func(e *Employee) string { return e.Email }, true)
	employeeByDept  = keys.Property("Department", func(e *Employee) string { return e.Department }, false)
)

func employeeSchema() schema.Schema[Employee] {
	return schema.Schema[Employee]{
		Name: "Employee",
		Properties: []schema.Property[Employee]{
			schema.Prop("Id", func(e *Employee) string { return e.ID }, func(e *Employee, v string) { e.ID = v }),
			schema.Prop("Email", func(e *Employee) string { return e.Email }, func(e *Employee, v string) { e.Email = v }),
			schema.Prop("Department", func(e *Employee) string { return e.Department }, func(e *Employee, v string) { e.Department = v }),
			schema.Prop("Name", func(e *Employee) string { return e.Name }, func(e *Employee, v string) { e.Name = v }),
		},
	}
}

// Widget relies on the Id fallback and the default partition.
type Widget struct {
	WidgetID string
	Color    string
	Size     int
}

func widgetSchema() schema.Schema[Widget] {
	return schema.Schema[Widget]{
		Name: "Widget",
		Properties: []schema.Property[Widget]{
			schema.Prop("WidgetId", func(w *Widget) string { return w.WidgetID }, func(w *Widget, v string) { w.WidgetID = v }),
			schema.Prop("Color", func(w *Widget) string { return w.Color }, func(w *Widget, v string) { w.Color = v }),
			schema.Prop("Size", func(w *Widget) int { return w.Size }, func(w *Widget, v int) { w.Size = v }),
		},
	}
}

type fixture struct {
	store   *store.Store
	tables  *memtable.Service
	metrics *store.Metrics
}

func newFixture(t *testing.T, mutate ...func(*store.Config)) *fixture {
	t.Helper()
	cfg := store.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	tables := memtable.New()
	metrics := store.NewMetrics("tablestore", prometheus.NewRegistry())
	st, err := store.New(tables, cfg,
		store.WithMetrics(metrics),
		store.WithStrategies(orgByID, orgByExternal, employeeByID, employeeByEmail, employeeByDept),
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := errors.Join(
		store.Register(st, organizationSchema()),
		store.Register(st, employeeSchema()),
		store.Register(st, widgetSchema()),
	); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &fixture{store: st, tables: tables, metrics: metrics}
}

// save tracks entities in a fresh session and commits them.
func save[T any](t *testing.T, f *fixture, entities ...*T) {
	t.Helper()
	s := f.store.OpenSession()
	for _, e := range entities {
		if err := store.Track(s, e); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	if err := s.SaveChanges(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
}

// mustLoad loads the T with id, failing the test when it is missing.
func mustLoad[T any](t *testing.T, s *store.Session, id any) *T {
	t.Helper()
	entity, found, err := store.Load[T](context.Background(), s, id)
	if err != nil {
		t.Fatalf("load %v: %v", id, err)
	}
	if !found {
		t.Fatalf("load %v: not found", id)
	}
	return entity
}

func service[T any](t *testing.T, s *store.Session) *store.EntityService[T] {
	t.Helper()
	svc, err := store.For[T](s)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

// row reads the stored row of a T at key. ok is false when there is none.
func row[T any](t *testing.T, f *fixture, key store.Key) (rec store.Record, ok bool) {
	t.Helper()
	ctx := context.Background()
	tbl, err := store.GetTable[T](ctx, f.store)
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	rec, err = tbl.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, false
	}
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return rec, true
}

func newOrganization() *Organization {
	return &Organization{
		ID:         "org-1",
		ExternalID: "ext-1",
		Name:       "Acme",
		CreatedAt:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

var (
	orgIDKey       = store.Key{PartitionKey: "Root", RowKey: "Id::org-1"}
	orgExternalKey = store.Key{PartitionKey: "Root", RowKey: "ExternalId::ext-1"}
)
