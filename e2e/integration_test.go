//go:build e2e

// Package e2e runs sessions against real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// TABLESTORE_E2E_PROFILE selects the AWS profile and TABLESTORE_E2E_ENDPOINT
// points the tests at DynamoDB Local instead.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/tablestore/dynamo"
	"github.com/jacentio/tablestore/keys"
	"github.com/jacentio/tablestore/schema"
	"github.com/jacentio/tablestore/store"
)

var (
	testSchema string
	client     *dynamo.Client
	testStore  *store.Store
)

// --- Test Entities ---

type Organization struct {
	ID         string
	ExternalID string
	Name       string
	CreatedAt  time.Time
}

type Employee struct {
	ID         string
	Email      string
	Department string
	Name       string
}

var (
	orgByID         = keys.Property("Id", func(o *Organization) string { return o.ID }, true)
	orgByExternal   = keys.Property("ExternalId", func(o *Organization) string { return o.ExternalID }, true)
	employeeByID    = keys.Property("Id", func(e *Employee) string { return e.ID }, true)
	employeeByEmail = keys.Property("Email", func(e *Employee) string { return e.Email }, true)
	employeeByDept  = keys.Property("Department", func(e *Employee) string { return e.Department }, false)
)

func organizationSchema() schema.Schema[Organization] {
	return schema.Schema[Organization]{
		Name: "Organization",
		Properties: []schema.Property[Organization]{
			schema.Prop("Id", func(o *Organization) string { return o.ID }, func(o *Organization, v string) { o.ID = v }),
			schema.Prop("ExternalId", func(o *Organization) string { return o.ExternalID }, func(o *Organization, v string) { o.ExternalID = v }),
			schema.Prop("Name", func(o *Organization) string { return o.Name }, func(o *Organization, v string) { o.Name = v }),
			schema.PropTime("CreatedAt", func(o *Organization) time.Time { return o.CreatedAt }, func(o *Organization, v time.Time) { o.CreatedAt = v }),
		},
	}
}

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

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	// Table names must stay alphanumeric, so the dashes are dropped.
	testSchema = "E2e" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	fmt.Printf("Test schema: %s\n", testSchema)

	ctx := context.Background()
	cfg := dynamo.DefaultConfig()
	cfg.Profile = os.Getenv("TABLESTORE_E2E_PROFILE")
	cfg.Endpoint = os.Getenv("TABLESTORE_E2E_ENDPOINT")

	var err error
	client, err = dynamo.Open(ctx, cfg)
	if err != nil {
		fmt.Printf("Failed to open DynamoDB client: %v\n", err)
		os.Exit(1)
	}

	storeConfig := store.DefaultConfig()
	storeConfig.Schema = testSchema
	logger, _ := zap.NewDevelopment()
	testStore, err = store.New(client, storeConfig,
		store.WithLogger(logger),
		store.WithStrategies(orgByID, orgByExternal, employeeByID, employeeByEmail, employeeByDept),
	)
	if err != nil {
		fmt.Printf("Failed to create store: %v\n", err)
		os.Exit(1)
	}
	if err := errors.Join(
		store.Register(testStore, organizationSchema()),
		store.Register(testStore, employeeSchema()),
	); err != nil {
		fmt.Printf("Failed to register types: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := dropTables(ctx); err != nil {
		fmt.Printf("Failed to drop tables: %v\n", err)
	}
	os.Exit(code)
}

func dropTables(ctx context.Context) error {
	names, err := client.ListTables(ctx, testSchema)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Printf("Dropping %s\n", name)
		if err := client.DropTable(ctx, name); err != nil {
			fmt.Printf("Warning: failed to drop table %s: %v\n", name, err)
		}
	}
	return nil
}

func newOrganization() *Organization {
	id := uuid.NewString()
	return &Organization{
		ID:         id,
		ExternalID: "ext-" + id,
		Name:       "Test Organization",
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func save[T any](t *testing.T, entities ...*T) {
	t.Helper()
	s := testStore.OpenSession()
	for _, e := range entities {
		if err := store.Track(s, e); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	if err := s.SaveChanges(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
}

// --- Session Tests ---

func TestOrganization_BothAddressesAgree(t *testing.T) {
	ctx := context.Background()
	org := newOrganization()
	save(t, org)

	s := testStore.OpenSession()
	byID, found, err := store.Load[Organization](ctx, s, org.ID)
	if err != nil || !found {
		t.Fatalf("load by id: found=%v err=%v", found, err)
	}
	byExternal, found, err := store.LoadBy[Organization](ctx, s, orgByExternal, org.ExternalID)
	if err != nil || !found {
		t.Fatalf("load by external id: found=%v err=%v", found, err)
	}
	if byID.Name != org.Name || byExternal.Name != org.Name {
		t.Errorf("expected name %q, got %q and %q", org.Name, byID.Name, byExternal.Name)
	}
	if !byID.CreatedAt.Equal(org.CreatedAt) {
		t.Errorf("expected CreatedAt %v, got %v", org.CreatedAt, byID.CreatedAt)
	}

	svc, err := store.For[Organization](s)
	if err != nil {
		t.Fatal(err)
	}
	addrs, err := svc.Addresses(org)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := svc.Entry(addrs[0])
	second, _ := svc.Entry(addrs[1])
	if first.VersionTag == "" || first.VersionTag != second.VersionTag {
		t.Errorf("expected one shared version tag, got %q and %q", first.VersionTag, second.VersionTag)
	}
}

func TestOrganization_UnchangedSaveKeepsTag(t *testing.T) {
	ctx := context.Background()
	org := newOrganization()
	save(t, org)

	s := testStore.OpenSession()
	loaded, _, err := store.Load[Organization](ctx, s, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	svc, _ := store.For[Organization](s)
	addrs, _ := svc.Addresses(loaded)
	before, _ := svc.Entry(addrs[0])

	if err := s.SaveChanges(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	after, _ := svc.Entry(addrs[0])
	if before.VersionTag != after.VersionTag {
		t.Errorf("expected tag %q to survive a no-op save, got %q", before.VersionTag, after.VersionTag)
	}
}

func TestOrganization_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	org := newOrganization()
	save(t, org)

	first := testStore.OpenSession()
	second := testStore.OpenSession()
	a, _, err := store.Load[Organization](ctx, first, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := store.Load[Organization](ctx, second, org.ID)
	if err != nil {
		t.Fatal(err)
	}

	a.Name = "Renamed by first"
	if err := first.SaveChanges(ctx); err != nil {
		t.Fatalf("first save: %v", err)
	}

	b.Name = "Renamed by second"
	err = second.SaveChanges(ctx)
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	loaded, _, err := store.Load[Organization](ctx, testStore.OpenSession(), org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != "Renamed by first" {
		t.Errorf("expected first write to win, got %q", loaded.Name)
	}
}

func TestOrganization_Delete(t *testing.T) {
	ctx := context.Background()
	org := newOrganization()
	save(t, org)

	s := testStore.OpenSession()
	if err := store.DeleteByID[Organization](ctx, s, org.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	check := testStore.OpenSession()
	if _, found, err := store.Load[Organization](ctx, check, org.ID); err != nil || found {
		t.Errorf("expected id address gone: found=%v err=%v", found, err)
	}
	if _, found, err := store.LoadBy[Organization](ctx, check, orgByExternal, org.ExternalID); err != nil || found {
		t.Errorf("expected external address gone: found=%v err=%v", found, err)
	}
}

func TestEmployee_PartitionedLoadAndQuery(t *testing.T) {
	ctx := context.Background()
	dept := "dept-" + uuid.NewString()[:8]
	alice := &Employee{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", Department: dept, Name: "Alice"}
	bob := &Employee{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", Department: dept, Name: "Bob"}
	save(t, alice, bob)

	s := testStore.OpenSession()
	loaded, found, err := store.LoadBy[Employee](ctx, s, employeeByEmail, bob.Email)
	if err != nil || !found {
		t.Fatalf("load by email: found=%v err=%v", found, err)
	}
	if loaded.ID != bob.ID {
		t.Errorf("expected %s, got %s", bob.ID, loaded.ID)
	}

	all, err := store.LoadAll[Employee](ctx, s, dept)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 employees in %s, got %d", dept, len(all))
	}

	var names []string
	for e, err := range store.Query[Employee](ctx, s, fmt.Sprintf("Department eq '%s' and Name eq 'Alice'", dept)) {
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, e.Name)
	}
	// One row per address.
	if len(names) != 2 || names[0] != "Alice" {
		t.Errorf("expected Alice at both addresses, got %v", names)
	}
}
