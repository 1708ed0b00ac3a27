// Package store maps entities onto partition/row-key tables and tracks them
// in sessions with optimistic concurrency.
//
// # Registration
//
// Every entity type is registered once with its schema:
//
//	st, err := store.New(client, store.DefaultConfig(),
//	    store.WithStrategies(
//	        keys.Property("Id", func(o *Organization) string { return o.ID }, true),
//	        keys.Property("ExternalId", func(o *Organization) string { return o.ExternalID }, true),
//	    ))
//	err = store.Register(st, organizationSchema)
//
// The table of a type is named Config.Schema followed by the plural type
// name and is created on first use.
//
// # Keys
//
// Each entity is stored once per pair of unique (row key) and non-unique
// (partition key) strategies. Types without a unique strategy fall back to
// their Id property; types without a partition strategy live in
// Config.DefaultPartition.
//
// # Sessions
//
// A [Session] tracks loaded and stored entities with the version tag each was
// read at:
//
//	s := st.OpenSession()
//	org, found, err := store.Load[Organization](ctx, s, "org-1")
//	org.Name = "Acme"
//	err = store.Track(s, org)
//	err = s.SaveChanges(ctx)
//
// SaveChanges fails a key with [*ConcurrencyError] when its stored version
// moved on since it was read, skips unchanged entities and writes the rest
// in one transaction per partition key. Rejected transactions surface as
// [*CommitError].
//
// # Errors
//
//   - [ErrNotFound] - row doesn't exist (TableClient level)
//   - [ErrConcurrentModification] - matched by [*ConcurrencyError]
//   - [ErrCommitFailed] - matched by [*CommitError]
//   - [ErrInconsistentState] - a row key resolves to several rows
//   - [ErrUnregisteredType] - type used before [Register]
//   - [ErrNoUniqueStrategy] - no row key can be derived for a type
package store
