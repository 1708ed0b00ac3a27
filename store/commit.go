package store

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jacentio/tablestore/schema"
)

type stagedWrite[T any] struct {
	key    Key
	cached *Cached[T]
	action UpsertMergeAction
}

// CommitChanges writes every changed tracked entity.
//
// Entities are first re-addressed: a tracked entity whose key-bearing
// properties changed is tracked under its new addresses, and its old keys are
// retired. The current state of all tracked and retired keys is then fetched.
// Keys whose stored version tag differs from the tracked one fail with
// *ConcurrencyError, and nothing of that entity is written. Unchanged
// entities are skipped. The remaining writes are submitted as one transaction
// per partition key (split at Config.MaxBatchSize), each write conditioned on
// its tracked version tag. After each successful batch its keys are re-read
// so the tracked entities carry the new version tags. Retired keys are
// deleted once every write of their entity succeeded.
//
// With failFast the first failure is returned immediately. Otherwise all
// partitions are attempted and the failures are combined with multierr.
func (s *EntityService[T]) CommitChanges(ctx context.Context, failFast bool) (err error) {
	name := s.meta.SingularName
	defer func() {
		s.store.metrics.commit(name, err)
	}()

	if len(s.entries) == 0 {
		return nil
	}
	retired, err := s.rekey()
	if err != nil {
		return err
	}
	snapshot := make(map[Key]Cached[T], len(s.entries))
	for k, c := range s.entries {
		if _, ok := retired[k]; !ok {
			snapshot[k] = *c
		}
	}
	tracked := sortedKeys(snapshot)
	retiredKeys := sortedKeys(retired)

	table, err := GetTable[T](ctx, s.store)
	if err != nil {
		return err
	}
	current, err := table.Lookup(ctx, slices.Concat(tracked, retiredKeys), s.store.config.LookupBatchSize)
	if err != nil {
		return fmt.Errorf("commit %s: fetch current state: %w", name, err)
	}

	var (
		errs   error
		groups []string
		byPart = make(map[string][]stagedWrite[T])
		failed = make(map[*T]bool)
		fresh  = make(map[*T]*T)
	)
	defer s.adopt(fresh)

	for _, k := range retiredKeys {
		c := retired[k]
		if c.VersionTag == "" {
			continue
		}
		if err := s.checkVersion(k, c, current[k]); err != nil {
			if failFast {
				return err
			}
			errs = multierr.Append(errs, err)
			failed[c.Entity] = true
		}
	}
	for _, k := range tracked {
		w, skip, err := s.stage(k, snapshot[k], current)
		if err != nil {
			if failFast {
				return err
			}
			errs = multierr.Append(errs, err)
			failed[snapshot[k].Entity] = true
			continue
		}
		if skip {
			continue
		}
		if _, ok := byPart[k.PartitionKey]; !ok {
			groups = append(groups, k.PartitionKey)
		}
		byPart[k.PartitionKey] = append(byPart[k.PartitionKey], w)
	}

	for _, pk := range groups {
		staged := slices.DeleteFunc(byPart[pk], func(w stagedWrite[T]) bool {
			return failed[w.cached.Entity]
		})
		for start := 0; start < len(staged); start += s.store.config.MaxBatchSize {
			batch := staged[start:min(start+s.store.config.MaxBatchSize, len(staged))]
			if err := s.submit(ctx, table, pk, batch, fresh); err != nil {
				if failFast {
					return err
				}
				errs = multierr.Append(errs, err)
				for _, w := range batch {
					failed[w.cached.Entity] = true
				}
			}
		}
	}

	if err := s.retire(ctx, table, retired, failed); err != nil {
		if failFast {
			return err
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// rekey tracks every entity under the addresses it has now and returns the
// tracked keys it no longer has. Retired keys stay tracked until their rows
// are deleted.
func (s *EntityService[T]) rekey() (map[Key]Cached[T], error) {
	byEntity := make(map[*T][]Key)
	for k, c := range s.entries {
		byEntity[c.Entity] = append(byEntity[c.Entity], k)
	}

	retired := make(map[Key]Cached[T])
	added := make(map[Key]*Cached[T])
	for entity, keys := range byEntity {
		addrs, err := s.Addresses(entity)
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", s.meta.SingularName, err)
		}
		for _, k := range keys {
			if !slices.Contains(addrs, k) {
				retired[k] = *s.entries[k]
			}
		}
		for _, k := range addrs {
			if c, ok := s.entries[k]; ok {
				if c.Entity != entity {
					return nil, fmt.Errorf("tablestore: %s %s is tracked by two instances", s.meta.SingularName, k)
				}
				continue
			}
			if _, ok := added[k]; ok {
				return nil, fmt.Errorf("tablestore: %s %s is tracked by two instances", s.meta.SingularName, k)
			}
			added[k] = &Cached[T]{Entity: entity}
		}
	}
	for k, c := range added {
		s.entries[k] = c
	}
	if len(retired) > 0 {
		s.logger.Debug("re-addressed", zap.Int("retired", len(retired)), zap.Int("added", len(added)))
	}
	return retired, nil
}

// retire deletes the rows at retired keys and stops tracking them. Keys of
// failed entities stay tracked for the next commit. Keys never stored are
// dropped without I/O.
func (s *EntityService[T]) retire(ctx context.Context, table *Table, retired map[Key]Cached[T], failed map[*T]bool) error {
	var errs error
	for _, k := range sortedKeys(retired) {
		c := retired[k]
		if failed[c.Entity] {
			continue
		}
		if c.VersionTag != "" {
			if err := table.Delete(ctx, k); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("commit %s: retire %s: %w", s.meta.SingularName, k, err))
				continue
			}
		}
		delete(s.entries, k)
		if ce := s.logger.Check(zap.DebugLevel, "retired key"); ce != nil {
			ce.Write(zap.Stringer("key", k))
		}
	}
	return errs
}

// checkVersion fails with *ConcurrencyError when the stored row at k is not
// the version c was read at.
func (s *EntityService[T]) checkVersion(k Key, c Cached[T], stored Record) error {
	if c.VersionTag == stored.VersionTag {
		return nil
	}
	name := s.meta.SingularName
	s.store.metrics.conflict(name)
	s.logger.Warn("concurrent modification",
		zap.Stringer("key", k),
		zap.String("expected", c.VersionTag),
		zap.String("actual", stored.VersionTag))
	return &ConcurrencyError{
		Type:         name,
		ID:           s.id(c.Entity),
		PartitionKey: k.PartitionKey,
		RowKey:       k.RowKey,
		Expected:     c.VersionTag,
		Actual:       stored.VersionTag,
	}
}

// stage checks one tracked key against the stored row.
func (s *EntityService[T]) stage(k Key, c Cached[T], current map[Key]Record) (stagedWrite[T], bool, error) {
	name := s.meta.SingularName
	stored, exists := current[k]
	if err := s.checkVersion(k, c, stored); err != nil {
		return stagedWrite[T]{}, false, err
	}

	values, err := s.meta.Schema.Values(c.Entity)
	if err != nil {
		return stagedWrite[T]{}, false, fmt.Errorf("commit %s %s: %w", name, k, err)
	}
	if exists && s.unchanged(values, stored) {
		s.store.metrics.skipped(name)
		if ce := s.logger.Check(zap.DebugLevel, "unchanged, skipping write"); ce != nil {
			ce.Write(zap.Stringer("key", k))
		}
		return stagedWrite[T]{}, true, nil
	}

	return stagedWrite[T]{
		key:    k,
		cached: s.entries[k],
		action: UpsertMergeAction{
			Record: Record{
				PartitionKey: k.PartitionKey,
				RowKey:       k.RowKey,
				Fields:       values,
			},
			ExpectedTag: c.VersionTag,
			Remove:      s.cleared(values, stored),
		},
	}, false, nil
}

// cleared names the properties stored holds that values no longer has, such
// as an optional value set back to nil. Attributes outside the schema are
// kept.
func (s *EntityService[T]) cleared(values []schema.Field, stored Record) []string {
	var out []string
	for _, f := range stored.Fields {
		if _, known := s.meta.Schema.Property(f.Name); !known {
			continue
		}
		if _, present := schema.Lookup(values, f.Name); !present {
			out = append(out, f.Name)
		}
	}
	return out
}

// unchanged compares values with the stored row as the schema would write it.
func (s *EntityService[T]) unchanged(values []schema.Field, stored Record) bool {
	decoded, err := s.meta.Schema.Decode(stored.Fields)
	if err != nil {
		return false
	}
	storedValues, err := s.meta.Schema.Values(decoded)
	if err != nil {
		return false
	}
	return schema.Equal(values, storedValues)
}

// submit writes one batch and refreshes its entries.
func (s *EntityService[T]) submit(ctx context.Context, table *Table, pk string, batch []stagedWrite[T], fresh map[*T]*T) error {
	name := s.meta.SingularName
	actions := make([]UpsertMergeAction, len(batch))
	batchKeys := make([]Key, len(batch))
	for i, w := range batch {
		actions[i] = w.action
		batchKeys[i] = w.key
	}

	err := table.Submit(ctx, actions)
	s.store.metrics.batch(name, err)
	if err != nil {
		cerr := &CommitError{
			Type:         name,
			PartitionKey: pk,
			Keys:         batchKeys,
			Code:         ErrorCode(err),
			Err:          err,
		}
		s.logger.Warn("batch rejected",
			zap.String("partition", pk),
			zap.Int("rows", len(batch)),
			zap.String("code", cerr.Code),
			zap.Error(err))
		return cerr
	}
	s.logger.Info("committed batch", zap.String("partition", pk), zap.Int("rows", len(batch)))

	return s.refresh(ctx, table, batch, fresh)
}

// refresh re-reads the rows of a committed batch and replaces their entries
// with the decoded rows. fresh maps each written instance to its decoded
// replacement, so keys staged from one instance share one decoded instance.
func (s *EntityService[T]) refresh(ctx context.Context, table *Table, batch []stagedWrite[T], fresh map[*T]*T) error {
	batchKeys := make([]Key, len(batch))
	for i, w := range batch {
		batchKeys[i] = w.key
	}
	rows, err := table.Lookup(ctx, batchKeys, s.store.config.LookupBatchSize)
	if err != nil {
		return fmt.Errorf("commit %s: refresh: %w", s.meta.SingularName, err)
	}

	for _, w := range batch {
		rec, ok := rows[w.key]
		if !ok {
			continue
		}
		entity, ok := fresh[w.cached.Entity]
		if !ok {
			entity, err = s.meta.Schema.Decode(rec.Fields)
			if err != nil {
				return fmt.Errorf("commit %s: refresh %s: %w", s.meta.SingularName, w.key, err)
			}
			fresh[w.cached.Entity] = entity
		}
		s.entries[w.key] = &Cached[T]{Entity: entity, VersionTag: rec.VersionTag}
	}
	return nil
}

// adopt points the remaining entries of each written instance at its decoded
// replacement, keeping their version tags. After a commit the instance passed
// to Track no longer backs any tracked key.
func (s *EntityService[T]) adopt(fresh map[*T]*T) {
	if len(fresh) == 0 {
		return
	}
	for k, c := range s.entries {
		if entity, ok := fresh[c.Entity]; ok {
			s.entries[k] = &Cached[T]{Entity: entity, VersionTag: c.VersionTag}
		}
	}
}
