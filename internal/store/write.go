package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/facet/internal/entity"
)

// PutEntity writes a whole entity, properties included, under optimistic
// concurrency control.
//
// expectedRev is the lock_rev the caller last read; 0 means "create".
// A mismatch returns a ConflictError and writes nothing. On success the
// returned entity carries the new version and timestamps.
//
// lock_rev only moves here - property patches and status transitions
// written by the recalculation path never touch it, so background work
// cannot fail a user's optimistic write.
func (s *Store) PutEntity(ctx context.Context, e *entity.Entity, expectedRev int64) (*entity.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("put entity: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.now().UTC().Format(time.RFC3339Nano)

	var version, lockRev int64
	var createdAt string
	err = tx.QueryRowContext(ctx, `
		SELECT version, lock_rev, created_at FROM entities
		WHERE tenant_id = ? AND id = ?
	`, e.TenantID, e.ID).Scan(&version, &lockRev, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedRev != 0 {
			return nil, &ConflictError{EntityID: e.ID, ExpectedRev: expectedRev, ActualRev: 0}
		}
		version, lockRev = 1, 1
		createdAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (tenant_id, id, type, version, lock_rev, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.TenantID, e.ID, e.Type, version, lockRev, createdAt, now)
		if err != nil {
			return nil, fmt.Errorf("put entity: insert: %w", err)
		}

	case err != nil:
		return nil, fmt.Errorf("put entity: select: %w", err)

	default:
		if lockRev != expectedRev {
			return nil, &ConflictError{EntityID: e.ID, ExpectedRev: expectedRev, ActualRev: lockRev}
		}
		version++
		lockRev++
		_, err = tx.ExecContext(ctx, `
			UPDATE entities SET type = ?, version = ?, lock_rev = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?
		`, e.Type, version, lockRev, now, e.TenantID, e.ID)
		if err != nil {
			return nil, fmt.Errorf("put entity: update: %w", err)
		}
	}

	// Whole-entity write replaces the full property set.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM properties WHERE tenant_id = ? AND entity_id = ?
	`, e.TenantID, e.ID); err != nil {
		return nil, fmt.Errorf("put entity: clear properties: %w", err)
	}

	for _, name := range e.PropertyNames() {
		if err := insertProperty(ctx, tx, e.TenantID, e.ID, name, e.Properties[name]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("put entity: commit: %w", err)
	}

	out := *e
	out.Version = version
	out.CreatedAt, _ = parseTimestamp(createdAt)
	out.UpdatedAt, _ = parseTimestamp(now)
	return &out, nil
}

// LockRev returns the current optimistic-lock revision of an entity.
func (s *Store) LockRev(ctx context.Context, tenantID, entityID string) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `
		SELECT lock_rev FROM entities WHERE tenant_id = ? AND id = ?
	`, tenantID, entityID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &NotFoundError{TenantID: tenantID, EntityID: entityID}
	}
	if err != nil {
		return 0, fmt.Errorf("lock rev: %w", err)
	}
	return rev, nil
}

// PatchProperty replaces one property document in place and bumps the
// entity version. The optimistic-lock revision is deliberately untouched:
// patches are path-scoped internal writes, not user edits.
// Returns the new entity version.
func (s *Store) PatchProperty(ctx context.Context, tenantID, entityID, name string, p entity.Property) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("patch property: begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, `
		SELECT version FROM entities WHERE tenant_id = ? AND id = ?
	`, tenantID, entityID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &NotFoundError{TenantID: tenantID, EntityID: entityID}
	}
	if err != nil {
		return 0, fmt.Errorf("patch property: select: %w", err)
	}

	if err := insertProperty(ctx, tx, tenantID, entityID, name, p); err != nil {
		return 0, err
	}

	version++
	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET version = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`, version, now, tenantID, entityID); err != nil {
		return 0, fmt.Errorf("patch property: bump version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("patch property: commit: %w", err)
	}
	return version, nil
}

// execer abstracts *sql.Tx for property writes.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertProperty(ctx context.Context, tx execer, tenantID, entityID, name string, p entity.Property) error {
	doc, err := entity.MarshalProperty(p)
	if err != nil {
		return fmt.Errorf("marshal property %s.%s: %w", entityID, name, err)
	}

	var status any
	if c, ok := p.(entity.Computed); ok {
		status = string(c.Status)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO properties (tenant_id, entity_id, name, doc, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, entity_id, name) DO UPDATE SET doc = excluded.doc, status = excluded.status
	`, tenantID, entityID, name, string(doc), status)
	if err != nil {
		return fmt.Errorf("write property %s.%s: %w", entityID, name, err)
	}
	return nil
}

// DeleteEntity removes an entity, its properties and outgoing
// relationships (by FK cascade), its incoming relationship memberships,
// and its recorded dependency edges. Dependents of the deleted entity
// keep their edges; their next evaluation reports the broken reference.
func (s *Store) DeleteEntity(ctx context.Context, tenantID, entityID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete entity: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM entities WHERE tenant_id = ? AND id = ?
	`, tenantID, entityID)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entity: rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{TenantID: tenantID, EntityID: entityID}
	}

	// The FK cascade only covers rows keyed by from_id; memberships where
	// the deleted entity was the target would otherwise linger as dead
	// rows that Related has to skip forever.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM relationships WHERE tenant_id = ? AND to_id = ?
	`, tenantID, entityID); err != nil {
		return fmt.Errorf("delete entity: clear memberships: %w", err)
	}

	// Edges where the deleted entity was the dependent are dead; edges
	// where it was a source stay, so staleness reaches the survivors.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM deps WHERE tenant_id = ? AND dep_entity_id = ?
	`, tenantID, entityID); err != nil {
		return fmt.Errorf("delete entity: clear dep edges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete entity: commit: %w", err)
	}
	return nil
}

// Relate appends entities to a relationship collection, preserving
// insertion order. Re-relating an existing member is a no-op.
func (s *Store) Relate(ctx context.Context, tenantID, fromID, relType string, toIDs ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relate: begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM relationships
		WHERE tenant_id = ? AND from_id = ? AND rel_type = ?
	`, tenantID, fromID, relType).Scan(&next)
	if err != nil {
		return fmt.Errorf("relate: next seq: %w", err)
	}

	for _, toID := range toIDs {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (tenant_id, from_id, rel_type, to_id, seq)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, from_id, rel_type, to_id) DO NOTHING
		`, tenantID, fromID, relType, toID, next)
		if err != nil {
			return fmt.Errorf("relate %s -> %s: %w", fromID, toID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("relate: rows affected: %w", err)
		}
		if affected > 0 {
			next++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relate: commit: %w", err)
	}
	return nil
}

// Unrelate removes one entity from a relationship collection. Removing a
// non-member is a no-op.
func (s *Store) Unrelate(ctx context.Context, tenantID, fromID, relType, toID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM relationships
		WHERE tenant_id = ? AND from_id = ? AND rel_type = ? AND to_id = ?
	`, tenantID, fromID, relType, toID)
	if err != nil {
		return fmt.Errorf("unrelate %s -> %s: %w", fromID, toID, err)
	}
	return nil
}

// ReplaceDependencies replaces the recorded source set of one computed
// property with the accesses of its latest evaluation. Delete-then-insert
// in one transaction keeps the index exactly in sync with the last run.
func (s *Store) ReplaceDependencies(ctx context.Context, tenantID string, dependent entity.Dep, sources []entity.Dep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace dependencies: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM deps WHERE tenant_id = ? AND dep_entity_id = ? AND dep_property = ?
	`, tenantID, dependent.EntityID, dependent.Property); err != nil {
		return fmt.Errorf("replace dependencies: clear: %w", err)
	}

	for _, src := range sources {
		// A property's self-edge carries no propagation information.
		if src == dependent {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deps (tenant_id, src_entity_id, src_property, dep_entity_id, dep_property)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, tenantID, src.EntityID, src.Property, dependent.EntityID, dependent.Property); err != nil {
			return fmt.Errorf("replace dependencies: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace dependencies: commit: %w", err)
	}
	return nil
}
