package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/facet/internal/entity"
)

// GetEntity retrieves an entity with all its properties.
// Returns a NotFoundError for missing or cross-tenant entities.
func (s *Store) GetEntity(ctx context.Context, tenantID, entityID string) (*entity.Entity, error) {
	return s.getEntity(ctx, s.db, tenantID, entityID)
}

// querier abstracts *sql.DB and *sql.Tx so reads compose into write
// transactions.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getEntity(ctx context.Context, q querier, tenantID, entityID string) (*entity.Entity, error) {
	var (
		e         entity.Entity
		createdAt string
		updatedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, id, type, version, created_at, updated_at
		FROM entities
		WHERE tenant_id = ? AND id = ?
	`, tenantID, entityID).Scan(
		&e.TenantID, &e.ID, &e.Type, &e.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{TenantID: tenantID, EntityID: entityID}
	}
	if err != nil {
		return nil, fmt.Errorf("query entity: %w", err)
	}

	if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("entity %s created_at: %w", entityID, err)
	}
	if e.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("entity %s updated_at: %w", entityID, err)
	}

	props, err := s.readProperties(ctx, q, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	e.Properties = props

	return &e, nil
}

func (s *Store) readProperties(ctx context.Context, q querier, tenantID, entityID string) (map[string]entity.Property, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, doc
		FROM properties
		WHERE tenant_id = ? AND entity_id = ?
		ORDER BY name ASC
	`, tenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	props := map[string]entity.Property{}
	for rows.Next() {
		var name, doc string
		if err := rows.Scan(&name, &doc); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		p, err := entity.UnmarshalProperty([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("property %s.%s: %w", entityID, name, err)
		}
		props[name] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return props, nil
}

// ListEntities returns all entity IDs for a tenant in lexical order,
// optionally filtered by type.
func (s *Store) ListEntities(ctx context.Context, tenantID, entityType string) ([]string, error) {
	query := `
		SELECT id FROM entities
		WHERE tenant_id = ?
		ORDER BY id COLLATE BINARY ASC
	`
	args := []any{tenantID}
	if entityType != "" {
		query = `
			SELECT id FROM entities
			WHERE tenant_id = ? AND type = ?
			ORDER BY id COLLATE BINARY ASC
		`
		args = append(args, entityType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return ids, nil
}

// Related returns the entities in a relationship collection, in insertion
// order. Missing collections return an empty slice, not an error.
func (s *Store) Related(ctx context.Context, tenantID, fromID, relType string) ([]*entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_id FROM relationships
		WHERE tenant_id = ? AND from_id = ? AND rel_type = ?
		ORDER BY seq ASC
	`, tenantID, fromID, relType)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	rows.Close()

	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.getEntity(ctx, s.db, tenantID, id)
		if err != nil {
			// A related entity deleted out from under the collection is
			// skipped; the projection sees the surviving members.
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Dependents returns every computed property whose last evaluation read
// the given source property. Results are ordered deterministically.
func (s *Store) Dependents(ctx context.Context, tenantID string, source entity.Dep) ([]entity.Dep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dep_entity_id, dep_property
		FROM deps
		WHERE tenant_id = ? AND src_entity_id = ? AND src_property = ?
		ORDER BY dep_entity_id COLLATE BINARY ASC, dep_property COLLATE BINARY ASC
	`, tenantID, source.EntityID, source.Property)
	if err != nil {
		return nil, fmt.Errorf("query dependents: %w", err)
	}
	defer rows.Close()

	deps := []entity.Dep{}
	for rows.Next() {
		var d entity.Dep
		if err := rows.Scan(&d.EntityID, &d.Property); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependents: %w", err)
	}
	return deps, nil
}

// Dependencies returns the recorded source set of one computed property,
// as persisted by the last ReplaceDependencies call.
func (s *Store) Dependencies(ctx context.Context, tenantID string, dependent entity.Dep) ([]entity.Dep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT src_entity_id, src_property
		FROM deps
		WHERE tenant_id = ? AND dep_entity_id = ? AND dep_property = ?
		ORDER BY src_entity_id COLLATE BINARY ASC, src_property COLLATE BINARY ASC
	`, tenantID, dependent.EntityID, dependent.Property)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()

	deps := []entity.Dep{}
	for rows.Next() {
		var d entity.Dep
		if err := rows.Scan(&d.EntityID, &d.Property); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return deps, nil
}

// PropertiesByStatus returns computed properties currently in the given
// status, ordered deterministically. limit <= 0 means no limit.
func (s *Store) PropertiesByStatus(ctx context.Context, tenantID string, status entity.ComputationStatus, limit int) ([]entity.Dep, error) {
	query := `
		SELECT entity_id, name
		FROM properties
		WHERE tenant_id = ? AND status = ?
		ORDER BY entity_id COLLATE BINARY ASC, name COLLATE BINARY ASC
	`
	args := []any{tenantID, string(status)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query properties by status: %w", err)
	}
	defer rows.Close()

	deps := []entity.Dep{}
	for rows.Next() {
		var d entity.Dep
		if err := rows.Scan(&d.EntityID, &d.Property); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return deps, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
