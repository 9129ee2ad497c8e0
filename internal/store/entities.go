package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/engramlabs/engram/internal/model"
)

// UpsertEntity creates or updates an entity keyed by (name, type, namespace).
// Every touch bumps access_count and last_accessed. The stored confidence only
// ever moves up; a weaker re-observation does not erode an established entity.
func (s *Store) UpsertEntity(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	if e.Confidence < 0 || e.Confidence > 1 {
		return nil, fmt.Errorf("entity confidence %f out of [0,1]", e.Confidence)
	}
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = newID()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, name, type, description, confidence, namespace, created_at, last_accessed, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT(name, type, namespace) DO UPDATE SET
			description   = CASE WHEN excluded.description != '' THEN excluded.description ELSE entities.description END,
			confidence    = MAX(entities.confidence, excluded.confidence),
			last_accessed = excluded.last_accessed,
			access_count  = entities.access_count + 1`,
		e.ID, e.Name, e.Type, e.Description, e.Confidence, e.Namespace, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("upsert entity: %w", err)
	}

	return s.GetEntityByName(ctx, e.Name, e.Type, e.Namespace)
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	return s.getEntity(ctx, `WHERE id = ?`, id)
}

// GetEntityByName fetches an entity by its natural key.
func (s *Store) GetEntityByName(ctx context.Context, name, typ, namespace string) (*model.Entity, error) {
	return s.getEntity(ctx, `WHERE name = ? AND type = ? AND namespace = ?`, name, typ, namespace)
}

func (s *Store) getEntity(ctx context.Context, where string, args ...interface{}) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, description, confidence, namespace, created_at, last_accessed, access_count
		 FROM entities `+where, args...)

	var e model.Entity
	var desc sql.NullString
	var createdAt, lastAccessed string
	err := row.Scan(&e.ID, &e.Name, &e.Type, &desc, &e.Confidence, &e.Namespace, &createdAt, &lastAccessed, &e.AccessCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity not found")
	}
	if err != nil {
		return nil, err
	}
	e.Description = desc.String
	e.CreatedAt = parseTime(createdAt)
	e.LastAccessed = parseTime(lastAccessed)
	return &e, nil
}

// SearchEntities finds entities whose name matches the query substring.
func (s *Store) SearchEntities(ctx context.Context, query, namespace string, limit int) ([]model.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, description, confidence, namespace, created_at, last_accessed, access_count
		 FROM entities WHERE namespace = ? AND name LIKE ? COLLATE NOCASE
		 ORDER BY access_count DESC LIMIT ?`,
		namespace, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var desc sql.NullString
		var createdAt, lastAccessed string
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &desc, &e.Confidence, &e.Namespace, &createdAt, &lastAccessed, &e.AccessCount); err != nil {
			return nil, err
		}
		e.Description = desc.String
		e.CreatedAt = parseTime(createdAt)
		e.LastAccessed = parseTime(lastAccessed)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReinforceRelationship creates the edge if absent, otherwise bumps its
// strength by step (capped at 1.0) and refreshes last_reinforced. The bump is a
// single UPDATE so concurrent reinforcement of the same edge cannot lose
// updates.
func (s *Store) ReinforceRelationship(ctx context.Context, sourceID, targetID, relationType, evidence string, step float64) error {
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE relationships
		 SET strength = MIN(1.0, strength + ?), last_reinforced = ?,
		     evidence = CASE WHEN ? != '' THEN ? ELSE evidence END
		 WHERE source_id = ? AND target_id = ? AND relation_type = ?`,
		step, now, evidence, evidence, sourceID, targetID, relationType)
	if err != nil {
		return fmt.Errorf("reinforce relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO relationships (id, source_id, target_id, relation_type, strength, evidence, created_at, last_reinforced)
		 VALUES (?, ?, ?, ?, 0.5, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET
			strength = MIN(1.0, relationships.strength + ?), last_reinforced = excluded.last_reinforced`,
		newID(), sourceID, targetID, relationType, evidence, now, now, step)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

// Relationships returns all edges touching an entity, in either direction.
func (s *Store) Relationships(ctx context.Context, entityID string) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relation_type, strength, evidence, created_at, last_reinforced
		 FROM relationships WHERE source_id = ? OR target_id = ?`, entityID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// AllRelationships returns every edge in the graph. Used by decay and pruning.
func (s *Store) AllRelationships(ctx context.Context) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relation_type, strength, evidence, created_at, last_reinforced
		 FROM relationships`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// SetRelationshipStrength writes back a recomputed strength, clamped to [0,1].
func (s *Store) SetRelationshipStrength(ctx context.Context, id string, strength float64) error {
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE relationships SET strength = ? WHERE id = ?`, strength, id)
	return err
}

// BackdateRelationship rewrites an edge's reinforcement timestamp. Tests use
// it to age edges before exercising decay.
func (s *Store) BackdateRelationship(ctx context.Context, id string, lastReinforced time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE relationships SET last_reinforced = ? WHERE id = ?`, fmtTime(lastReinforced.UTC()), id)
	return err
}

// PruneRelationships deletes edges with strength below the floor and returns
// how many were removed.
func (s *Store) PruneRelationships(ctx context.Context, floor float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE strength < ?`, floor)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func collectRelationships(rows *sql.Rows) ([]model.Relationship, error) {
	var out []model.Relationship
	for rows.Next() {
		var r model.Relationship
		var evidence sql.NullString
		var createdAt, lastReinforced string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelationType, &r.Strength, &evidence, &createdAt, &lastReinforced); err != nil {
			return nil, err
		}
		r.Evidence = evidence.String
		r.CreatedAt = parseTime(createdAt)
		r.LastReinforced = parseTime(lastReinforced)
		out = append(out, r)
	}
	return out, rows.Err()
}
