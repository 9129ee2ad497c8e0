package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/engramlabs/engram/internal/model"
)

// InsertFact persists a new fact.
func (s *Store) InsertFact(ctx context.Context, f *model.Fact) error {
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("fact confidence %f out of [0,1]", f.Confidence)
	}
	if f.ID == "" {
		f.ID = newID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (id, entity_id, property, value, confidence, valid_from, valid_until, source_memory_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.EntityID, f.Property, f.Value, f.Confidence,
		fmtTimePtr(f.ValidFrom), fmtTimePtr(f.ValidUntil), nullable(f.SourceMemoryID), fmtTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// FactsForProperty returns all facts asserted on an (entity, property) pair.
// This is the candidate set the conflict detector runs against.
func (s *Store) FactsForProperty(ctx context.Context, entityID, property string) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, property, value, confidence, valid_from, valid_until, source_memory_id, created_at
		 FROM facts WHERE entity_id = ? AND property = ?`, entityID, property)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFacts(rows)
}

// FactsByTimeRange returns facts whose validity window overlaps [start, end).
// An open bound counts as unbounded on that side.
func (s *Store) FactsByTimeRange(ctx context.Context, start, end time.Time) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, property, value, confidence, valid_from, valid_until, source_memory_id, created_at
		 FROM facts
		 WHERE (valid_from IS NULL OR valid_from < ?)
		   AND (valid_until IS NULL OR valid_until > ?)`,
		fmtTime(end), fmtTime(start))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFacts(rows)
}

// Preferences returns facts whose property carries the preference prefix,
// optionally narrowed to one domain ("preference:food" etc.). Results are
// ordered newest first so decay-aware ranking can favor recency.
func (s *Store) Preferences(ctx context.Context, domain string) ([]model.Fact, error) {
	pattern := "preference%"
	if domain != "" {
		pattern = "preference:" + domain
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, property, value, confidence, valid_from, valid_until, source_memory_id, created_at
		 FROM facts WHERE property LIKE ? ORDER BY created_at DESC`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFacts(rows)
}

// ReduceFactConfidence halves a fact's confidence toward zero without letting
// it drop below the floor. The fact's value is never touched.
func (s *Store) ReduceFactConfidence(ctx context.Context, factID string, floor float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE facts SET confidence = MAX(?, confidence / 2.0) WHERE id = ?`, floor, factID)
	return err
}

// InsertConflict records a detected conflict. Conflicts are only ever created
// as flagged; the engine never resolves or deletes them.
func (s *Store) InsertConflict(ctx context.Context, c *model.Conflict) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.ResolutionStatus = model.ResolutionFlagged
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, fact_id_1, fact_id_2, type, severity, resolution_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FactID1, c.FactID2, string(c.Type), c.Severity, c.ResolutionStatus, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

// ListConflicts returns recorded conflicts, newest first.
func (s *Store) ListConflicts(ctx context.Context, limit int) ([]model.Conflict, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fact_id_1, fact_id_2, type, severity, resolution_status, created_at
		 FROM conflicts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		var c model.Conflict
		var typ, createdAt string
		if err := rows.Scan(&c.ID, &c.FactID1, &c.FactID2, &typ, &c.Severity, &c.ResolutionStatus, &createdAt); err != nil {
			return nil, err
		}
		c.Type = model.ConflictType(typ)
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func collectFacts(rows *sql.Rows) ([]model.Fact, error) {
	var out []model.Fact
	for rows.Next() {
		var f model.Fact
		var validFrom, validUntil, sourceMemoryID sql.NullString
		var createdAt string
		if err := rows.Scan(&f.ID, &f.EntityID, &f.Property, &f.Value, &f.Confidence,
			&validFrom, &validUntil, &sourceMemoryID, &createdAt); err != nil {
			return nil, err
		}
		f.ValidFrom = parseTimePtr(validFrom)
		f.ValidUntil = parseTimePtr(validUntil)
		f.SourceMemoryID = sourceMemoryID.String
		f.CreatedAt = parseTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}
