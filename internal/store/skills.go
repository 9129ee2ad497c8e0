package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramlabs/engram/internal/model"
)

// InsertSkill persists a skill's summary row and its detail record.
func (s *Store) InsertSkill(ctx context.Context, sk *model.Skill) error {
	if sk.ID == "" {
		sk.ID = newID()
	}
	if sk.Version == 0 {
		sk.Version = 1
	}
	triggersJSON, err := json.Marshal(sk.Triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}
	prereqJSON, err := json.Marshal(sk.Prerequisites)
	if err != nil {
		return fmt.Errorf("marshal prerequisites: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO skills (id, name, summary, category, triggers, success_count, failure_count, avg_satisfaction, is_archived, last_used, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sk.ID, sk.Name, sk.Summary, nullable(sk.Category), string(triggersJSON),
		sk.SuccessCount, sk.FailureCount, sk.AvgSatisfaction, boolToInt(sk.IsArchived),
		fmtTimePtr(sk.LastUsed), sk.Version)
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO skill_details (skill_id, description, code, prerequisites) VALUES (?, ?, ?, ?)`,
		sk.ID, nullable(sk.Description), nullable(sk.Code), string(prereqJSON))
	if err != nil {
		return fmt.Errorf("insert skill detail: %w", err)
	}

	return tx.Commit()
}

// ListSkillSummaries returns all non-archived skill summaries.
func (s *Store) ListSkillSummaries(ctx context.Context) ([]model.SkillSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, summary, category, triggers, success_count, failure_count, avg_satisfaction, is_archived, last_used, version
		 FROM skills WHERE is_archived = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SkillSummary
	for rows.Next() {
		sum, err := scanSkillSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

// GetSkillSummary fetches one summary row by id.
func (s *Store) GetSkillSummary(ctx context.Context, id string) (*model.SkillSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, summary, category, triggers, success_count, failure_count, avg_satisfaction, is_archived, last_used, version
		 FROM skills WHERE id = ?`, id)
	sum, err := scanSkillSummary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("skill not found: %s", id)
	}
	return sum, err
}

// GetSkillDetail loads the full skill record including code and prerequisites.
func (s *Store) GetSkillDetail(ctx context.Context, id string) (*model.Skill, error) {
	sum, err := s.GetSkillSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	sk := &model.Skill{SkillSummary: *sum}

	var desc, code, prereqJSON sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT description, code, prerequisites FROM skill_details WHERE skill_id = ?`, id).
		Scan(&desc, &code, &prereqJSON)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	sk.Description = desc.String
	sk.Code = code.String
	if prereqJSON.Valid {
		json.Unmarshal([]byte(prereqJSON.String), &sk.Prerequisites)
	}
	return sk, nil
}

// RecordSkillSuccess increments success_count and folds satisfaction into the
// running average in one statement, so concurrent outcomes cannot lose updates:
// new_avg = old_avg + (satisfaction - old_avg) / new_count.
func (s *Store) RecordSkillSuccess(ctx context.Context, id string, satisfaction float64) error {
	if satisfaction < 0 || satisfaction > 1 {
		return fmt.Errorf("satisfaction %f out of [0,1]", satisfaction)
	}
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE skills SET
			success_count    = success_count + 1,
			avg_satisfaction = avg_satisfaction + (? - avg_satisfaction) / (success_count + 1),
			last_used        = ?
		 WHERE id = ?`, satisfaction, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skill not found: %s", id)
	}
	return nil
}

// RecordSkillFailure increments failure_count only. Failures carry no
// satisfaction value, so the running average is untouched.
func (s *Store) RecordSkillFailure(ctx context.Context, id string) error {
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE skills SET failure_count = failure_count + 1, last_used = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skill not found: %s", id)
	}
	return nil
}

// ArchiveSkill hides a skill from search without deleting its history.
func (s *Store) ArchiveSkill(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE skills SET is_archived = 1 WHERE id = ?`, id)
	return err
}

func scanSkillSummary(row rowScanner) (*model.SkillSummary, error) {
	var sum model.SkillSummary
	var category, triggersJSON, lastUsed sql.NullString
	var archived int
	err := row.Scan(&sum.ID, &sum.Name, &sum.Summary, &category, &triggersJSON,
		&sum.SuccessCount, &sum.FailureCount, &sum.AvgSatisfaction, &archived, &lastUsed, &sum.Version)
	if err != nil {
		return nil, err
	}
	sum.Category = category.String
	sum.IsArchived = archived != 0
	sum.LastUsed = parseTimePtr(lastUsed)
	if triggersJSON.Valid {
		json.Unmarshal([]byte(triggersJSON.String), &sum.Triggers)
	}
	return &sum, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
