package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/model"
)

func fact(id, entityID, property, value string, createdAt time.Time) model.Fact {
	return model.Fact{
		ID:         id,
		EntityID:   entityID,
		Property:   property,
		Value:      value,
		Confidence: 0.7,
		CreatedAt:  createdAt,
	}
}

func withWindow(f model.Fact, from, until *time.Time) model.Fact {
	f.ValidFrom = from
	f.ValidUntil = until
	return f
}

func TestDetect_TemporalOverlap(t *testing.T) {
	d := NewDetector()
	now := time.Now().UTC()

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// works_at CompanyA Jan-Jun, works_at CompanyB from Mar, windows overlap.
	old := withWindow(fact("f1", "alice", "works_at", "CompanyA", now.AddDate(0, -2, 0)), &jan, &jun)
	candidate := withWindow(fact("f2", "alice", "works_at", "CompanyB", now), &mar, nil)

	conflicts := d.Detect(&candidate, []model.Fact{old})
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictTemporalOverlap, conflicts[0].Type)
	assert.Equal(t, "f1", conflicts[0].FactID1)
	assert.Equal(t, "f2", conflicts[0].FactID2)
	assert.Equal(t, model.ResolutionFlagged, conflicts[0].ResolutionStatus)
	assert.InDelta(t, 0.8, conflicts[0].Severity, 1e-9)
}

func TestDetect_NoOverlapNoConflict(t *testing.T) {
	d := NewDetector()
	now := time.Now().UTC()

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	old := withWindow(fact("f1", "alice", "works_at", "CompanyA", now.AddDate(0, -6, 0)), &jan, &mar)
	candidate := withWindow(fact("f2", "alice", "works_at", "CompanyB", now), &jun, nil)

	assert.Empty(t, d.Detect(&candidate, []model.Fact{old}))
}

func TestDetect_Contradiction(t *testing.T) {
	d := NewDetector()
	now := time.Now().UTC()

	old := fact("f1", "alice", "remote_worker", "true", now.AddDate(0, -3, 0))
	candidate := fact("f2", "alice", "remote_worker", "false", now)

	conflicts := d.Detect(&candidate, []model.Fact{old})
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictContradiction, conflicts[0].Type)
	assert.InDelta(t, 0.9, conflicts[0].Severity, 1e-9)
}

func TestDetect_RegisteredOppositesBothDirections(t *testing.T) {
	d := NewDetector()
	d.RegisterOpposites("tabs", "spaces")
	now := time.Now().UTC()

	old := fact("f1", "style", "indent", "spaces", now.AddDate(-1, 0, 0))
	candidate := fact("f2", "style", "indent", "tabs", now)

	conflicts := d.Detect(&candidate, []model.Fact{old})
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictContradiction, conflicts[0].Type)
}

func TestDetect_PreferenceShift(t *testing.T) {
	d := NewDetector()
	now := time.Now().UTC()

	from1 := now.AddDate(0, 0, -3)
	from2 := now
	old := withWindow(fact("f1", "user", "preference:editor", "vim", now.AddDate(0, 0, -3)), &from1, &from1)
	candidate := withWindow(fact("f2", "user", "preference:editor", "emacs", now), &from2, nil)
	// Close the old window so only the created_at proximity applies.
	until := now.AddDate(0, 0, -1)
	old.ValidUntil = &until

	conflicts := d.Detect(&candidate, []model.Fact{old})
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictPreferenceShift, conflicts[0].Type)
	assert.InDelta(t, 0.4, conflicts[0].Severity, 1e-9)
}

func TestDetect_IgnoresOtherEntitiesAndProperties(t *testing.T) {
	d := NewDetector()
	now := time.Now().UTC()

	otherEntity := fact("f1", "bob", "works_at", "CompanyA", now)
	otherProperty := fact("f2", "alice", "lives_in", "Paris", now)
	candidate := fact("f3", "alice", "works_at", "CompanyB", now)

	assert.Empty(t, d.Detect(&candidate, []model.Fact{otherEntity, otherProperty}))
}

func TestDetect_EqualValuesNeverConflict(t *testing.T) {
	d := NewDetector()
	now := time.Now().UTC()

	old := fact("f1", "alice", "works_at", "CompanyA", now.AddDate(0, 0, -1))
	candidate := fact("f2", "alice", "works_at", "companya", now)

	assert.Empty(t, d.Detect(&candidate, []model.Fact{old}))
}

func TestDetect_UnboundedWindowsOverlap(t *testing.T) {
	d := NewDetector()
	now := time.Now().UTC()

	// Both facts windowless: unbounded on both sides, so they overlap.
	old := fact("f1", "project", "uses", "Postgres", now.AddDate(0, -8, 0))
	candidate := fact("f2", "project", "uses", "SQLite", now)

	conflicts := d.Detect(&candidate, []model.Fact{old})
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictTemporalOverlap, conflicts[0].Type)
}
