// Package conflict detects contradictions between stored facts. Detection is
// pure: the detector never mutates or deletes fact values; it only emits
// flagged Conflict records. Confidence reduction is applied by the caller.
package conflict

import (
	"strings"
	"time"

	"github.com/engramlabs/engram/internal/model"
)

const (
	severityTemporalOverlap = 0.8
	severityContradiction   = 0.9
	severityPreferenceShift = 0.4

	// ConfidenceFloor is the lowest a conflicting fact's confidence may be
	// driven; halving stops here.
	ConfidenceFloor = 0.05
)

// DefaultPreferenceWindow is how close in time two differing assertions must
// be to count as a preference shift rather than an ordinary update.
const DefaultPreferenceWindow = 7 * 24 * time.Hour

// Detector checks candidate facts against existing ones.
type Detector struct {
	opposites        map[string]string
	preferenceWindow time.Duration
}

// NewDetector creates a detector with the built-in opposite registry.
func NewDetector() *Detector {
	d := &Detector{
		opposites:        make(map[string]string),
		preferenceWindow: DefaultPreferenceWindow,
	}
	for a, b := range builtinOpposites {
		d.RegisterOpposites(a, b)
	}
	return d
}

var builtinOpposites = map[string]string{
	"true":     "false",
	"yes":      "no",
	"enabled":  "disabled",
	"active":   "inactive",
	"likes":    "dislikes",
	"always":   "never",
	"on":       "off",
	"open":     "closed",
	"allowed":  "forbidden",
	"remote":   "onsite",
	"employed": "unemployed",
}

// RegisterOpposites adds a value pair to the opposite registry, both ways.
func (d *Detector) RegisterOpposites(a, b string) {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	d.opposites[a] = b
	d.opposites[b] = a
}

// Detect compares a candidate fact against the existing facts for the same
// (entity, property) and returns one Conflict per clashing pair. Facts for
// other entities or properties are ignored.
func (d *Detector) Detect(candidate *model.Fact, existing []model.Fact) []model.Conflict {
	var conflicts []model.Conflict
	for i := range existing {
		old := &existing[i]
		if old.EntityID != candidate.EntityID || old.Property != candidate.Property {
			continue
		}
		if old.ID == candidate.ID {
			continue
		}
		if equalValues(old.Value, candidate.Value) {
			continue
		}

		switch {
		case d.areOpposites(old.Value, candidate.Value):
			conflicts = append(conflicts, newConflict(old, candidate, model.ConflictContradiction, severityContradiction))
		case windowsOverlap(old, candidate):
			conflicts = append(conflicts, newConflict(old, candidate, model.ConflictTemporalOverlap, severityTemporalOverlap))
		case d.isPreferenceShift(old, candidate):
			conflicts = append(conflicts, newConflict(old, candidate, model.ConflictPreferenceShift, severityPreferenceShift))
		}
	}
	return conflicts
}

func newConflict(old, candidate *model.Fact, typ model.ConflictType, severity float64) model.Conflict {
	return model.Conflict{
		FactID1:          old.ID,
		FactID2:          candidate.ID,
		Type:             typ,
		Severity:         severity,
		ResolutionStatus: model.ResolutionFlagged,
	}
}

func equalValues(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (d *Detector) areOpposites(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return d.opposites[a] == b
}

// windowsOverlap reports whether two validity windows [from, until) intersect.
// A nil bound is treated as unbounded on that side.
func windowsOverlap(a, b *model.Fact) bool {
	aFrom, aUntil := bounds(a)
	bFrom, bUntil := bounds(b)
	return aFrom.Before(bUntil) && bFrom.Before(aUntil)
}

func bounds(f *model.Fact) (time.Time, time.Time) {
	from := time.Time{}
	until := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if f.ValidFrom != nil {
		from = *f.ValidFrom
	}
	if f.ValidUntil != nil {
		until = *f.ValidUntil
	}
	return from, until
}

// isPreferenceShift: same property re-asserted with a different value shortly
// after the first assertion. A soft signal, ranked well below the hard types.
func (d *Detector) isPreferenceShift(old, candidate *model.Fact) bool {
	if old.CreatedAt.IsZero() || candidate.CreatedAt.IsZero() {
		return false
	}
	delta := candidate.CreatedAt.Sub(old.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= d.preferenceWindow
}
