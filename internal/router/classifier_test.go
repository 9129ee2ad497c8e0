package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		query string
		want  QueryClass
	}{
		{"how do I deploy the service?", ClassSkill},
		{"steps to rotate the credentials", ClassSkill},
		{"what did I work on yesterday?", ClassTemporal},
		{"show me everything from last week", ClassTemporal},
		{"when did we ship the beta?", ClassTemporal},
		{"which database do I prefer?", ClassPreference},
		{"what is my favorite editor", ClassPreference},
		{"what did we decide about the cache layer?", ClassProject},
		{"what is Redis?", ClassFactual},
		{"who is the owner of the billing module", ClassFactual},
		{"summarize everything relevant to the migration effort", ClassComplex},
	}
	for _, tc := range cases {
		got := Classify(tc.query)
		assert.Equal(t, tc.want, got.Class, "query: %s", tc.query)
	}
}

func TestClassify_SkillBeatsWHPattern(t *testing.T) {
	// "how do I" leads with a WH word but is a procedural lookup.
	got := Classify("how do I configure logging?")
	assert.Equal(t, ClassSkill, got.Class)
	assert.NotEmpty(t, got.Matched)
}

func TestClassify_UnmatchedIsComplexAtHalfConfidence(t *testing.T) {
	got := Classify("blue furious ideas sleep")
	assert.Equal(t, ClassComplex, got.Class)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Empty(t, got.Matched)
}

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC)
	today := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		query string
		start time.Time
		end   time.Time
	}{
		{"what happened yesterday", today.AddDate(0, 0, -1), today},
		{"notes from today", today, today.AddDate(0, 0, 1)},
		{"last week summary", today.AddDate(0, 0, -7), today},
		{"last month summary", today.AddDate(0, -1, 0), today},
		{"what did I do 3 days ago", today.AddDate(0, 0, -3), today.AddDate(0, 0, -2)},
	}
	for _, tc := range cases {
		start, end, ok := ParseTimeRange(tc.query, now)
		assert.True(t, ok, "query: %s", tc.query)
		assert.Equal(t, tc.start, start, "query: %s", tc.query)
		assert.Equal(t, tc.end, end, "query: %s", tc.query)
	}
}

func TestParseTimeRange_NoMarker(t *testing.T) {
	_, _, ok := ParseTimeRange("what is the cache layer", time.Now())
	assert.False(t, ok)

	start, end := DefaultTimeRange(time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), end)
}
