// Package router classifies incoming queries and dispatches them to the
// cheapest memory layer that can answer them, probing working memory first.
package router

import (
	"regexp"
	"strings"
)

// QueryClass names a retrieval strategy.
type QueryClass string

const (
	ClassFactual    QueryClass = "factual"
	ClassPreference QueryClass = "preference"
	ClassProject    QueryClass = "project"
	ClassTemporal   QueryClass = "temporal"
	ClassSkill      QueryClass = "skill"
	ClassComplex    QueryClass = "complex"
)

// Classification is the outcome of classifying one query.
type Classification struct {
	Class      QueryClass `json:"class"`
	Confidence float64    `json:"confidence"`
	Matched    string     `json:"matched,omitempty"`
}

type rule struct {
	class      QueryClass
	confidence float64
	pattern    *regexp.Regexp
}

// Rules are evaluated in order and the first match wins. Skill and temporal
// markers come before the generic WH patterns: "how do I deploy" is a skill
// lookup, not a factual question, and "what did I do yesterday" is temporal.
var rules = []rule{
	{ClassSkill, 0.9, regexp.MustCompile(`(?i)\bhow (do|can|should|would) (i|we|you)\b`)},
	{ClassSkill, 0.85, regexp.MustCompile(`(?i)\b(steps?|procedure|process|recipe|playbook) (to|for)\b`)},
	{ClassTemporal, 0.9, regexp.MustCompile(`(?i)\b(yesterday|today|last (week|month|year)|this (week|month)|\d+ days? ago|recently)\b`)},
	{ClassTemporal, 0.8, regexp.MustCompile(`(?i)\bwhen (did|was|were)\b`)},
	{ClassPreference, 0.9, regexp.MustCompile(`(?i)\b(prefer|favorite|favourite|like best|rather)\b`)},
	{ClassPreference, 0.8, regexp.MustCompile(`(?i)\bwhat do (i|we) (like|want|use)\b`)},
	{ClassProject, 0.85, regexp.MustCompile(`(?i)\b(decide|decided|decision|agreed|chose|chosen)\b.*\babout\b`)},
	{ClassProject, 0.8, regexp.MustCompile(`(?i)\b(project|milestone|roadmap|architecture|design) \b`)},
	{ClassFactual, 0.8, regexp.MustCompile(`(?i)^(what|who|where|which)\b`)},
	{ClassFactual, 0.7, regexp.MustCompile(`(?i)\b(what is|who is|tell me about)\b`)},
}

// Classify applies the ordered rule list. Queries no rule matches are complex
// at confidence 0.5, which routes them through the full hybrid path.
func Classify(query string) Classification {
	trimmed := strings.TrimSpace(query)
	for _, r := range rules {
		if loc := r.pattern.FindString(trimmed); loc != "" {
			return Classification{Class: r.class, Confidence: r.confidence, Matched: loc}
		}
	}
	return Classification{Class: ClassComplex, Confidence: 0.5}
}
