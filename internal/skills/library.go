// Package skills implements the procedural memory library. Summaries are
// cheap and always served from the summary store; full records (code,
// prerequisites) load on demand through a TTL-bounded cache.
package skills

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/store"
)

// Match is a skill that matched a query, with the trigger that matched it.
type Match struct {
	Skill          model.SkillSummary `json:"skill"`
	Confidence     float64            `json:"confidence"`
	MatchedTrigger string             `json:"matched_trigger"`
}

// Library is the skill library.
type Library struct {
	store    *store.Store
	cacheTTL time.Duration
	logger   *logrus.Logger

	mu          sync.Mutex
	detailCache map[string]cachedDetail
}

type cachedDetail struct {
	skill   *model.Skill
	expires time.Time
}

// New creates the library. The detail cache TTL defaults to 5 minutes.
func New(s *store.Store, cacheTTL time.Duration, logger *logrus.Logger) *Library {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Library{
		store:       s,
		cacheTTL:    cacheTTL,
		logger:      logger,
		detailCache: make(map[string]cachedDetail),
	}
}

// Add stores a new skill.
func (l *Library) Add(ctx context.Context, sk *model.Skill) error {
	return l.store.InsertSkill(ctx, sk)
}

// Search matches the query against skill triggers (exact substring, partial
// token overlap, fuzzy Jaccard, in that order of confidence) and ranks
// matches by confidence, then success count, then average satisfaction.
// Archived skills never match.
func (l *Library) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	summaries, err := l.store.ListSkillSummaries(ctx)
	if err != nil {
		return nil, err
	}

	normalized := normalize(query)
	queryTokens := tokenize(normalized)

	best := make(map[string]Match)
	for _, sum := range summaries {
		for _, trigger := range sum.Triggers {
			m, ok := matchTrigger(normalized, queryTokens, trigger)
			if !ok {
				continue
			}
			m.Skill = sum
			if prev, seen := best[sum.ID]; !seen || m.Confidence > prev.Confidence {
				best[sum.ID] = m
			}
		}
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		if matches[i].Skill.SuccessCount != matches[j].Skill.SuccessCount {
			return matches[i].Skill.SuccessCount > matches[j].Skill.SuccessCount
		}
		return matches[i].Skill.AvgSatisfaction > matches[j].Skill.AvgSatisfaction
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	l.logger.WithFields(logrus.Fields{
		"query":   query,
		"matches": len(matches),
	}).Debug("Skill search completed")
	return matches, nil
}

func matchTrigger(normalizedQuery string, queryTokens []string, trigger string) (Match, bool) {
	normalizedTrigger := normalize(trigger)
	if normalizedTrigger == "" {
		return Match{}, false
	}

	if strings.Contains(normalizedQuery, normalizedTrigger) {
		return Match{Confidence: 1.0, MatchedTrigger: trigger}, true
	}

	triggerTokens := tokenize(normalizedTrigger)
	overlap := wordOverlap(queryTokens, triggerTokens)
	if overlap > 0 {
		confidence := float64(overlap) / float64(maxInt(len(queryTokens), len(triggerTokens)))
		if confidence >= 0.5 {
			return Match{Confidence: confidence, MatchedTrigger: trigger}, true
		}
	}

	if sim := jaccard(queryTokens, triggerTokens); sim >= 0.6 {
		return Match{Confidence: sim * 0.8, MatchedTrigger: trigger}, true
	}
	return Match{}, false
}

// LoadFull returns the complete skill record, serving repeat loads from the
// TTL cache. Summaries are cheap; full loads are not.
func (l *Library) LoadFull(ctx context.Context, id string) (*model.Skill, error) {
	l.mu.Lock()
	if cached, ok := l.detailCache[id]; ok && time.Now().Before(cached.expires) {
		l.mu.Unlock()
		return cached.skill, nil
	}
	l.mu.Unlock()

	sk, err := l.store.GetSkillDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.detailCache[id] = cachedDetail{skill: sk, expires: time.Now().Add(l.cacheTTL)}
	l.mu.Unlock()
	return sk, nil
}

// RecordSuccess folds a satisfaction outcome into the skill's running average.
func (l *Library) RecordSuccess(ctx context.Context, id string, satisfaction float64) error {
	if err := l.store.RecordSkillSuccess(ctx, id, satisfaction); err != nil {
		return err
	}
	l.invalidate(id)
	return nil
}

// RecordFailure counts a failure; the satisfaction average is untouched
// because failures carry no satisfaction value.
func (l *Library) RecordFailure(ctx context.Context, id string) error {
	if err := l.store.RecordSkillFailure(ctx, id); err != nil {
		return err
	}
	l.invalidate(id)
	return nil
}

// HasTriggerSignature reports whether any existing skill already owns the
// given trigger signature. Consolidation uses this to deduplicate extracted
// skill candidates by signature rather than exact text.
func (l *Library) HasTriggerSignature(ctx context.Context, signature string) (bool, error) {
	summaries, err := l.store.ListSkillSummaries(ctx)
	if err != nil {
		return false, err
	}
	for _, sum := range summaries {
		for _, trigger := range sum.Triggers {
			if TriggerSignature(trigger) == signature {
				return true, nil
			}
		}
	}
	return false, nil
}

// TriggerSignature canonicalizes a trigger phrase: lowercase tokens, sorted,
// joined. "Deploy the Service" and "service deploy" share a signature.
func TriggerSignature(trigger string) string {
	tokens := tokenize(normalize(trigger))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func (l *Library) invalidate(id string) {
	l.mu.Lock()
	delete(l.detailCache, id)
	l.mu.Unlock()
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func wordOverlap(a, b []string) int {
	bSet := make(map[string]bool, len(b))
	for _, w := range b {
		bSet[w] = true
	}
	overlap := 0
	for _, w := range a {
		if bSet[w] {
			overlap++
		}
	}
	return overlap
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
