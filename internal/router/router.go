package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/search"
	"github.com/engramlabs/engram/internal/semantic"
	"github.com/engramlabs/engram/internal/skills"
	"github.com/engramlabs/engram/internal/working"
)

// FastPathThreshold is the working-memory score above which a query is
// answered from working memory without touching the durable layers.
const FastPathThreshold = 0.85

// DefaultSkillSuccessFloor excludes skills whose observed success rate is
// below it. Skills with no recorded outcomes are not filtered.
const DefaultSkillSuccessFloor = 0.3

// Response is the outcome of routing one query. Classification is zero on a
// fast-path hit; the query is only classified when the durable layers are
// consulted.
type Response struct {
	Classification Classification          `json:"classification"`
	FastPath       bool                    `json:"fast_path"`
	Results        []model.RetrievalResult `json:"results"`
}

// Router dispatches queries to the memory layers.
type Router struct {
	working           *working.Layer
	semantic          *semantic.Layer
	skills            *skills.Library
	search            *search.Engine
	decayHalfLife     float64
	skillSuccessFloor float64
	logger            *logrus.Logger
}

// New wires the router. Every layer is required; queries for a class whose
// layer is missing return an explicit not-wired error rather than silently
// answering from the wrong layer.
func New(w *working.Layer, sem *semantic.Layer, lib *skills.Library, eng *search.Engine, decayHalfLifeDays float64, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	if decayHalfLifeDays <= 0 {
		decayHalfLifeDays = 30
	}
	return &Router{
		working:           w,
		semantic:          sem,
		skills:            lib,
		search:            eng,
		decayHalfLife:     decayHalfLifeDays,
		skillSuccessFloor: DefaultSkillSuccessFloor,
		logger:            logger,
	}
}

// Route probes working memory first; a sufficiently strong hit answers the
// query directly without classifying it. On a miss the query is classified
// and dispatched to the layer matching its class.
func (r *Router) Route(ctx context.Context, query, namespace string, topK int) (*Response, error) {
	if topK <= 0 {
		topK = 5
	}
	if r.working != nil {
		scored, err := r.working.Search(ctx, namespace, query, 1)
		if err == nil && len(scored) > 0 && scored[0].Score >= FastPathThreshold {
			r.logger.WithFields(logrus.Fields{
				"namespace": namespace,
				"score":     scored[0].Score,
			}).Debug("Fast path hit")
			return &Response{
				FastPath: true,
				Results: []model.RetrievalResult{{
					ID:          scored[0].Entry.ConversationID,
					SourceLayer: model.SourceWorking,
					Content:     scored[0].Entry.FullText,
					Score:       scored[0].Score,
				}},
			}, nil
		}
	}

	classification := Classify(query)
	results, err := r.dispatch(ctx, classification, query, namespace, topK)
	if err != nil {
		return nil, err
	}
	return &Response{Classification: classification, Results: results}, nil
}

func (r *Router) dispatch(ctx context.Context, c Classification, query, namespace string, topK int) ([]model.RetrievalResult, error) {
	switch c.Class {
	case ClassFactual:
		return r.handleFactual(ctx, query, namespace, topK)
	case ClassPreference:
		return r.handlePreference(ctx, topK)
	case ClassProject:
		return r.handleProject(ctx, query, namespace, topK)
	case ClassTemporal:
		return r.handleTemporal(ctx, query, topK)
	case ClassSkill:
		return r.handleSkill(ctx, query, topK)
	case ClassComplex:
		return r.handleComplex(ctx, query, namespace, topK)
	default:
		return nil, fmt.Errorf("no handler wired for query class %q", c.Class)
	}
}

// handleFactual answers from the knowledge graph first and falls through to
// hybrid search when no entity matches.
func (r *Router) handleFactual(ctx context.Context, query, namespace string, topK int) ([]model.RetrievalResult, error) {
	if r.semantic == nil {
		return nil, errNotWired(ClassFactual)
	}
	entities, err := r.semantic.SearchEntities(ctx, query, namespace, topK)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return r.handleComplex(ctx, query, namespace, topK)
	}
	results := make([]model.RetrievalResult, 0, len(entities))
	for _, e := range entities {
		results = append(results, model.RetrievalResult{
			ID:          e.ID,
			SourceLayer: model.SourceSemantic,
			Content:     entityContent(e),
			Score:       e.Confidence,
		})
	}
	return results, nil
}

func (r *Router) handlePreference(ctx context.Context, topK int) ([]model.RetrievalResult, error) {
	if r.semantic == nil {
		return nil, errNotWired(ClassPreference)
	}
	facts, err := r.semantic.Preferences(ctx, "", r.decayHalfLife)
	if err != nil {
		return nil, err
	}
	if len(facts) > topK {
		facts = facts[:topK]
	}
	results := make([]model.RetrievalResult, 0, len(facts))
	for _, f := range facts {
		results = append(results, model.RetrievalResult{
			ID:          f.ID,
			SourceLayer: model.SourceSemantic,
			Content:     f.Property + " = " + f.Value,
			Score:       f.Confidence,
		})
	}
	return results, nil
}

// handleProject seeds personalized PageRank with entities matched from the
// query and returns the neighborhood ranked by accumulated rank.
func (r *Router) handleProject(ctx context.Context, query, namespace string, topK int) ([]model.RetrievalResult, error) {
	if r.semantic == nil {
		return nil, errNotWired(ClassProject)
	}
	seeds, err := r.semantic.SearchEntities(ctx, query, namespace, topK)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return r.handleComplex(ctx, query, namespace, topK)
	}
	seedIDs := make([]string, len(seeds))
	for i, e := range seeds {
		seedIDs[i] = e.ID
	}

	ranked, err := r.semantic.PersonalizedPageRank(ctx, seedIDs, 2, 0.85)
	if err != nil {
		return nil, err
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	results := make([]model.RetrievalResult, 0, len(ranked))
	for _, re := range ranked {
		results = append(results, model.RetrievalResult{
			ID:          re.Entity.ID,
			SourceLayer: model.SourceSemantic,
			Content:     entityContent(re.Entity),
			Score:       re.Rank,
		})
	}
	return results, nil
}

func (r *Router) handleTemporal(ctx context.Context, query string, topK int) ([]model.RetrievalResult, error) {
	if r.semantic == nil {
		return nil, errNotWired(ClassTemporal)
	}
	now := time.Now()
	start, end, ok := ParseTimeRange(query, now)
	if !ok {
		start, end = DefaultTimeRange(now)
	}
	facts, err := r.semantic.FactsByTimeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(facts) > topK {
		facts = facts[:topK]
	}
	results := make([]model.RetrievalResult, 0, len(facts))
	for _, f := range facts {
		results = append(results, model.RetrievalResult{
			ID:          f.ID,
			SourceLayer: model.SourceSemantic,
			Content:     f.Property + " = " + f.Value,
			Score:       f.Confidence,
		})
	}
	return results, nil
}

// handleSkill searches the skill library and drops skills with a poor track
// record. Unproven skills pass the filter so new skills get a chance to run.
func (r *Router) handleSkill(ctx context.Context, query string, topK int) ([]model.RetrievalResult, error) {
	if r.skills == nil {
		return nil, errNotWired(ClassSkill)
	}
	matches, err := r.skills.Search(ctx, query, topK*2)
	if err != nil {
		return nil, err
	}
	results := make([]model.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		total := m.Skill.SuccessCount + m.Skill.FailureCount
		if total > 0 {
			rate := float64(m.Skill.SuccessCount) / float64(total)
			if rate < r.skillSuccessFloor {
				continue
			}
		}
		results = append(results, model.RetrievalResult{
			ID:          m.Skill.ID,
			SourceLayer: model.SourceSkill,
			Content:     m.Skill.Name + ": " + m.Skill.Summary,
			Score:       m.Confidence,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// handleComplex runs the full hybrid search; when the vector side is degraded
// it serves lexical-only results instead of failing.
func (r *Router) handleComplex(ctx context.Context, query, namespace string, topK int) ([]model.RetrievalResult, error) {
	if r.search == nil {
		return nil, errNotWired(ClassComplex)
	}
	results, err := r.search.HybridSearch(ctx, query, namespace, topK)
	if err != nil {
		if errors.Is(err, search.ErrDegraded) {
			return r.search.LexicalSearch(ctx, query, namespace, topK)
		}
		return nil, err
	}
	return results, nil
}

func errNotWired(class QueryClass) error {
	return fmt.Errorf("no handler wired for query class %q", class)
}

func entityContent(e model.Entity) string {
	if e.Description != "" {
		return e.Name + ": " + e.Description
	}
	return e.Name
}
