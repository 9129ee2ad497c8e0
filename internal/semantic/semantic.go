// Package semantic implements the durable knowledge-graph layer: entity
// upserts, relationship reinforcement and temporal decay, bounded personalized
// PageRank traversal, and time-bounded fact queries.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/store"
)

// Layer is the semantic memory layer.
type Layer struct {
	store             *store.Store
	reinforcementStep float64
	logger            *logrus.Logger
}

// RankedEntity is an entity with its accumulated traversal rank.
type RankedEntity struct {
	Entity model.Entity
	Rank   float64
}

// New creates the layer. The reinforcement step defaults to 0.1.
func New(s *store.Store, reinforcementStep float64, logger *logrus.Logger) *Layer {
	if reinforcementStep <= 0 {
		reinforcementStep = 0.1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Layer{store: s, reinforcementStep: reinforcementStep, logger: logger}
}

// UpsertEntity creates or refreshes an entity by (name, type, namespace).
func (l *Layer) UpsertEntity(ctx context.Context, name, typ, namespace, description string, confidence float64) (*model.Entity, error) {
	if name == "" || typ == "" {
		return nil, fmt.Errorf("entity name and type are required")
	}
	if confidence == 0 {
		confidence = 0.5
	}
	return l.store.UpsertEntity(ctx, &model.Entity{
		Name:        name,
		Type:        typ,
		Namespace:   namespace,
		Description: description,
		Confidence:  confidence,
	})
}

// SearchEntities finds entities whose name matches any query token, merging
// per-token results and keeping the highest-confidence ones.
func (l *Layer) SearchEntities(ctx context.Context, query, namespace string, limit int) ([]model.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	seen := make(map[string]bool)
	var merged []model.Entity
	for _, token := range queryTokens(query) {
		entities, err := l.store.SearchEntities(ctx, token, namespace, limit)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Reinforce creates the relationship if absent, otherwise bumps its strength
// by the configured step, capped at 1.0.
func (l *Layer) Reinforce(ctx context.Context, sourceID, targetID, relationType, evidence string) error {
	return l.store.ReinforceRelationship(ctx, sourceID, targetID, relationType, evidence, l.reinforcementStep)
}

// ApplyTemporalDecay rescales every relationship's strength by
// e^(-days_since_reinforcement / halfLifeDays). Decay never deletes an edge;
// PruneWeak is the separate destructive pass.
func (l *Layer) ApplyTemporalDecay(ctx context.Context, halfLifeDays float64) (int, error) {
	if halfLifeDays <= 0 {
		return 0, fmt.Errorf("half life must be positive, got %f", halfLifeDays)
	}
	rels, err := l.store.AllRelationships(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	decayed := 0
	for _, r := range rels {
		if err := ctx.Err(); err != nil {
			return decayed, err
		}
		ageDays := now.Sub(r.LastReinforced).Hours() / 24
		if ageDays <= 0 {
			continue
		}
		next := r.Strength * math.Exp(-ageDays/halfLifeDays)
		if err := l.store.SetRelationshipStrength(ctx, r.ID, next); err != nil {
			return decayed, err
		}
		decayed++
	}
	return decayed, nil
}

// PruneWeak deletes relationships whose strength fell below the floor.
func (l *Layer) PruneWeak(ctx context.Context, floor float64) (int, error) {
	return l.store.PruneRelationships(ctx, floor)
}

// PersonalizedPageRank walks the graph outward from the seed entities up to
// depth hops, spreading damped rank mass across edges proportionally to their
// strength, and returns entities ordered by accumulated rank.
func (l *Layer) PersonalizedPageRank(ctx context.Context, seedEntityIDs []string, depth int, damping float64) ([]RankedEntity, error) {
	if len(seedEntityIDs) == 0 {
		return nil, nil
	}
	if depth <= 0 {
		depth = 2
	}
	if damping <= 0 || damping >= 1 {
		damping = 0.85
	}

	adjacency, err := l.adjacency(ctx)
	if err != nil {
		return nil, err
	}

	rank := make(map[string]float64)
	frontier := make(map[string]float64)
	seedMass := 1.0 / float64(len(seedEntityIDs))
	for _, id := range seedEntityIDs {
		frontier[id] = seedMass
		rank[id] += seedMass
	}

	for hop := 0; hop < depth; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make(map[string]float64)
		for nodeID, mass := range frontier {
			edges := adjacency[nodeID]
			if len(edges) == 0 {
				continue
			}
			var totalStrength float64
			for _, e := range edges {
				totalStrength += e.strength
			}
			if totalStrength == 0 {
				continue
			}
			spread := mass * damping
			for _, e := range edges {
				share := spread * e.strength / totalStrength
				next[e.neighbor] += share
				rank[e.neighbor] += share
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	ranked := make([]RankedEntity, 0, len(rank))
	for id, r := range rank {
		entity, err := l.store.GetEntity(ctx, id)
		if err != nil {
			continue
		}
		ranked = append(ranked, RankedEntity{Entity: *entity, Rank: r})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Rank > ranked[j].Rank
	})
	return ranked, nil
}

type edge struct {
	neighbor string
	strength float64
}

// adjacency builds an undirected view of the graph; traversal follows edges in
// both directions the way the relationship queries do.
func (l *Layer) adjacency(ctx context.Context) (map[string][]edge, error) {
	rels, err := l.store.AllRelationships(ctx)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[string][]edge)
	for _, r := range rels {
		adjacency[r.SourceID] = append(adjacency[r.SourceID], edge{neighbor: r.TargetID, strength: r.Strength})
		adjacency[r.TargetID] = append(adjacency[r.TargetID], edge{neighbor: r.SourceID, strength: r.Strength})
	}
	return adjacency, nil
}

// FactsByTimeRange returns facts whose validity overlaps [start, end).
func (l *Layer) FactsByTimeRange(ctx context.Context, start, end time.Time) ([]model.Fact, error) {
	return l.store.FactsByTimeRange(ctx, start, end)
}

// Preferences returns preference facts, newest first, optionally narrowed to a
// domain. Confidence is attenuated by age so stale preferences rank below
// fresh ones with equal stored confidence.
func (l *Layer) Preferences(ctx context.Context, domain string, halfLifeDays float64) ([]model.Fact, error) {
	facts, err := l.store.Preferences(ctx, domain)
	if err != nil {
		return nil, err
	}
	if halfLifeDays <= 0 {
		return facts, nil
	}
	now := time.Now().UTC()
	sort.SliceStable(facts, func(i, j int) bool {
		return decayedConfidence(facts[i], now, halfLifeDays) > decayedConfidence(facts[j], now, halfLifeDays)
	})
	return facts, nil
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "about": true, "what": true,
	"who": true, "where": true, "which": true, "did": true, "does": true,
	"with": true, "was": true, "were": true, "are": true, "have": true,
	"that": true, "this": true, "our": true, "your": true, "how": true,
}

// queryTokens keeps tokens long enough to be entity name fragments.
func queryTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func decayedConfidence(f model.Fact, now time.Time, halfLifeDays float64) float64 {
	ageDays := now.Sub(f.CreatedAt).Hours() / 24
	if ageDays <= 0 {
		return f.Confidence
	}
	return f.Confidence * math.Exp(-ageDays/halfLifeDays)
}
