// Package consolidate moves knowledge down the memory hierarchy: working
// memory entries are drained into durable memories, graph entities, temporal
// facts and skill candidates, then relationship strengths decay and weak edges
// are pruned. A run is sequential and tolerant of per-entry failures; one bad
// entry never aborts the pass.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/cache"
	"github.com/engramlabs/engram/internal/conflict"
	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/search"
	"github.com/engramlabs/engram/internal/semantic"
	"github.com/engramlabs/engram/internal/skills"
	"github.com/engramlabs/engram/internal/store"
	"github.com/engramlabs/engram/internal/working"
)

// ErrAlreadyRunning is returned when a run is requested while another is in
// flight. Runs never overlap.
var ErrAlreadyRunning = errors.New("consolidation already running")

const checkpointKey = "consolidate:checkpoint"
const checkpointTTL = 24 * time.Hour

// Checkpoint records the outcome of the last completed run.
type Checkpoint struct {
	CompletedAt time.Time              `json:"completed_at"`
	Run         model.ConsolidationRun `json:"run"`
}

// Pipeline runs consolidation passes.
type Pipeline struct {
	working  *working.Layer
	semantic *semantic.Layer
	skills   *skills.Library
	detector *conflict.Detector
	store    *store.Store
	search   *search.Engine
	cache    *cache.RedisClient

	halfLifeDays float64
	pruneFloor   float64
	logger       *logrus.Logger

	running atomic.Bool
}

// NewPipeline wires a pipeline. The search engine may be nil; consolidation
// then skips vector indexing and memories stay lexical-only.
func NewPipeline(w *working.Layer, sem *semantic.Layer, lib *skills.Library, det *conflict.Detector, st *store.Store, eng *search.Engine, c *cache.RedisClient, halfLifeDays, pruneFloor float64, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	if pruneFloor <= 0 {
		pruneFloor = 0.1
	}
	return &Pipeline{
		working:      w,
		semantic:     sem,
		skills:       lib,
		detector:     det,
		store:        st,
		search:       eng,
		cache:        c,
		halfLifeDays: halfLifeDays,
		pruneFloor:   pruneFloor,
		logger:       logger,
	}
}

// Run executes one consolidation pass. Only one run may be in flight at a
// time; concurrent callers get ErrAlreadyRunning.
func (p *Pipeline) Run(ctx context.Context) (*model.ConsolidationRun, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	started := time.Now()
	run := &model.ConsolidationRun{}

	namespaces, err := p.working.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list working namespaces: %w", err)
	}

	for _, ns := range namespaces {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		entries, err := p.working.GetAll(ctx, ns, 0)
		if err != nil {
			p.logger.WithError(err).WithField("namespace", ns).Warn("Skipping namespace, working memory unreadable")
			continue
		}
		// Oldest first so durable ordering follows conversation order.
		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]
			if err := ctx.Err(); err != nil {
				return run, err
			}
			if err := p.consolidateEntry(ctx, &entry, run); err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"namespace":    ns,
					"conversation": entry.ConversationID,
				}).Warn("Entry consolidation failed, continuing")
				continue
			}
			if err := p.working.Delete(ctx, ns, entry.ConversationID); err != nil {
				p.logger.WithError(err).Warn("Failed to remove consolidated entry")
			}
			run.MemoriesProcessed++
		}
	}

	decayed, err := p.semantic.ApplyTemporalDecay(ctx, p.halfLifeDays)
	if err != nil {
		p.logger.WithError(err).Warn("Temporal decay incomplete")
	}
	pruned, err := p.semantic.PruneWeak(ctx, p.pruneFloor)
	if err != nil {
		p.logger.WithError(err).Warn("Relationship pruning failed")
	}

	run.Duration = time.Since(started)
	p.checkpoint(ctx, run)

	p.logger.WithFields(logrus.Fields{
		"memories":  run.MemoriesProcessed,
		"entities":  run.EntitiesExtracted,
		"conflicts": run.ConflictsDetected,
		"skills":    run.SkillsExtracted,
		"decayed":   decayed,
		"pruned":    pruned,
		"duration":  run.Duration,
	}).Info("Consolidation run completed")
	return run, nil
}

// consolidateEntry moves a single working-memory entry into the durable
// layers.
func (p *Pipeline) consolidateEntry(ctx context.Context, entry *model.WorkingMemoryEntry, run *model.ConsolidationRun) error {
	memory := &model.Memory{
		Content:   entry.FullText,
		Type:      model.MemoryTypeEpisodic,
		Namespace: entry.Namespace,
		Metadata:  map[string]string{"conversation_id": entry.ConversationID},
		CreatedAt: entry.Timestamp,
	}
	if err := p.store.InsertMemory(ctx, memory); err != nil {
		return fmt.Errorf("persist memory: %w", err)
	}
	if p.search != nil {
		if err := p.search.IndexMemory(ctx, memory); err != nil && !errors.Is(err, search.ErrDegraded) {
			p.logger.WithError(err).Debug("Vector indexing failed, memory stays lexical-only")
		}
	}

	entityIDs := p.consolidateEntities(ctx, entry, run)
	p.reinforceCooccurrence(ctx, entry, entityIDs)
	p.consolidateFacts(ctx, entry, memory.ID, run)
	p.consolidateSkill(ctx, entry, run)
	return nil
}

func (p *Pipeline) consolidateEntities(ctx context.Context, entry *model.WorkingMemoryEntry, run *model.ConsolidationRun) []string {
	var ids []string
	for _, candidate := range extractEntities(entry) {
		entity, err := p.semantic.UpsertEntity(ctx, candidate.Name, candidate.Type, entry.Namespace, "", 0.5)
		if err != nil {
			p.logger.WithError(err).WithField("entity", candidate.Name).Warn("Entity upsert failed")
			continue
		}
		ids = append(ids, entity.ID)
		run.EntitiesExtracted++
	}
	return ids
}

// reinforceCooccurrence strengthens an edge between every pair of entities
// seen together in one entry.
func (p *Pipeline) reinforceCooccurrence(ctx context.Context, entry *model.WorkingMemoryEntry, entityIDs []string) {
	for i := 0; i < len(entityIDs); i++ {
		for j := i + 1; j < len(entityIDs); j++ {
			if err := p.semantic.Reinforce(ctx, entityIDs[i], entityIDs[j], "co_occurs_with", entry.ConversationID); err != nil {
				p.logger.WithError(err).Debug("Co-occurrence reinforcement failed")
			}
		}
	}
}

func (p *Pipeline) consolidateFacts(ctx context.Context, entry *model.WorkingMemoryEntry, sourceMemoryID string, run *model.ConsolidationRun) {
	for _, candidate := range extractFacts(entry) {
		entity, err := p.semantic.UpsertEntity(ctx, candidate.EntityName, "entity", entry.Namespace, "", 0.5)
		if err != nil {
			p.logger.WithError(err).WithField("entity", candidate.EntityName).Warn("Fact entity upsert failed")
			continue
		}

		validFrom := entry.Timestamp
		fact := &model.Fact{
			EntityID:       entity.ID,
			Property:       candidate.Property,
			Value:          candidate.Value,
			Confidence:     candidate.Confidence,
			ValidFrom:      &validFrom,
			SourceMemoryID: sourceMemoryID,
			CreatedAt:      entry.Timestamp,
		}

		existing, err := p.store.FactsForProperty(ctx, entity.ID, candidate.Property)
		if err != nil {
			p.logger.WithError(err).Warn("Existing fact lookup failed")
			continue
		}
		if err := p.store.InsertFact(ctx, fact); err != nil {
			p.logger.WithError(err).Warn("Fact insert failed")
			continue
		}

		for _, c := range p.detector.Detect(fact, existing) {
			if err := p.store.ReduceFactConfidence(ctx, c.FactID1, conflict.ConfidenceFloor); err != nil {
				p.logger.WithError(err).Warn("Confidence reduction failed")
			}
			if err := p.store.ReduceFactConfidence(ctx, c.FactID2, conflict.ConfidenceFloor); err != nil {
				p.logger.WithError(err).Warn("Confidence reduction failed")
			}
			if err := p.store.InsertConflict(ctx, &c); err != nil {
				p.logger.WithError(err).Warn("Conflict record failed")
				continue
			}
			run.ConflictsDetected++
		}
	}
}

// consolidateSkill promotes procedural entries into the skill library,
// deduplicated by trigger signature so rephrasings of the same intent do not
// pile up as separate skills.
func (p *Pipeline) consolidateSkill(ctx context.Context, entry *model.WorkingMemoryEntry, run *model.ConsolidationRun) {
	candidate := extractSkillCandidate(entry)
	if candidate == nil {
		return
	}
	exists, err := p.skills.HasTriggerSignature(ctx, skills.TriggerSignature(candidate.Trigger))
	if err != nil {
		p.logger.WithError(err).Warn("Skill dedup check failed")
		return
	}
	if exists {
		return
	}
	sk := &model.Skill{
		SkillSummary: model.SkillSummary{
			Name:     candidate.Name,
			Summary:  candidate.Summary,
			Triggers: []string{candidate.Trigger},
			Version:  1,
		},
		Description: entry.FullText,
	}
	if err := p.skills.Add(ctx, sk); err != nil {
		p.logger.WithError(err).Warn("Skill promotion failed")
		return
	}
	run.SkillsExtracted++
}

func (p *Pipeline) checkpoint(ctx context.Context, run *model.ConsolidationRun) {
	if p.cache == nil {
		return
	}
	cp := Checkpoint{CompletedAt: time.Now().UTC(), Run: *run}
	if err := p.cache.SetJSON(ctx, checkpointKey, cp, checkpointTTL); err != nil {
		p.logger.WithError(err).Warn("Checkpoint write failed")
	}
}

// LastCheckpoint returns the most recent run record, or nil when none exists.
func (p *Pipeline) LastCheckpoint(ctx context.Context) (*Checkpoint, error) {
	if p.cache == nil {
		return nil, nil
	}
	var cp Checkpoint
	found, err := p.cache.GetJSON(ctx, checkpointKey, &cp)
	if err != nil || !found {
		return nil, err
	}
	return &cp, nil
}
