// Package model defines the domain types shared across the memory engine:
// memories, working-memory entries, the knowledge graph (entities, relationships,
// temporal facts), conflicts, and procedural skills.
package model

import (
	"time"
)

// MemoryType categorizes stored memories.
type MemoryType string

const (
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
	MemoryTypeDecision   MemoryType = "decision"
)

// ValidMemoryTypes lists the accepted memory type values.
var ValidMemoryTypes = map[MemoryType]bool{
	MemoryTypeEpisodic:   true,
	MemoryTypeSemantic:   true,
	MemoryTypeProcedural: true,
	MemoryTypeDecision:   true,
}

// Memory is a durable memory record. Content is immutable after creation;
// only metadata and UpdatedAt may change.
type Memory struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Type      MemoryType        `json:"type"`
	Namespace string            `json:"namespace"`
	AgentID   string            `json:"agent_id,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// WorkingMemoryEntry is a short-lived conversational context entry held in the
// cache layer under a TTL and a capacity bound per namespace.
type WorkingMemoryEntry struct {
	ConversationID string    `json:"conversation_id"`
	Namespace      string    `json:"namespace"`
	Timestamp      time.Time `json:"timestamp"`
	FullText       string    `json:"full_text"`
	Embedding      []float32 `json:"embedding,omitempty"`
	KeyEntities    []string  `json:"key_entities,omitempty"`
	Topics         []string  `json:"topics,omitempty"`
	UserIntent     string    `json:"user_intent,omitempty"`
}

// Entity is a node in the knowledge graph, upserted by (name, type, namespace).
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`
	Confidence   float64   `json:"confidence"`
	Namespace    string    `json:"namespace"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// Relationship is a directed, weighted edge between two entities. Strength is
// reinforced on re-observation and decays exponentially with time.
type Relationship struct {
	ID             string    `json:"id"`
	SourceID       string    `json:"source_id"`
	TargetID       string    `json:"target_id"`
	RelationType   string    `json:"relation_type"`
	Strength       float64   `json:"strength"`
	Evidence       string    `json:"evidence,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastReinforced time.Time `json:"last_reinforced"`
}

// Fact is a time-bounded property assertion about an entity. A nil ValidFrom or
// ValidUntil means the bound is open on that side.
type Fact struct {
	ID             string     `json:"id"`
	EntityID       string     `json:"entity_id"`
	Property       string     `json:"property"`
	Value          string     `json:"value"`
	Confidence     float64    `json:"confidence"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	SourceMemoryID string     `json:"source_memory_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ConflictType classifies a detected contradiction between two facts.
type ConflictType string

const (
	ConflictTemporalOverlap ConflictType = "temporal_overlap"
	ConflictContradiction   ConflictType = "contradiction"
	ConflictPreferenceShift ConflictType = "preference_shift"
)

// ResolutionFlagged is the only resolution status the engine ever writes.
// Conflicts are recorded for review, never auto-resolved.
const ResolutionFlagged = "flagged"

// Conflict records a contradiction between two stored facts.
type Conflict struct {
	ID               string       `json:"id"`
	FactID1          string       `json:"fact_id_1"`
	FactID2          string       `json:"fact_id_2"`
	Type             ConflictType `json:"type"`
	Severity         float64      `json:"severity"`
	ResolutionStatus string       `json:"resolution_status"`
	CreatedAt        time.Time    `json:"created_at"`
}

// SkillSummary is the cheap, always-available projection of a skill.
type SkillSummary struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Summary         string     `json:"summary"`
	Category        string     `json:"category,omitempty"`
	Triggers        []string   `json:"triggers,omitempty"`
	SuccessCount    int        `json:"success_count"`
	FailureCount    int        `json:"failure_count"`
	AvgSatisfaction float64    `json:"avg_satisfaction"`
	IsArchived      bool       `json:"is_archived"`
	LastUsed        *time.Time `json:"last_used,omitempty"`
	Version         int        `json:"version"`
}

// Skill is the full procedural memory record, loaded on demand.
type Skill struct {
	SkillSummary
	Description   string   `json:"description,omitempty"`
	Code          string   `json:"code,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// ConsolidationRun summarizes one consolidation pass.
type ConsolidationRun struct {
	MemoriesProcessed int           `json:"memories_processed"`
	EntitiesExtracted int           `json:"entities_extracted"`
	ConflictsDetected int           `json:"conflicts_detected"`
	SkillsExtracted   int           `json:"skills_extracted"`
	Duration          time.Duration `json:"duration"`
}

// SourceLayer identifies which memory layer produced a retrieval result.
type SourceLayer string

const (
	SourceWorking  SourceLayer = "working"
	SourceSemantic SourceLayer = "semantic"
	SourceSkill    SourceLayer = "skill"
	SourceHybrid   SourceLayer = "hybrid"
	SourceLexical  SourceLayer = "lexical"
)

// RetrievalResult is the uniform envelope every retrieval handler returns, so
// callers can compare results across strategies.
type RetrievalResult struct {
	ID          string      `json:"id"`
	SourceLayer SourceLayer `json:"source_layer"`
	Content     string      `json:"content"`
	Score       float64     `json:"score"`
}
