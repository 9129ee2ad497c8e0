// Package service is the operations facade over the memory engine. A protocol
// layer (MCP, HTTP, CLI) calls these methods; everything here validates input
// before touching a store and treats the vector capability as optional.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/router"
	"github.com/engramlabs/engram/internal/search"
	"github.com/engramlabs/engram/internal/skills"
	"github.com/engramlabs/engram/internal/store"
	"github.com/engramlabs/engram/internal/working"
)

// Service exposes the engine's operations.
type Service struct {
	store   *store.Store
	working *working.Layer
	skills  *skills.Library
	search  *search.Engine
	router  *router.Router
	logger  *logrus.Logger
}

// New wires the facade. The search engine may be nil when no vector backend is
// configured; stored memories then stay lexical-only.
func New(st *store.Store, w *working.Layer, lib *skills.Library, eng *search.Engine, rt *router.Router, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{store: st, working: w, skills: lib, search: eng, router: rt, logger: logger}
}

// StoreMemoryInput is the payload for StoreMemory.
type StoreMemoryInput struct {
	Content     string
	Type        model.MemoryType
	Namespace   string
	AgentID     string
	TaskID      string
	Metadata    map[string]string
	KeyEntities []string
	Topics      []string
	UserIntent  string
}

// StoreMemory validates and persists a memory, places it in working memory for
// fast-path retrieval, and indexes its vector when the capability is present.
func (s *Service) StoreMemory(ctx context.Context, in StoreMemoryInput) (*model.Memory, error) {
	if err := model.ValidateMemoryInput(in.Content, in.Type, in.Namespace); err != nil {
		return nil, err
	}

	memory := &model.Memory{
		Content:   in.Content,
		Type:      in.Type,
		Namespace: in.Namespace,
		AgentID:   in.AgentID,
		TaskID:    in.TaskID,
		Metadata:  in.Metadata,
	}
	if err := s.store.InsertMemory(ctx, memory); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}

	entry := &model.WorkingMemoryEntry{
		ConversationID: uuid.New().String(),
		Namespace:      in.Namespace,
		Timestamp:      memory.CreatedAt,
		FullText:       in.Content,
		KeyEntities:    in.KeyEntities,
		Topics:         in.Topics,
		UserIntent:     in.UserIntent,
	}
	if err := s.working.Store(ctx, entry); err != nil {
		s.logger.WithError(err).Warn("Working memory write failed, memory is durable only")
	}

	if s.search != nil {
		if err := s.search.IndexMemory(ctx, memory); err != nil && !errors.Is(err, search.ErrDegraded) {
			s.logger.WithError(err).Warn("Vector indexing failed, memory stays lexical-only")
		}
	}
	return memory, nil
}

// RetrieveMemory routes a query through the layered retrieval path.
func (s *Service) RetrieveMemory(ctx context.Context, query, namespace string, topK int) (*router.Response, error) {
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace must not be empty")
	}
	return s.router.Route(ctx, query, namespace, topK)
}

// ListRecent returns the newest durable memories of a namespace.
func (s *Service) ListRecent(ctx context.Context, namespace string, limit int) ([]model.Memory, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace must not be empty")
	}
	return s.store.ListRecentMemories(ctx, namespace, limit)
}

// Stats combines working-memory residency with durable-store aggregates.
type Stats struct {
	Working working.Stats         `json:"working"`
	Durable *store.NamespaceStats `json:"durable"`
}

// GetStats reports per-namespace statistics across layers.
func (s *Service) GetStats(ctx context.Context, namespace string) (*Stats, error) {
	durable, err := s.store.GetNamespaceStats(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("namespace stats: %w", err)
	}
	return &Stats{
		Working: s.working.GetStats(ctx, namespace),
		Durable: durable,
	}, nil
}

// DeleteMemory removes a memory from the durable store and the vector index.
func (s *Service) DeleteMemory(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("memory id must not be empty")
	}
	if err := s.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		if err := s.search.RemoveMemory(ctx, id); err != nil {
			s.logger.WithError(err).WithField("memory_id", id).Warn("Vector removal failed")
		}
	}
	return nil
}

// RecordSkillOutcome records one execution outcome for a skill. Satisfaction
// is only meaningful on success and must lie in [0, 1].
func (s *Service) RecordSkillOutcome(ctx context.Context, skillID string, success bool, satisfaction float64) error {
	if skillID == "" {
		return fmt.Errorf("skill id must not be empty")
	}
	if !success {
		return s.skills.RecordFailure(ctx, skillID)
	}
	if satisfaction < 0 || satisfaction > 1 {
		return fmt.Errorf("satisfaction must be in [0, 1], got %f", satisfaction)
	}
	return s.skills.RecordSuccess(ctx, skillID, satisfaction)
}

// LoadSkill fetches the full skill record through the detail cache.
func (s *Service) LoadSkill(ctx context.Context, skillID string) (*model.Skill, error) {
	if skillID == "" {
		return nil, fmt.Errorf("skill id must not be empty")
	}
	return s.skills.LoadFull(ctx, skillID)
}

// StoreDecision records a decision memory. Decisions get their own type so
// project queries can find what was agreed and when.
func (s *Service) StoreDecision(ctx context.Context, content, namespace, agentID, taskID string) (*model.Memory, error) {
	return s.StoreMemory(ctx, StoreMemoryInput{
		Content:   content,
		Type:      model.MemoryTypeDecision,
		Namespace: namespace,
		AgentID:   agentID,
		TaskID:    taskID,
		Metadata:  map[string]string{"decided_at": time.Now().UTC().Format(time.RFC3339)},
	})
}

// ShareContext copies the current working-memory entries from one namespace
// into another so a collaborating agent starts with the donor's context.
func (s *Service) ShareContext(ctx context.Context, fromNamespace, toNamespace string, limit int) (int, error) {
	if fromNamespace == "" || toNamespace == "" {
		return 0, fmt.Errorf("both namespaces are required")
	}
	if fromNamespace == toNamespace {
		return 0, fmt.Errorf("source and target namespace are the same")
	}
	entries, err := s.working.GetAll(ctx, fromNamespace, limit)
	if err != nil {
		return 0, err
	}

	shared := 0
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		copied := entry
		copied.ConversationID = uuid.New().String()
		copied.Namespace = toNamespace
		if err := s.working.Store(ctx, &copied); err != nil {
			s.logger.WithError(err).Warn("Context share write failed, continuing")
			continue
		}
		shared++
	}
	return shared, nil
}

// ListNamespaces lists namespaces with durable memories.
func (s *Service) ListNamespaces(ctx context.Context) ([]string, error) {
	return s.store.Namespaces(ctx)
}

// NamespaceStats returns durable aggregates for one namespace.
func (s *Service) NamespaceStats(ctx context.Context, namespace string) (*store.NamespaceStats, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace must not be empty")
	}
	return s.store.GetNamespaceStats(ctx, namespace)
}
