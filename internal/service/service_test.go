package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/cache"
	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/router"
	"github.com/engramlabs/engram/internal/search"
	"github.com/engramlabs/engram/internal/semantic"
	"github.com/engramlabs/engram/internal/skills"
	"github.com/engramlabs/engram/internal/store"
	"github.com/engramlabs/engram/internal/working"
)

type fixture struct {
	svc     *Service
	working *working.Layer
	store   *store.Store
	skills  *skills.Library
}

func setupService(t *testing.T) *fixture {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := cache.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	w := working.New(client, 5, time.Hour, nil)
	sem := semantic.New(st, 0.1, nil)
	lib := skills.New(st, time.Minute, nil)
	eng, err := search.NewEngine(nil, st, nil, search.Options{Collection: "mem", Dimension: 4}, nil)
	require.NoError(t, err)
	rt := router.New(w, sem, lib, eng, 30, nil)

	return &fixture{
		svc:     New(st, w, lib, eng, rt, nil),
		working: w,
		store:   st,
		skills:  lib,
	}
}

func TestStoreMemory_RejectsInvalidInputBeforeAnyWrite(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	cases := []StoreMemoryInput{
		{Content: "", Type: model.MemoryTypeEpisodic, Namespace: "ns"},
		{Content: "   ", Type: model.MemoryTypeEpisodic, Namespace: "ns"},
		{Content: "hello", Type: "bogus", Namespace: "ns"},
		{Content: "hello", Type: model.MemoryTypeEpisodic, Namespace: ""},
		{Content: strings.Repeat("x", model.MaxContentBytes+1), Type: model.MemoryTypeEpisodic, Namespace: "ns"},
	}
	for _, in := range cases {
		_, err := f.svc.StoreMemory(ctx, in)
		assert.Error(t, err)
	}

	memories, err := f.store.ListRecentMemories(ctx, "ns", 10)
	require.NoError(t, err)
	assert.Empty(t, memories, "rejected writes must not leave partial state")
}

func TestStoreMemory_WritesDurableAndWorking(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	m, err := f.svc.StoreMemory(ctx, StoreMemoryInput{
		Content:   "the payment service uses redis",
		Type:      model.MemoryTypeSemantic,
		Namespace: "ns",
		Topics:    []string{"payments"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)

	got, err := f.store.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "the payment service uses redis", got.Content)

	entries, err := f.working.GetAll(ctx, "ns", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "the payment service uses redis", entries[0].FullText)
	assert.Equal(t, []string{"payments"}, entries[0].Topics)
}

func TestRetrieveMemory_RequiresQueryAndNamespace(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.RetrieveMemory(ctx, "", "ns", 5)
	assert.Error(t, err)
	_, err = f.svc.RetrieveMemory(ctx, "query", "", 5)
	assert.Error(t, err)
}

func TestDeleteMemory(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	m, err := f.svc.StoreMemory(ctx, StoreMemoryInput{
		Content: "short lived", Type: model.MemoryTypeEpisodic, Namespace: "ns",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMemory(ctx, m.ID))
	_, err = f.store.GetMemory(ctx, m.ID)
	assert.Error(t, err)

	assert.Error(t, f.svc.DeleteMemory(ctx, m.ID), "second delete reports missing id")
}

func TestRecordSkillOutcome_ValidatesSatisfaction(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	sk := &model.Skill{SkillSummary: model.SkillSummary{Name: "s", Summary: "s", Triggers: []string{"t"}}}
	require.NoError(t, f.skills.Add(ctx, sk))

	assert.Error(t, f.svc.RecordSkillOutcome(ctx, sk.ID, true, 1.5))
	assert.Error(t, f.svc.RecordSkillOutcome(ctx, sk.ID, true, -0.1))
	assert.NoError(t, f.svc.RecordSkillOutcome(ctx, sk.ID, true, 0.9))
	assert.NoError(t, f.svc.RecordSkillOutcome(ctx, sk.ID, false, 0))

	sum, err := f.store.GetSkillSummary(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SuccessCount)
	assert.Equal(t, 1, sum.FailureCount)
}

func TestStoreDecision(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	m, err := f.svc.StoreDecision(ctx, "use RRF with k=60 for fusion", "ns", "agent-1", "task-2")
	require.NoError(t, err)
	assert.Equal(t, model.MemoryTypeDecision, m.Type)
	assert.NotEmpty(t, m.Metadata["decided_at"])
}

func TestShareContext_CopiesEntriesBetweenNamespaces(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	for _, content := range []string{"first note", "second note"} {
		_, err := f.svc.StoreMemory(ctx, StoreMemoryInput{
			Content: content, Type: model.MemoryTypeEpisodic, Namespace: "donor",
		})
		require.NoError(t, err)
	}

	shared, err := f.svc.ShareContext(ctx, "donor", "recipient", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, shared)

	entries, err := f.working.GetAll(ctx, "recipient", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// The donor keeps its own entries.
	donorEntries, err := f.working.GetAll(ctx, "donor", 10)
	require.NoError(t, err)
	assert.Len(t, donorEntries, 2)

	_, err = f.svc.ShareContext(ctx, "donor", "donor", 10)
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.StoreMemory(ctx, StoreMemoryInput{
		Content: "hello", Type: model.MemoryTypeEpisodic, Namespace: "ns",
	})
	require.NoError(t, err)

	stats, err := f.svc.GetStats(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Working.Count)
	assert.Equal(t, 1, stats.Durable.Memories)

	namespaces, err := f.svc.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ns"}, namespaces)
}
