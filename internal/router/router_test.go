package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/cache"
	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/search"
	"github.com/engramlabs/engram/internal/semantic"
	"github.com/engramlabs/engram/internal/skills"
	"github.com/engramlabs/engram/internal/store"
	"github.com/engramlabs/engram/internal/working"
)

type fixture struct {
	router   *Router
	working  *working.Layer
	semantic *semantic.Layer
	skills   *skills.Library
	store    *store.Store
}

func setupRouter(t *testing.T) *fixture {
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

	return &fixture{
		router:   New(w, sem, lib, eng, 30, nil),
		working:  w,
		semantic: sem,
		skills:   lib,
		store:    st,
	}
}

func TestRoute_FastPathHighOverlap(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, f.working.Store(ctx, &model.WorkingMemoryEntry{
		ConversationID: "conv-1",
		Namespace:      "ns",
		Timestamp:      time.Now().UTC(),
		FullText:       "deploy payment service to staging",
		KeyEntities:    []string{"deploy", "payment", "service"},
		Topics:         []string{"deploy", "payment", "service"},
	}))

	resp, err := f.router.Route(ctx, "deploy payment service", "ns", 5)
	require.NoError(t, err)
	assert.True(t, resp.FastPath)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, model.SourceWorking, resp.Results[0].SourceLayer)
	assert.GreaterOrEqual(t, resp.Results[0].Score, FastPathThreshold)
}

func TestRoute_FastPathSkipsClassification(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, f.working.Store(ctx, &model.WorkingMemoryEntry{
		ConversationID: "conv-1",
		Namespace:      "ns",
		Timestamp:      time.Now().UTC(),
		FullText:       "deploy payment service to staging",
		KeyEntities:    []string{"deploy", "payment", "service"},
		Topics:         []string{"deploy", "payment", "service"},
	}))

	resp, err := f.router.Route(ctx, "deploy payment service", "ns", 5)
	require.NoError(t, err)
	require.True(t, resp.FastPath)
	assert.Equal(t, Classification{}, resp.Classification)
}

func TestRoute_NoFastPathBelowThreshold(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, f.working.Store(ctx, &model.WorkingMemoryEntry{
		ConversationID: "conv-1",
		Namespace:      "ns",
		Timestamp:      time.Now().UTC(),
		FullText:       "deploy payment service to staging",
	}))

	// Text-only overlap tops out at 0.30, far below the fast-path bar.
	resp, err := f.router.Route(ctx, "deploy payment service", "ns", 5)
	require.NoError(t, err)
	assert.False(t, resp.FastPath)
}

func TestRoute_SkillQueriesHitTheLibrary(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, f.skills.Add(ctx, &model.Skill{
		SkillSummary: model.SkillSummary{
			Name:     "service deployer",
			Summary:  "deploys a service",
			Triggers: []string{"deploy the service"},
		},
	}))

	resp, err := f.router.Route(ctx, "how do I deploy the service", "ns", 5)
	require.NoError(t, err)
	assert.Equal(t, ClassSkill, resp.Classification.Class)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, model.SourceSkill, resp.Results[0].SourceLayer)
}

func TestRoute_SkillSuccessFloorFiltersPoorPerformers(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	bad := &model.Skill{SkillSummary: model.SkillSummary{
		Name: "bad", Summary: "fails a lot", Triggers: []string{"rotate the keys"},
	}}
	require.NoError(t, f.skills.Add(ctx, bad))
	for i := 0; i < 9; i++ {
		require.NoError(t, f.skills.RecordFailure(ctx, bad.ID))
	}
	require.NoError(t, f.skills.RecordSuccess(ctx, bad.ID, 0.5))

	resp, err := f.router.Route(ctx, "how do I rotate the keys", "ns", 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestRoute_PreferenceQueriesReadFacts(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	entity, err := f.semantic.UpsertEntity(ctx, "user", "person", "ns", "", 0.9)
	require.NoError(t, err)
	require.NoError(t, f.store.InsertFact(ctx, &model.Fact{
		EntityID:   entity.ID,
		Property:   "preference:editor",
		Value:      "vim",
		Confidence: 0.8,
	}))

	resp, err := f.router.Route(ctx, "which editor do I prefer?", "ns", 5)
	require.NoError(t, err)
	assert.Equal(t, ClassPreference, resp.Classification.Class)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Content, "vim")
}

func TestRoute_ComplexFallsBackToLexicalWhenDegraded(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, f.store.InsertMemory(ctx, &model.Memory{
		Content: "the migration effort targets sqlite", Type: model.MemoryTypeSemantic, Namespace: "ns",
	}))

	resp, err := f.router.Route(ctx, "summarize notes mentioning migration sqlite", "ns", 5)
	require.NoError(t, err)
	assert.Equal(t, ClassComplex, resp.Classification.Class)
	require.NotEmpty(t, resp.Results)
}

func TestRoute_NotWiredHandlerErrors(t *testing.T) {
	r := New(nil, nil, nil, nil, 30, nil)
	_, err := r.Route(context.Background(), "what is Redis?", "ns", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler wired")
}
