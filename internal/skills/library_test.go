package skills

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/store"
)

func setupLibrary(t *testing.T, cacheTTL time.Duration) (*Library, *store.Store) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, cacheTTL, nil), st
}

func addSkill(t *testing.T, lib *Library, name string, triggers ...string) *model.Skill {
	sk := &model.Skill{
		SkillSummary: model.SkillSummary{
			Name:     name,
			Summary:  "summary of " + name,
			Triggers: triggers,
		},
		Description: "description of " + name,
		Code:        "echo " + name,
	}
	require.NoError(t, lib.Add(context.Background(), sk))
	return sk
}

func TestSearch_ExactTriggerBeatsPartial(t *testing.T) {
	lib, _ := setupLibrary(t, time.Minute)
	ctx := context.Background()

	addSkill(t, lib, "deployer", "deploy the service")
	addSkill(t, lib, "restarter", "restart service")

	matches, err := lib.Search(ctx, "please deploy the service now", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	assert.Equal(t, "deployer", matches[0].Skill.Name)
	assert.Equal(t, 1.0, matches[0].Confidence)
	assert.Equal(t, "deploy the service", matches[0].MatchedTrigger)
}

func TestSearch_SuccessCountBreaksConfidenceTies(t *testing.T) {
	lib, _ := setupLibrary(t, time.Minute)
	ctx := context.Background()

	weak := addSkill(t, lib, "weak", "rotate logs")
	strong := addSkill(t, lib, "strong", "rotate logs")

	require.NoError(t, lib.RecordSuccess(ctx, strong.ID, 0.9))
	require.NoError(t, lib.RecordSuccess(ctx, strong.ID, 0.8))

	matches, err := lib.Search(ctx, "rotate logs", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "strong", matches[0].Skill.Name)
	assert.Equal(t, "weak", matches[1].Skill.Name)
	_ = weak
}

func TestSearch_ArchivedSkillsExcluded(t *testing.T) {
	lib, st := setupLibrary(t, time.Minute)
	ctx := context.Background()

	sk := addSkill(t, lib, "retired", "old procedure")
	require.NoError(t, st.ArchiveSkill(ctx, sk.ID))

	matches, err := lib.Search(ctx, "old procedure", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRecordSuccess_RunningAverage(t *testing.T) {
	lib, st := setupLibrary(t, time.Minute)
	ctx := context.Background()

	sk := addSkill(t, lib, "averaged", "do the thing")
	require.NoError(t, lib.RecordSuccess(ctx, sk.ID, 1.0))
	require.NoError(t, lib.RecordSuccess(ctx, sk.ID, 0.5))
	require.NoError(t, lib.RecordSuccess(ctx, sk.ID, 0.0))

	sum, err := st.GetSkillSummary(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.SuccessCount)
	assert.InDelta(t, 0.5, sum.AvgSatisfaction, 1e-9)
}

func TestRecordFailure_LeavesAverageUntouched(t *testing.T) {
	lib, st := setupLibrary(t, time.Minute)
	ctx := context.Background()

	sk := addSkill(t, lib, "flaky", "flaky thing")
	require.NoError(t, lib.RecordSuccess(ctx, sk.ID, 0.8))
	require.NoError(t, lib.RecordFailure(ctx, sk.ID))
	require.NoError(t, lib.RecordFailure(ctx, sk.ID))

	sum, err := st.GetSkillSummary(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SuccessCount)
	assert.Equal(t, 2, sum.FailureCount)
	assert.InDelta(t, 0.8, sum.AvgSatisfaction, 1e-9)
}

func TestLoadFull_ServesFromCacheUntilInvalidated(t *testing.T) {
	lib, st := setupLibrary(t, time.Hour)
	ctx := context.Background()

	sk := addSkill(t, lib, "cached", "cached thing")

	first, err := lib.LoadFull(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, first.SuccessCount)

	// A write through the store alone is invisible while the cache is warm.
	require.NoError(t, st.RecordSkillSuccess(ctx, sk.ID, 1.0))
	cachedCopy, err := lib.LoadFull(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cachedCopy.SuccessCount)

	// A write through the library invalidates and the next load is fresh.
	require.NoError(t, lib.RecordSuccess(ctx, sk.ID, 1.0))
	fresh, err := lib.LoadFull(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.SuccessCount)
	assert.Equal(t, "echo cached", fresh.Code)
}

func TestTriggerSignature_CanonicalizesPhrasing(t *testing.T) {
	assert.Equal(t, TriggerSignature("Deploy the Service"), TriggerSignature("service the deploy"))
	assert.NotEqual(t, TriggerSignature("deploy service"), TriggerSignature("restart service"))
}

func TestHasTriggerSignature(t *testing.T) {
	lib, _ := setupLibrary(t, time.Minute)
	ctx := context.Background()

	addSkill(t, lib, "deployer", "Deploy the Service")

	found, err := lib.HasTriggerSignature(ctx, TriggerSignature("service the deploy"))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = lib.HasTriggerSignature(ctx, TriggerSignature("restart worker"))
	require.NoError(t, err)
	assert.False(t, found)
}
