package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "engram.db", cfg.Database.Path)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, 5, cfg.Memory.WorkingCapacity)
	assert.Equal(t, 7*24*time.Hour, cfg.Memory.WorkingTTL)
	assert.Equal(t, 60, cfg.Memory.RRFConstant)
	assert.Equal(t, 5*time.Minute, cfg.Memory.SkillDetailCacheTTL)
	assert.Equal(t, "@every 1h", cfg.Memory.ConsolidateSchedule)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("WORKING_MEMORY_CAPACITY", "12")
	t.Setenv("WORKING_MEMORY_TTL", "48h")
	t.Setenv("DECAY_HALF_LIFE_DAYS", "14.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr())
	assert.Equal(t, 12, cfg.Memory.WorkingCapacity)
	assert.Equal(t, 48*time.Hour, cfg.Memory.WorkingTTL)
	assert.Equal(t, 14.5, cfg.Memory.DecayHalfLifeDays)
}

func TestLoad_MalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("WORKING_MEMORY_CAPACITY", "lots")
	t.Setenv("WORKING_MEMORY_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Memory.WorkingCapacity)
	assert.Equal(t, 7*24*time.Hour, cfg.Memory.WorkingTTL)
}
