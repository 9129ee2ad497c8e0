// Package config loads engine configuration from environment variables.
// Values are validated for presence only; deeper input validation happens at
// the engine boundary before anything touches a store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all engine configuration.
type Config struct {
	Redis     RedisConfig
	Database  DatabaseConfig
	Qdrant    QdrantConfig
	Embedding EmbeddingConfig
	Memory    MemoryConfig
}

// RedisConfig configures the working-memory cache backend.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns the host:port address for the Redis client.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// DatabaseConfig configures the embedded SQLite durable store.
type DatabaseConfig struct {
	Path string
}

// QdrantConfig configures the vector index backend.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// EmbeddingConfig configures the external embedding provider.
type EmbeddingConfig struct {
	URL       string
	Dimension int
	Timeout   time.Duration
}

// MemoryConfig holds the tunables of the memory layers.
type MemoryConfig struct {
	WorkingCapacity     int           // max entries per namespace
	WorkingTTL          time.Duration // cache TTL for working memory entries
	DecayHalfLifeDays   float64       // relationship strength half-life
	PruneFloor          float64       // relationships below this strength are pruned
	ReinforcementStep   float64       // strength added per reinforcement
	RRFConstant         int           // k in reciprocal rank fusion
	SkillDetailCacheTTL time.Duration // TTL for cached full skill records
	ConsolidateSchedule string        // cron spec for consolidation runs
}

// Load reads configuration from the environment. A .env file is honored when
// present so local runs match the deployed layout.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Path: getEnv("ENGRAM_DB_PATH", "engram.db"),
		},
		Qdrant: QdrantConfig{
			URL:        getEnv("QDRANT_URL", "http://localhost:6333"),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			Collection: getEnv("QDRANT_COLLECTION", "engram_memories"),
			Timeout:    getDurationEnv("QDRANT_TIMEOUT", 10*time.Second),
		},
		Embedding: EmbeddingConfig{
			URL:       getEnv("EMBEDDING_URL", "http://localhost:8000"),
			Dimension: getIntEnv("EMBEDDING_DIMENSION", 1024),
			Timeout:   getDurationEnv("EMBEDDING_TIMEOUT", 10*time.Second),
		},
		Memory: MemoryConfig{
			WorkingCapacity:     getIntEnv("WORKING_MEMORY_CAPACITY", 5),
			WorkingTTL:          getDurationEnv("WORKING_MEMORY_TTL", 7*24*time.Hour),
			DecayHalfLifeDays:   getFloatEnv("DECAY_HALF_LIFE_DAYS", 30),
			PruneFloor:          getFloatEnv("PRUNE_FLOOR", 0.1),
			ReinforcementStep:   getFloatEnv("REINFORCEMENT_STEP", 0.1),
			RRFConstant:         getIntEnv("RRF_CONSTANT", 60),
			SkillDetailCacheTTL: getDurationEnv("SKILL_DETAIL_CACHE_TTL", 5*time.Minute),
			ConsolidateSchedule: getEnv("CONSOLIDATE_SCHEDULE", "@every 1h"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Database.Path == "" {
		missing = append(missing, "ENGRAM_DB_PATH")
	}
	if c.Redis.Host == "" {
		missing = append(missing, "REDIS_HOST")
	}
	if c.Embedding.Dimension <= 0 {
		missing = append(missing, "EMBEDDING_DIMENSION")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
