// Command engram starts the layered memory engine: it wires the cache,
// durable store, vector index and embedding provider into the retrieval
// router and runs the consolidation scheduler until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/cache"
	"github.com/engramlabs/engram/internal/config"
	"github.com/engramlabs/engram/internal/conflict"
	"github.com/engramlabs/engram/internal/consolidate"
	"github.com/engramlabs/engram/internal/embedding"
	"github.com/engramlabs/engram/internal/router"
	"github.com/engramlabs/engram/internal/search"
	"github.com/engramlabs/engram/internal/semantic"
	"github.com/engramlabs/engram/internal/service"
	"github.com/engramlabs/engram/internal/skills"
	"github.com/engramlabs/engram/internal/store"
	"github.com/engramlabs/engram/internal/vectordb/qdrant"
	"github.com/engramlabs/engram/internal/working"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Configuration load failed")
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Durable store open failed")
	}
	defer func() { _ = st.Close() }()

	redisClient := cache.NewRedisClient(cfg.Redis)
	defer func() { _ = redisClient.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("Redis unreachable, working memory degraded")
	}
	pingCancel()

	workingLayer := working.New(redisClient, cfg.Memory.WorkingCapacity, cfg.Memory.WorkingTTL, logger)
	semanticLayer := semantic.New(st, cfg.Memory.ReinforcementStep, logger)
	skillLibrary := skills.New(st, cfg.Memory.SkillDetailCacheTTL, logger)
	detector := conflict.NewDetector()

	searchEngine := buildSearchEngine(ctx, cfg, st, logger)

	queryRouter := router.New(workingLayer, semanticLayer, skillLibrary, searchEngine, cfg.Memory.DecayHalfLifeDays, logger)
	svc := service.New(st, workingLayer, skillLibrary, searchEngine, queryRouter, logger)
	_ = svc // consumed by the protocol layer mounted on top of this process

	pipeline := consolidate.NewPipeline(
		workingLayer, semanticLayer, skillLibrary, detector, st, searchEngine, redisClient,
		cfg.Memory.DecayHalfLifeDays, cfg.Memory.PruneFloor, logger)

	scheduler := consolidate.NewScheduler(pipeline, logger)
	if err := scheduler.Start(cfg.Memory.ConsolidateSchedule); err != nil {
		logger.WithError(err).Fatal("Scheduler start failed")
	}
	defer scheduler.Stop()

	// Startup pass drains anything left over from the previous process.
	go func() {
		if _, err := pipeline.Run(ctx); err != nil {
			logger.WithError(err).Warn("Startup consolidation failed")
		}
	}()

	logger.Info("Memory engine running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutting down")
	cancel()
}

// buildSearchEngine wires the hybrid engine when the vector backend and
// embedding provider are reachable. Either being down yields a lexical-only
// engine rather than a startup failure.
func buildSearchEngine(ctx context.Context, cfg *config.Config, st *store.Store, logger *logrus.Logger) *search.Engine {
	qdrantClient := qdrant.NewClient(cfg.Qdrant, logger)
	embedClient := embedding.NewClient(cfg.Embedding, logger)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var embedder search.Embedder
	if err := embedClient.HealthCheck(healthCtx); err != nil {
		logger.WithError(err).Warn("Embedding provider unreachable, dense retrieval disabled")
	} else {
		embedder = embedClient
	}

	engine, err := search.NewEngine(qdrantClient, st, embedder, search.Options{
		Collection:  cfg.Qdrant.Collection,
		Dimension:   cfg.Embedding.Dimension,
		RRFConstant: cfg.Memory.RRFConstant,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("Hybrid engine unavailable, retrieval is lexical-only")
		fallback, ferr := search.NewEngine(nil, st, nil, search.Options{
			Collection:  "engram_memories",
			Dimension:   cfg.Embedding.Dimension,
			RRFConstant: cfg.Memory.RRFConstant,
		}, logger)
		if ferr != nil {
			logger.WithError(ferr).Fatal("Lexical fallback engine construction failed")
		}
		return fallback
	}

	if err := engine.EnsureCollection(ctx); err != nil {
		logger.WithError(err).Warn("Vector collection unavailable, dense retrieval degraded")
	}
	return engine
}
