package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/neottil/ditto/cache"
	"github.com/neottil/ditto/config"
	"github.com/neottil/ditto/dao"
	"github.com/neottil/ditto/db"
	"github.com/neottil/ditto/facade"
	"github.com/neottil/ditto/flow"
	"github.com/neottil/ditto/index"
	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/util"
)

const invalidationChannel = "enforcer-cache-invalidation"

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	// Initialize logger
	logger.InitLogger()
	defer logger.Sync()

	// Initialize Redis
	if err := db.InitRedis(); err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer db.CloseRedis()

	// Initialize Neo4j
	if err := db.InitNeo4j(); err != nil {
		logger.Fatal("Failed to initialize Neo4j", zap.Error(err))
	}
	defer db.CloseNeo4j()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Enforcer cache fed by the Neo4j policy loader, kept consistent
	// cluster-wide through the Redis invalidation channel
	policyDAO := dao.NewPolicyDAO(
		db.Neo4jDriver,
		config.GetInt("stream.retrieveAttempts"),
		config.GetDuration("stream.cacheRetryDelay"),
	)
	enforcerCache := cache.New(policyDAO.Load, cache.Options{
		TTL:      config.GetDuration("cache.ttl"),
		ErrorTTL: config.GetDuration("cache.errorTTL"),
		MaxSize:  config.GetInt("cache.maxSize"),
	})
	cache.SubscribeInvalidations(ctx, db.RedisClient, invalidationChannel, enforcerCache)

	// Entity retrieval facade with Redis-cached base projections
	entityDAO := dao.NewEntityDAO(db.Neo4jDriver)
	entityFacade := facade.NewCachingFacade(db.RedisClient, entityDAO, config.GetDuration("redis.defaultCacheTTL"))

	// Index writer
	indexWriter, err := index.NewWriter(config.GetString("elasticsearch.url"), config.GetString("elasticsearch.index"))
	if err != nil {
		logger.Fatal("Failed to initialize index writer", zap.Error(err))
	}

	// Initialize EventBus
	eventBus := util.NewEventBus()
	eventBus.Start(ctx)

	enforcementFlow := flow.NewEnforcementFlow(entityFacade, enforcerCache, indexWriter, flow.Options{
		Parallelism:      config.GetInt("stream.parallelism"),
		MaxBulkSize:      config.GetInt("stream.maxBulkSize"),
		RetrieveAttempts: config.GetInt("stream.retrieveAttempts"),
		CacheRetryDelay:  config.GetDuration("stream.cacheRetryDelay"),
	})

	changes := eventBus.ChangeStream(ctx, config.GetInt("stream.maxBulkSize"))
	flowDone := make(chan error, 1)
	go func() {
		flowDone <- enforcementFlow.Run(ctx, changes)
	}()

	logger.Info("Search updater started")

	// Wait for interrupt signal to gracefully shut down the updater
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("Shutting down search updater...")
		cancel()
		if err := <-flowDone; err != nil {
			logger.Error("Enforcement flow terminated with error", zap.Error(err))
		}
	case err := <-flowDone:
		if err != nil {
			logger.Fatal("Enforcement flow failed", zap.Error(err))
		}
	}

	logger.Info("Search updater exiting")
}
