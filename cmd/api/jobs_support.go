package main

import (
	"context"
	"fmt"
	"log"

	redis "github.com/redis/go-redis/v9"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/cache"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/config"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/document"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/grobid"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/jobs"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/llm"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/metrics"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/storage"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/tei"
)

// runtime holds the long-lived components shared by the commands.
type runtime struct {
	cfg       *config.Config
	redis     *redis.Client
	records   *cache.Store[jobs.Record]
	uploads   *storage.Local
	manager   *jobs.Manager
	pruner    *jobs.Pruner
	documents *document.Service
	metrics   *metrics.Collector
	logger    *log.Logger
}

func setupRuntime(ctx context.Context, cfg *config.Config, logger *log.Logger) (*runtime, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	rt, err := buildRuntime(ctx, cfg, rdb, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rt, nil
}

// buildRuntime wires every component onto rdb. opts are applied to the record
// cache after the defaults.
func buildRuntime(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *log.Logger, opts ...cache.Option[jobs.Record]) (*runtime, error) {
	collector := metrics.NewCollector()

	uploads, err := storage.NewLocal(cfg.UploadDir, cfg.MaxFileSize, collector, logger)
	if err != nil {
		return nil, err
	}

	cacheOpts := append([]cache.Option[jobs.Record]{
		cache.WithRetain[jobs.Record](jobs.RetainProcessing),
		cache.WithSweepInterval[jobs.Record](cfg.CacheSweepInterval),
		cache.WithEvict(func(key string, r jobs.Record) {
			logger.Printf("record expired key=%s status=%s", key, r.Status)
			if err := uploads.ReapKey(key, jobs.ReapExpiry); err != nil {
				logger.Printf("artifact cleanup on expiry failed key=%s: %v", key, err)
			}
		}),
	}, opts...)
	records := cache.New[jobs.Record](cfg.CacheTTL, cacheOpts...)
	store := jobs.NewStore(records)
	collector.RegisterCacheSize(store.Len)

	processor, err := jobs.NewProcessor(jobs.ProcessorOptions{
		Store:     store,
		Extractor: grobid.NewClient(cfg.GrobidURL, cfg.ExtractTimeout, logger),
		Parser:    tei.NewParser(logger),
		Reaper:    uploads,
		Metrics:   collector,
		Logger:    logger,
		Timeout:   cfg.ExtractTimeout,
	})
	if err != nil {
		return nil, err
	}

	manager, err := jobs.NewManager(cfg, rdb, store, processor, collector, logger)
	if err != nil {
		return nil, err
	}
	pruner := jobs.NewPruner(manager.Inspector(), manager.Queue(), cfg.CompletedRetention, cfg.FailedRetention, collector, logger)

	gemini, err := llm.NewGemini(ctx, llm.Config{
		APIKey:          cfg.GeminiAPIKey,
		Model:           cfg.GeminiModel,
		BaseURL:         cfg.GeminiBaseURL,
		MaxSectionChars: cfg.MaxSectionChars,
	}, logger)
	if err != nil {
		return nil, err
	}

	documents, err := document.NewService(document.ServiceOptions{
		Uploads:       uploads,
		Jobs:          manager,
		Completer:     gemini,
		ContextBudget: cfg.MaxContextChars,
		Metrics:       collector,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		redis:     rdb,
		records:   records,
		uploads:   uploads,
		manager:   manager,
		pruner:    pruner,
		documents: documents,
		metrics:   collector,
		logger:    logger,
	}, nil
}

// close releases what setupRuntime opened. Workers and the pruner are stopped by serve.
func (rt *runtime) close() {
	rt.records.Close()
	if err := rt.redis.Close(); err != nil {
		rt.logger.Printf("redis close failed: %v", err)
	}
}
