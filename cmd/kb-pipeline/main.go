// Package main runs the document ingestion pipeline as a standalone
// process: no HTTP layer, per spec's own scope (an HTTP/REST surface would
// sit in front of this as a separate, unbuilt component).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"kb-pipeline/internal/blobstore"
	"kb-pipeline/internal/config"
	"kb-pipeline/internal/embedding"
	"kb-pipeline/internal/logging"
	"kb-pipeline/internal/manager"
	"kb-pipeline/internal/metadatastore"
	"kb-pipeline/internal/taskqueue"
	"kb-pipeline/internal/textconverter"
	"kb-pipeline/internal/vectorindex"
)

func main() {
	envPath := filepath.Join(".", ".env")
	if err := godotenv.Load(envPath); err != nil {
		if os.Getenv("GO_ENV") != "production" {
			log.Printf("Note: no .env file found at %s (this is optional)", envPath)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	cfg := config.Load()
	logger := logging.New("kb-pipeline")

	logger.Info("starting ingestion pipeline, data dir %s", cfg.DataDir)

	blob, err := blobstore.NewLocalStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("kb-pipeline: init blob store: %v", err)
	}

	meta, err := metadatastore.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("kb-pipeline: init metadata store: %v", err)
	}
	defer meta.Close()

	embedder := embedding.New(embedding.Config{
		BaseURL:   cfg.OllamaAPIURL,
		ModelName: cfg.OllamaModelName,
		Logger:    logger,
	})

	transport := vectorindex.NewTransport(vectorindex.TransportConfig{
		Host:     cfg.ChromaHost,
		Port:     cfg.ChromaPort,
		Tenant:   cfg.ChromaTenant,
		Database: cfg.ChromaDatabase,
	})
	vindex := vectorindex.New(transport, embedder)
	defer vindex.Close()

	converter := textconverter.NewTikaStrategy(cfg.TikaServerURL, logger)

	queue := newTaskQueue(cfg, logger)

	mgrCfg := manager.DefaultConfig()
	mgrCfg.Concurrency = cfg.WorkerConcurrency
	mgrCfg.ChunkSize = cfg.ChunkSize
	mgrCfg.ChunkOverlap = cfg.ChunkOverlap

	mgr := manager.New(blob, meta, vindex, embedder, converter, queue, logger, mgrCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)
	logger.Info("worker pool started with concurrency %d", mgrCfg.Concurrency)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining workers")
	mgr.Shutdown()
	logger.Info("ingestion pipeline stopped")
}

// newTaskQueue builds the Redis-backed queue when KB_QUEUE_BACKEND=redis is
// set, else the default in-process queue — the substitution point named in
// spec §9's "pluggable queue interface" design note.
func newTaskQueue(cfg *config.Config, logger logging.Logger) taskqueue.TaskQueue {
	if os.Getenv("KB_QUEUE_BACKEND") != "redis" {
		return taskqueue.NewInMemoryQueue()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisHost + ":" + strconv.Itoa(cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info("using redis-backed task queue at %s:%d", cfg.RedisHost, cfg.RedisPort)
	return taskqueue.NewRedisQueue(client, context.Background())
}
