package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"docuchat/internal/adapter/provider/llm/openai"
	"docuchat/internal/api"
	"docuchat/internal/db/postgres"
	redisdb "docuchat/internal/db/redis"
	"docuchat/internal/db/vector"
	"docuchat/internal/domain/chat"
	"docuchat/internal/domain/rag"
	"docuchat/internal/platform/config"
	applog "docuchat/internal/platform/log"
	"docuchat/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	defer applog.Sync()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	repo := postgres.NewRepository(db)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := repo.EnsureConversationTable(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure conversations table: %v", err)
	}
	if err := repo.EnsureDocumentTable(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure documents table: %v", err)
	}
	applog.Info("✅ Tables ready (conversations, documents)")

	redisClient := initRedis(cfg)

	index := initVectorIndex(&cfg.RAG)

	embedder := rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
		BaseURL:   cfg.OpenAI.BaseURL,
		APIKey:    cfg.OpenAI.APIKey,
		Model:     cfg.RAG.EmbeddingModel,
		Dims:      cfg.RAG.EmbeddingDims,
		BatchSize: cfg.RAG.EmbeddingBatchSize,
		Timeout:   time.Duration(cfg.RAG.EmbeddingTimeoutSeconds) * time.Second,
	})
	applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", embedder.Model(), cfg.RAG.EmbeddingDims)

	provider.RegisterProvider(openai.New(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	}))

	ingestLock := redisdb.NewIngestLock(redisClient, redisdb.IngestLockConfig{
		TTL:     time.Duration(cfg.Redis.LockTTLSeconds) * time.Second,
		Retry:   time.Duration(cfg.Redis.LockRetryMillis) * time.Millisecond,
		WaitMax: time.Duration(cfg.Redis.LockWaitMaxSeconds) * time.Second,
	})

	ingestor, err := rag.NewIngestor(index, repo, embedder, rag.NewParserRegistry(), ingestLock, &cfg.RAG)
	if err != nil {
		applog.Fatalf("❌ Failed to initialize ingestor: %v", err)
	}

	retriever := rag.NewRetriever(index, embedder, &cfg.RAG)

	store := chat.NewStore(repo, index, repo, embedder)

	if cfg.RAG.HasCache() {
		cache := redisdb.NewQueryCache(redisClient, cfg.RAG.CacheTTL)
		ingestor.SetCache(cache)
		retriever.SetCache(cache)
		store.SetCache(cache)
		applog.Infof("✅ Query cache initialized (TTL: %ds)", cfg.RAG.CacheTTL)
	}
	ingestor.SetUploadRecorder(store)

	generator := chat.NewLLMGenerator(chat.LLMGeneratorConfig{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
	})

	orchestrator := chat.NewOrchestrator(store, retriever, generator, chat.OrchestratorConfig{
		TopK:            cfg.RAG.DefaultTopK,
		MinSimilarity:   cfg.RAG.MinSimilarity,
		MaxContextChars: cfg.Generation.MaxContextChars,
		MaxHistoryTurns: cfg.Generation.MaxHistoryTurns,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.MaxUploadBytes = cfg.Server.MaxUploadBytes
	server := api.NewServer(serverConfig, store, orchestrator, ingestor, retriever, repo)

	stopReconcile := startReconcileLoop(ingestor, store, cfg.RAG.ReconcileIntervalSeconds)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		stopReconcile()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

func initRedis(cfg *config.AppConfig) *goredis.Client {
	opt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Fatalf("❌ Invalid REDIS_URL: %v", err)
	}

	client := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		applog.Fatalf("❌ Redis connection failed: %v", err)
	}
	applog.Info("✅ Connected to Redis")
	return client
}

func initVectorIndex(cfg *rag.Config) rag.VectorIndex {
	if cfg.VectorBackend == "http" {
		idx := vector.NewHTTPIndex(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := idx.Ping(ctx); err != nil {
			applog.Fatalf("❌ Vector index ping failed: %v", err)
		}
		applog.Infof("✅ Connected to vector index (%s)", cfg.VectorURL)
		return idx
	}

	applog.Info("✅ In-memory vector index initialized")
	return vector.NewMemoryIndex()
}

// startReconcileLoop 周期性清理孤儿向量，返回停止函数。
func startReconcileLoop(ingestor *rag.Ingestor, store *chat.Store, intervalSeconds int) func() {
	if intervalSeconds <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				reconcileAll(ingestor, store)
			}
		}
	}()
	return func() { close(done) }
}

func reconcileAll(ingestor *rag.Ingestor, store *chat.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	convs, err := store.List(ctx, 1000, 0)
	if err != nil {
		applog.Warnf("⚠️  Reconcile: list conversations failed: %v", err)
		return
	}

	removed := 0
	for _, conv := range convs {
		n, err := ingestor.Reconcile(ctx, conv.ID)
		if err != nil {
			applog.Warn("[RAG] Reconcile failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		removed += n
	}
	if removed > 0 {
		applog.Infof("🧹 Reconcile removed %d orphan vectors", removed)
	}
}
