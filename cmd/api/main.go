package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/agent"
	"github.com/product-agent/backend/internal/api/handlers"
	"github.com/product-agent/backend/internal/assembler"
	rediscache "github.com/product-agent/backend/internal/cache/redis"
	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/catalog/graph"
	"github.com/product-agent/backend/internal/conversation"
	"github.com/product-agent/backend/internal/embedding"
	"github.com/product-agent/backend/internal/llm"
	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/internal/middleware/ratelimit"
	"github.com/product-agent/backend/internal/middleware/security"
	"github.com/product-agent/backend/internal/middleware/validation"
	"github.com/product-agent/backend/internal/retrieval"
	"github.com/product-agent/backend/internal/storage/memory"
	"github.com/product-agent/backend/internal/storage/mongo"
	"github.com/product-agent/backend/internal/storage/sqlite"
	"github.com/product-agent/backend/internal/vector/milvus"
	"github.com/product-agent/backend/internal/vision"
	"github.com/product-agent/backend/pkg/config"
	appLogger "github.com/product-agent/backend/pkg/logger"
)

// backend is a generation backend that can also describe images.
type backend interface {
	llm.Generator
	llm.VisionBackend
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath, appLogger.Rotation{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting product agent API server", zap.String("brand", cfg.Brand.Name))

	metrics.Init()
	ctx := context.Background()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		appLogger.Fatal("Failed to load catalog", zap.Error(err))
	}

	guard, err := assembler.LoadGuard(cfg.Scope.IndicatorsPath)
	if err != nil {
		appLogger.Fatal("Failed to load scope rules", zap.Error(err))
	}

	gen, err := newBackend(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to create generation backend", zap.Error(err))
	}
	if closer, ok := gen.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	checks := map[string]handlers.Pinger{}

	var cache *rediscache.Client
	if cfg.Redis.Enabled {
		cache, err = rediscache.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
			checks["redis"] = cache
		}
	}

	engineOpts := []agent.Option{
		agent.WithBrandID(cfg.Brand.ID),
		agent.WithGenerationTimeout(time.Duration(cfg.LLM.TimeoutSec) * time.Second),
	}

	if cfg.Retrieval.Enabled {
		if r, closeIndex := newRetriever(ctx, cfg, cache); r != nil {
			defer closeIndex()
			engineOpts = append(engineOpts, agent.WithRetriever(r))
		}
	}

	if cfg.Vision.Enabled {
		visionOpts := []vision.Option{
			vision.WithMaxImages(cfg.Vision.MaxImages),
			vision.WithDefaultConfidence(cfg.Vision.DefaultConfidence),
		}
		if cache != nil {
			visionOpts = append(visionOpts, vision.WithCache(cache, 24*time.Hour))
		}
		engineOpts = append(engineOpts, agent.WithImageAnalyzer(vision.NewExtractor(gen, visionOpts...)))
	}

	store, events, closeStore := newStore(ctx, cfg)
	defer closeStore()
	checks["conversations"] = store
	if events != nil {
		engineOpts = append(engineOpts, agent.WithEventRecorder(events))
	}

	if cfg.Neo4j.Enabled {
		g, err := graph.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, variants come from the catalog", zap.Error(err))
		} else {
			defer g.Close(context.Background())
			if err := g.Sync(ctx, cat); err != nil {
				appLogger.Warn("Failed to sync catalog graph", zap.Error(err))
			}
			engineOpts = append(engineOpts, agent.WithVariantGraph(g))
		}
	}

	asm := assembler.New(guard,
		assembler.WithBrand(cfg.Brand.Name),
		assembler.WithHistoryLimit(cfg.Conversation.HistoryLimit),
		assembler.WithLowConfidence(cfg.Vision.LowConfidenceCutoff),
	)
	engine := agent.NewEngine(cat, asm, gen, store, engineOpts...)

	go reloadOnHangup(guard, cfg.Scope.IndicatorsPath)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	headers := security.HeadersConfig{
		AllowedOrigins: security.ParseOrigins(cfg.Server.CORSOrigins),
		IsDevelopment:  cfg.Server.Environment == "development",
	}
	limiter := ratelimit.New(ratelimit.Config{
		Rate:     cfg.RateLimit.Rate,
		Capacity: cfg.RateLimit.Capacity,
		Logger:   appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.CORS(headers))
	app.Use(security.HeadersMiddleware(headers))

	app.Get("/health", handlers.NewHealthHandler(nil).Health)
	app.Get("/ready", handlers.NewHealthHandler(checks).Ready)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}),
	)

	handlers.Routes{
		Chat:      handlers.NewChatHandler(engine, cfg.Vision.MaxImages, cfg.Vision.MaxImageBytes),
		Sessions:  handlers.NewSessionHandler(engine),
		Catalog:   handlers.NewCatalogHandler(cat, engine),
		Room:      handlers.NewRoomHandler(vision.NewRoomAdvisor(gen, gen, cfg.Brand.Name), cat, cfg.Vision.MaxImageBytes),
		WebSocket: handlers.NewWebSocketHandler(engine),
		Health:    handlers.NewHealthHandler(checks),
	}.Register(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Shutdown did not complete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func newBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSec) * time.Second
	switch cfg.LLM.Provider {
	case "vertex":
		return llm.NewVertexClient(ctx, llm.VertexConfig{
			ProjectID:   cfg.Vertex.ProjectID,
			Location:    cfg.Vertex.Location,
			Model:       cfg.LLM.Model,
			VisionModel: cfg.LLM.VisionModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     timeout,
		})
	default:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			VisionModel: cfg.LLM.VisionModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     timeout,
		}), nil
	}
}

// newRetriever returns nil when the vector index is unreachable; the service
// then answers from catalog data alone.
func newRetriever(ctx context.Context, cfg *config.Config, cache *rediscache.Client) (*retrieval.Retriever, func()) {
	embedder, err := newEmbedder(cfg, cache)
	if err != nil {
		appLogger.Warn("Embedder unavailable, retrieval disabled", zap.Error(err))
		return nil, nil
	}

	index, err := milvus.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName, cfg.Embedding.Dimension)
	if err != nil {
		appLogger.Warn("Vector index unavailable, retrieval disabled", zap.Error(err))
		return nil, nil
	}
	if err := index.EnsureCollection(ctx); err != nil {
		appLogger.Warn("Vector collection unavailable, retrieval disabled", zap.Error(err))
		_ = index.Close()
		return nil, nil
	}

	r := retrieval.New(index, embedder,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithTimeout(time.Duration(cfg.Retrieval.TimeoutSec)*time.Second),
	)
	return r, func() { _ = index.Close() }
}

func newEmbedder(cfg *config.Config, cache *rediscache.Client) (embedding.Embedder, error) {
	embedder, err := embedding.FromConfig(cfg.Embedding, cfg.LLM)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		embedder = embedding.NewCached(embedder, cache, time.Duration(cfg.Embedding.CacheTTL)*time.Second)
	}
	return embedder, nil
}

// newStore opens the configured conversation backend behind the in-memory
// fallback. The returned recorder is nil when the backend keeps no analytics.
func newStore(ctx context.Context, cfg *config.Config) (conversation.Store, agent.EventRecorder, func()) {
	mem := memory.NewStore(memory.DefaultTTL)

	switch cfg.Conversation.Backend {
	case "sqlite":
		client, err := sqlite.NewClient(cfg.SQLite.Path)
		if err == nil {
			err = client.InitSchema()
		}
		if err != nil {
			appLogger.Error("SQLite unavailable, conversations kept in memory", zap.Error(err))
			return mem, nil, func() {}
		}
		return conversation.NewFallback(client, mem), client, func() { _ = client.Close() }

	case "mongo":
		client, err := mongo.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			appLogger.Error("MongoDB unavailable, conversations kept in memory", zap.Error(err))
			return mem, nil, func() {}
		}
		return conversation.NewFallback(client, mem), client, func() { _ = client.Close(context.Background()) }

	default:
		return mem, nil, func() {}
	}
}

func reloadOnHangup(guard *assembler.Guard, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := guard.Reload(path); err != nil {
			appLogger.Error("Failed to reload scope rules", zap.Error(err))
			continue
		}
		appLogger.Info("Scope rules reloaded", zap.String("path", path))
	}
}
