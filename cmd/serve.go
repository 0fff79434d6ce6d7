package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carematch/matchengine/internal/adapter/ai"
	"github.com/carematch/matchengine/internal/adapter/store"
	"github.com/carematch/matchengine/internal/handler"
	"github.com/carematch/matchengine/internal/index"
	"github.com/carematch/matchengine/internal/logger"
	"github.com/carematch/matchengine/internal/middleware"
	"github.com/carematch/matchengine/internal/port"
	"github.com/carematch/matchengine/internal/service"
	"github.com/carematch/matchengine/pkg/config"

	_ "github.com/lib/pq"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recommendation HTTP service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting matchengine",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("ollama", cfg.OllamaURL),
		zap.Int("dimension", cfg.EmbeddingDimension),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		embStore port.EmbeddingStore
		eligSrc  port.EligibilitySource
	)
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		embStore = pg
		eligSrc = store.NewPostgresEligibilitySource(pg)
	default:
		embStore = store.NewMemoryStore()
		eligSrc = store.NewStaticEligibilitySource()
	}

	provider := ai.NewOllamaProvider(ai.Config{
		BaseURL:           cfg.OllamaURL,
		Model:             cfg.OllamaModel,
		Token:             cfg.OllamaToken,
		Dimension:         cfg.EmbeddingDimension,
		MaxInputChars:     cfg.MaxInputChars,
		RequestsPerSecond: cfg.OllamaRPS,
		Timeout:           cfg.OllamaTimeout,
	})

	idx, err := index.New(index.Config{
		Dimension:            cfg.EmbeddingDimension,
		ExactSearchThreshold: cfg.ExactSearchThreshold,
		M:                    cfg.HNSWM,
		EFConstruction:       cfg.HNSWEFConstruction,
		EFSearch:             cfg.HNSWEFSearch,
		RandomSeed:           cfg.RandomSeed,
	})
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	coordinator := service.NewCoordinator(embStore, provider, idx, service.CoordinatorConfig{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}, log)
	coordinator.Start(ctx)

	// The index is a derived cache; reconstruct it before serving.
	if err := coordinator.Rebuild(ctx); err != nil {
		return fmt.Errorf("startup rebuild: %w", err)
	}

	elig := service.NewEligibilityCache(eligSrc, cfg.EligibilityTTL)
	recommender := service.NewRecommender(embStore, idx, elig, service.RecommenderConfig{
		JobsK:        cfg.JobsK,
		CandidatesK:  cfg.CandidatesK,
		QueryTimeout: cfg.QueryTimeout,
	}, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "X-Caller-ID"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))
	app.Use(middleware.CallerIdentity())

	api := app.Group("/api/v1")
	handler.NewHealthHandler(embStore, idx).Register(api)
	handler.NewEmbeddingHandler(provider, log).Register(api)
	handler.NewRecommendHandler(recommender, log).Register(api)
	handler.NewEntityHandler(coordinator, embStore, log).Register(api)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	coordinator.WaitIdle()
	return nil
}
