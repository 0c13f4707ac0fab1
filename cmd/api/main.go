package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/kbase/internal/api"
	"github.com/timmy/kbase/internal/api/middleware"
	"github.com/timmy/kbase/internal/config"
	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/logger"
	"github.com/timmy/kbase/internal/repository"
	"github.com/timmy/kbase/internal/service"
	"github.com/timmy/kbase/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// Initialize logger
	log := logger.NewDefault()
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// Initialize repositories
	businessRepo := repository.NewBusinessRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	entityRepo := repository.NewEntityRepository(db)

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		logger.Fatal("Failed to initialize Qdrant repository: %v", err)
	}
	defer qdrantRepo.Close()

	ctx := context.Background()

	// Initialize optional object storage for s3:// sources
	var objectStorage storage.ObjectStorage
	if cfg.Storage.Enabled {
		objectStorage, err = storage.NewStorage(&storage.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			logger.Fatal("Failed to ensure storage bucket: %v", err)
		}
	}

	// Initialize collaborator services
	embeddingService := service.NewEmbeddingService(&service.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
	})

	converterService := service.NewConverterService(&service.ConverterConfig{
		Model:   cfg.Converter.Model,
		APIKey:  cfg.Converter.APIKey,
		BaseURL: cfg.Converter.BaseURL,
	})

	generationService := service.NewGenerationService(&service.GenerationConfig{
		Enabled: cfg.Generation.Enabled,
		Model:   cfg.Generation.Model,
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
	})
	if generationService.IsEnabled() {
		logger.Info("Answer generation enabled: model=%s", cfg.Generation.Model)
	}

	// Initialize core services
	extractor := service.NewEntityExtractor(&service.ExtractorConfig{
		Method:        domain.ParseExtractionMethod(cfg.Extraction.Method),
		MaxEntities:   cfg.Extraction.MaxEntities,
		MaxDFRatio:    cfg.Extraction.MaxDFRatio,
		MaxInputRunes: cfg.Extraction.MaxInputRunes,
	})
	chunker := service.NewChunker(cfg.Process.ChunkSize, cfg.Process.ChunkOverlap)
	locks := service.NewKeyedMutex()
	relations := service.NewRelationManager(entityRepo)

	processor := service.NewDocumentProcessor(
		documentRepo,
		businessRepo,
		qdrantRepo,
		embeddingService,
		converterService,
		objectStorage,
		relations,
		extractor,
		chunker,
		locks,
		&service.ProcessorConfig{
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
			RetryCount:       cfg.Process.RetryCount,
			RetryBackoff:     cfg.Process.RetryBackoff,
		},
	)

	searchEngine := service.NewHybridSearchEngine(
		documentRepo,
		businessRepo,
		qdrantRepo,
		embeddingService,
		extractor,
		relations,
		cfg.Qdrant.CollectionPrefix,
		service.SearchConfig{
			TopK:              cfg.Search.TopK,
			RRFK:              cfg.Search.RRFK,
			MaxRelated:        cfg.Search.MaxRelated,
			MinRelationWeight: cfg.Search.MinRelationWeight,
			ExpandRelated:     cfg.Search.ExpandRelated,
		},
	)

	queryEngine := service.NewQueryEngine(searchEngine, generationService)
	syncManager := service.NewSyncManager(documentRepo, businessRepo, qdrantRepo, processor, locks, cfg.Qdrant.CollectionPrefix)
	businessService := service.NewBusinessService(businessRepo, documentRepo, entityRepo, relations, qdrantRepo, locks, cfg.Qdrant.CollectionPrefix)

	// Setup router
	router := api.SetupRouter(
		&api.Services{
			Business:  businessService,
			Processor: processor,
			Documents: documentRepo,
			Search:    searchEngine,
			Query:     queryEngine,
			Sync:      syncManager,
		},
		log,
		cfg.Server.Mode,
		middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
