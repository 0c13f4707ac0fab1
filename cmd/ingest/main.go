package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/timmy/kbase/internal/config"
	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/logger"
	"github.com/timmy/kbase/internal/repository"
	"github.com/timmy/kbase/internal/service"
	"github.com/timmy/kbase/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "kbase-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	dir := flag.String("dir", "", "Directory of source files to ingest")
	businessID := flag.String("business", "", "Business ID to ingest into")
	workers := flag.Int("workers", 0, "Number of concurrent workers (0 uses config)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *dir == "" || *businessID == "" {
		appLogger.Fatal("Both -dir and -business are required")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	workerCount := cfg.Ingest.Workers
	if *workers > 0 {
		workerCount = *workers
	}

	appLogger.WithFields(logger.Fields{
		"dir":      *dir,
		"business": *businessID,
		"workers":  workerCount,
	}).Info("Starting ingestion")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
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
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Verify the target business exists
	if _, err := businessRepo.GetByID(ctx, *businessID); err != nil {
		appLogger.WithError(err).Fatal("Business not found")
	}

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
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
	}

	// Initialize services
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

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	// Collect source files
	var paths []string
	err = filepath.WalkDir(*dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to walk source directory")
	}

	// Dispatch to worker pool
	var processed, skipped, failed atomic.Int64
	jobs := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				_, started, err := processor.Process(ctx, *businessID, path)
				if err != nil {
					failed.Add(1)
					appLogger.WithError(err).WithField("path", path).Error("Failed to process document")
					continue
				}
				if !started {
					skipped.Add(1)
					continue
				}
				processed.Add(1)
			}
		}()
	}

loop:
	for _, path := range paths {
		select {
		case <-ctx.Done():
			break loop
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()

	appLogger.WithFields(logger.Fields{
		"total":     len(paths),
		"processed": processed.Load(),
		"skipped":   skipped.Load(),
		"failed":    failed.Load(),
	}).Info("Ingestion completed")
}
