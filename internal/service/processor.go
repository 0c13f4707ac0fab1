package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/logger"
	"github.com/timmy/kbase/internal/repository"
	"github.com/timmy/kbase/internal/storage"
)

// Processing stage names recorded on failed documents.
const (
	StageFetch    = "fetch"
	StageConvert  = "convert"
	StageEmbed    = "embed"
	StageIndex    = "index"
	StageFinalize = "finalize"
)

const objectStoragePrefix = "s3://"

// DocumentStore is the metadata persistence contract for documents and
// chunks. The production implementation is the gorm document repository.
type DocumentStore interface {
	Create(ctx context.Context, doc *domain.Document) error
	Update(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByFingerprint(ctx context.Context, businessID, fingerprint string) (*domain.Document, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Document, error)
	ListByBusiness(ctx context.Context, businessID string, limit, offset int) ([]domain.Document, error)
	ListByBusinessAndStatus(ctx context.Context, businessID string, status domain.DocumentStatus) ([]domain.Document, error)
	CountByBusiness(ctx context.Context, businessID string) (int64, error)
	CountByBusinessAndStatus(ctx context.Context, businessID string, status domain.DocumentStatus) (int64, error)
	CountChunksByBusiness(ctx context.Context, businessID string) (int64, error)
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	Delete(ctx context.Context, id string) error
	DeleteByBusiness(ctx context.Context, businessID string) error
}

var _ DocumentStore = (*repository.DocumentRepository)(nil)

// BusinessStore is the metadata persistence contract for businesses.
type BusinessStore interface {
	Create(ctx context.Context, business *domain.Business) error
	GetByID(ctx context.Context, id string) (*domain.Business, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]domain.Business, error)
	Delete(ctx context.Context, id string) error
}

var _ BusinessStore = (*repository.BusinessRepository)(nil)

// ProcessorConfig holds configuration for document processing.
type ProcessorConfig struct {
	CollectionPrefix string
	RetryCount       int
	RetryBackoff     time.Duration
}

// DocumentProcessor runs the ingestion pipeline for one document: fetch,
// convert, chunk, embed, index, then metadata and relation updates. Only the
// final metadata step runs under the per-business lock.
type DocumentProcessor struct {
	docs       DocumentStore
	businesses BusinessStore
	index      VectorIndex
	embedding  EmbeddingProvider
	converter  Converter
	storage    storage.ObjectStorage
	relations  *RelationManager
	extractor  *EntityExtractor
	chunker    *Chunker
	locks      *KeyedMutex

	collectionPrefix string
	retryCount       int
	retryBackoff     time.Duration
}

// NewDocumentProcessor creates a document processor.
// Parameters:
//   - docs, businesses: metadata stores.
//   - index: vector engine adapter.
//   - embedding: embedding collaborator.
//   - converter: document conversion collaborator.
//   - objectStorage: optional source storage; nil limits sources to local paths.
//   - relations: relation manager for entity and graph updates.
//   - extractor: entity extractor.
//   - chunker: text chunker.
//   - locks: per-business lock set shared with the sync manager.
//   - cfg: processing configuration.
// Returns:
//   - *DocumentProcessor: initialized processor.
func NewDocumentProcessor(
	docs DocumentStore,
	businesses BusinessStore,
	index VectorIndex,
	embedding EmbeddingProvider,
	converter Converter,
	objectStorage storage.ObjectStorage,
	relations *RelationManager,
	extractor *EntityExtractor,
	chunker *Chunker,
	locks *KeyedMutex,
	cfg *ProcessorConfig,
) *DocumentProcessor {
	p := &DocumentProcessor{
		docs:             docs,
		businesses:       businesses,
		index:            index,
		embedding:        embedding,
		converter:        converter,
		storage:          objectStorage,
		relations:        relations,
		extractor:        extractor,
		chunker:          chunker,
		locks:            locks,
		collectionPrefix: "kb",
		retryCount:       3,
		retryBackoff:     500 * time.Millisecond,
	}
	if cfg != nil {
		if cfg.CollectionPrefix != "" {
			p.collectionPrefix = cfg.CollectionPrefix
		}
		if cfg.RetryCount > 0 {
			p.retryCount = cfg.RetryCount
		}
		if cfg.RetryBackoff > 0 {
			p.retryBackoff = cfg.RetryBackoff
		}
	}
	return p
}

// Process runs the full pipeline synchronously. The bool result is false
// when the source was already processed and nothing was re-indexed; the
// returned document is then the existing record.
func (p *DocumentProcessor) Process(ctx context.Context, businessID, sourceRef string) (*domain.Document, bool, error) {
	doc, data, existing, err := p.prepare(ctx, businessID, sourceRef)
	if err != nil {
		return nil, false, err
	}
	if existing {
		return doc, false, nil
	}
	if err := p.run(ctx, doc, data); err != nil {
		return doc, true, err
	}
	return doc, true, nil
}

// SubmitAsync creates the document record synchronously and runs the rest of
// the pipeline in a goroutine. The bool result is false when the source was
// already processed and no new work was started.
func (p *DocumentProcessor) SubmitAsync(ctx context.Context, businessID, sourceRef string) (*domain.Document, bool, error) {
	doc, data, existing, err := p.prepare(ctx, businessID, sourceRef)
	if err != nil {
		return nil, false, err
	}
	if existing {
		return doc, false, nil
	}

	// The pipeline keeps mutating doc; callers get a snapshot so the
	// response is never written to concurrently
	snapshot := *doc

	// Detach from the request lifetime but keep logger fields
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := p.run(bgCtx, doc, data); err != nil {
			logger.CtxError(bgCtx, "Document processing failed: document_id=%s, error=%v", doc.ID, err)
		}
	}()

	return &snapshot, true, nil
}

// prepare fetches the source, deduplicates by fingerprint, and creates the
// pending document record.
func (p *DocumentProcessor) prepare(ctx context.Context, businessID, sourceRef string) (*domain.Document, []byte, bool, error) {
	ok, err := p.businesses.Exists(ctx, businessID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to check business %s: %w", businessID, err)
	}
	if !ok {
		return nil, nil, false, fmt.Errorf("unknown business: %s", businessID)
	}

	var data []byte
	err = p.withRetry(ctx, func() error {
		var fetchErr error
		data, fetchErr = p.fetch(ctx, sourceRef)
		return fetchErr
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: %w", StageFetch, err)
	}

	sum := md5.Sum(data)
	fingerprint := hex.EncodeToString(sum[:])

	if existing, err := p.docs.GetByFingerprint(ctx, businessID, fingerprint); err == nil {
		if existing.Status == domain.DocumentStatusProcessed {
			logger.CtxInfo(ctx, "Skipping unchanged source: source_ref=%s, document_id=%s", sourceRef, existing.ID)
			return existing, nil, true, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, false, fmt.Errorf("failed to check fingerprint: %w", err)
	}

	doc := &domain.Document{
		ID:          uuid.New().String(),
		BusinessID:  businessID,
		SourceRef:   sourceRef,
		Fingerprint: fingerprint,
		Title:       sourceTitle(sourceRef),
		Status:      domain.DocumentStatusPending,
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		return nil, nil, false, fmt.Errorf("failed to create document record: %w", err)
	}

	return doc, data, false, nil
}

// run executes the convert, chunk, embed, index and finalize stages.
// Failures mark the document failed with the stage name; partial index
// writes are left for reconciliation to repair.
func (p *DocumentProcessor) run(ctx context.Context, doc *domain.Document, data []byte) error {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldBusinessID: doc.BusinessID,
		logger.FieldDocumentID: doc.ID,
		logger.FieldComponent:  "processor",
	})
	start := time.Now()

	text, err := p.convert(ctx, doc, data)
	if err != nil {
		return p.fail(ctx, doc, StageConvert, err)
	}
	doc.Text = text

	chunks := p.chunker.Chunk(text)

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		err = p.withRetry(ctx, func() error {
			var embedErr error
			vectors, embedErr = p.embedding.EmbedBatch(ctx, texts)
			return embedErr
		})
		if err != nil {
			return p.fail(ctx, doc, StageEmbed, err)
		}
	}

	collection := collectionName(p.collectionPrefix, doc.BusinessID)
	if err := p.index.EnsureCollection(ctx, collection, p.embedding.Dimensions()); err != nil {
		return p.fail(ctx, doc, StageIndex, err)
	}

	records := make([]domain.Chunk, len(chunks))
	points := make([]repository.VectorPoint, len(chunks))
	for i, c := range chunks {
		pointID := chunkPointID(doc.ID, c.Idx)
		records[i] = domain.Chunk{
			ID:            uuid.New().String(),
			DocumentID:    doc.ID,
			BusinessID:    doc.BusinessID,
			Idx:           c.Idx,
			Text:          c.Text,
			WindowContext: c.Window,
			VectorRef:     pointID,
		}
		points[i] = repository.VectorPoint{
			ID:     pointID,
			Vector: vectors[i],
			Payload: &repository.ChunkPayload{
				ChunkID:    records[i].ID,
				DocumentID: doc.ID,
				BusinessID: doc.BusinessID,
				Idx:        c.Idx,
				Text:       c.Text,
				Window:     c.Window,
			},
		}
	}

	err = p.withRetry(ctx, func() error {
		return p.index.UpsertPoints(ctx, collection, points)
	})
	if err != nil {
		return p.fail(ctx, doc, StageIndex, err)
	}

	terms := p.extractor.Extract(ctx, text)

	// Metadata and graph updates run under the per-business lock;
	// everything above happened outside it
	p.locks.Lock(doc.BusinessID)
	defer p.locks.Unlock(doc.BusinessID)

	if err := p.docs.ReplaceChunks(ctx, doc.ID, records); err != nil {
		return p.failLocked(ctx, doc, StageFinalize, err)
	}

	now := time.Now()
	doc.EntityTerms = termStrings(terms)
	doc.ChunkCount = len(records)
	doc.Status = domain.DocumentStatusProcessed
	doc.FailedStage = ""
	doc.IndexedAt = &now
	if err := p.docs.Update(ctx, doc); err != nil {
		return p.failLocked(ctx, doc, StageFinalize, err)
	}

	if err := p.relations.UpdateForDocument(ctx, doc.BusinessID, doc.ID, terms); err != nil {
		return p.failLocked(ctx, doc, StageFinalize, err)
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      len(records),
	}).Info(ctx, "Document processed: document_id=%s", doc.ID)

	return nil
}

// Reindex rebuilds the chunks and vectors of an existing document from its
// stored text. Used by reconciliation repair.
func (p *DocumentProcessor) Reindex(ctx context.Context, doc *domain.Document) error {
	collection := collectionName(p.collectionPrefix, doc.BusinessID)

	chunks := p.chunker.Chunk(doc.Text)

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		err := p.withRetry(ctx, func() error {
			var embedErr error
			vectors, embedErr = p.embedding.EmbedBatch(ctx, texts)
			return embedErr
		})
		if err != nil {
			return fmt.Errorf("%s: %w", StageEmbed, err)
		}
	}

	if err := p.index.EnsureCollection(ctx, collection, p.embedding.Dimensions()); err != nil {
		return fmt.Errorf("%s: %w", StageIndex, err)
	}
	if err := p.index.DeleteByDocument(ctx, collection, doc.ID); err != nil {
		return fmt.Errorf("%s: %w", StageIndex, err)
	}

	records := make([]domain.Chunk, len(chunks))
	points := make([]repository.VectorPoint, len(chunks))
	for i, c := range chunks {
		pointID := chunkPointID(doc.ID, c.Idx)
		records[i] = domain.Chunk{
			ID:            uuid.New().String(),
			DocumentID:    doc.ID,
			BusinessID:    doc.BusinessID,
			Idx:           c.Idx,
			Text:          c.Text,
			WindowContext: c.Window,
			VectorRef:     pointID,
		}
		points[i] = repository.VectorPoint{
			ID:     pointID,
			Vector: vectors[i],
			Payload: &repository.ChunkPayload{
				ChunkID:    records[i].ID,
				DocumentID: doc.ID,
				BusinessID: doc.BusinessID,
				Idx:        c.Idx,
				Text:       c.Text,
				Window:     c.Window,
			},
		}
	}

	err := p.withRetry(ctx, func() error {
		return p.index.UpsertPoints(ctx, collection, points)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageIndex, err)
	}

	if err := p.docs.ReplaceChunks(ctx, doc.ID, records); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}

	now := time.Now()
	doc.ChunkCount = len(records)
	doc.Status = domain.DocumentStatusProcessed
	doc.FailedStage = ""
	doc.IndexedAt = &now
	if err := p.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}

	return nil
}

// DeleteDocument removes a document, its vectors, and its entity
// attributions.
func (p *DocumentProcessor) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", documentID, err)
	}

	collection := collectionName(p.collectionPrefix, doc.BusinessID)
	if err := p.index.DeleteByDocument(ctx, collection, doc.ID); err != nil {
		return fmt.Errorf("failed to delete vectors for document %s: %w", doc.ID, err)
	}

	p.locks.Lock(doc.BusinessID)
	defer p.locks.Unlock(doc.BusinessID)

	if err := p.docs.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", doc.ID, err)
	}
	return p.relations.PurgeDocument(ctx, doc.BusinessID, doc.ID)
}

// fetch loads source bytes from object storage or the local filesystem.
func (p *DocumentProcessor) fetch(ctx context.Context, sourceRef string) ([]byte, error) {
	if strings.HasPrefix(sourceRef, objectStoragePrefix) {
		if p.storage == nil {
			return nil, fmt.Errorf("object storage not configured for %s", sourceRef)
		}
		key := strings.TrimPrefix(sourceRef, objectStoragePrefix)
		reader, err := p.storage.Download(ctx, key)
		if err != nil {
			return nil, domain.NewTransientError("processor.fetch", err)
		}
		defer reader.Close()
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, domain.NewTransientError("processor.fetch", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(sourceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sourceRef, err)
	}
	return data, nil
}

// convert routes image sources through the multimodal description path.
func (p *DocumentProcessor) convert(ctx context.Context, doc *domain.Document, data []byte) (string, error) {
	if format, ok := SniffImage(data); ok {
		var text string
		err := p.withRetry(ctx, func() error {
			var convErr error
			text, convErr = p.converter.DescribeImage(ctx, doc.Title, data, format)
			return convErr
		})
		return text, err
	}

	var text string
	err := p.withRetry(ctx, func() error {
		var convErr error
		text, convErr = p.converter.ExtractText(ctx, doc.Title, data)
		return convErr
	})
	return text, err
}

// fail marks the document failed at the given stage and returns the wrapped
// error. Callers must not hold the business lock.
func (p *DocumentProcessor) fail(ctx context.Context, doc *domain.Document, stage string, cause error) error {
	p.locks.Lock(doc.BusinessID)
	defer p.locks.Unlock(doc.BusinessID)
	return p.failLocked(ctx, doc, stage, cause)
}

// failLocked is fail for callers already holding the business lock.
func (p *DocumentProcessor) failLocked(ctx context.Context, doc *domain.Document, stage string, cause error) error {
	doc.Status = domain.DocumentStatusFailed
	doc.FailedStage = stage

	if err := p.docs.Update(ctx, doc); err != nil {
		logger.CtxError(ctx, "Failed to persist failure state: document_id=%s, error=%v", doc.ID, err)
	}

	return fmt.Errorf("%s: %w", stage, cause)
}

// withRetry retries fn with exponential backoff for transient failures only.
func (p *DocumentProcessor) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.retryCount; attempt++ {
		if attempt > 0 {
			backoff := p.retryBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil || !domain.IsTransient(err) {
			return err
		}
	}
	return err
}

// chunkPointID derives a stable point id from document and chunk index so
// retried upserts overwrite instead of duplicating.
func chunkPointID(documentID string, idx int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", documentID, idx))).String()
}

func sourceTitle(sourceRef string) string {
	return filepath.Base(strings.TrimPrefix(sourceRef, objectStoragePrefix))
}

func termStrings(terms []ScoredTerm) domain.StringArray {
	out := make(domain.StringArray, len(terms))
	for i, t := range terms {
		out[i] = t.Term
	}
	return out
}
