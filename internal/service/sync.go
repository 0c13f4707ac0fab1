package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/logger"
	"github.com/timmy/kbase/internal/repository"
)

// SyncManager detects and repairs drift between the metadata store and the
// vector index. At most one reconciliation runs per business at a time.
type SyncManager struct {
	docs       DocumentStore
	businesses BusinessStore
	index      VectorIndex
	processor  *DocumentProcessor
	locks      *KeyedMutex

	collectionPrefix string
}

// NewSyncManager creates a sync manager. The lock set must be the same
// instance the processor uses so repair never races document finalization.
func NewSyncManager(
	docs DocumentStore,
	businesses BusinessStore,
	index VectorIndex,
	processor *DocumentProcessor,
	locks *KeyedMutex,
	collectionPrefix string,
) *SyncManager {
	if collectionPrefix == "" {
		collectionPrefix = "kb"
	}
	return &SyncManager{
		docs:             docs,
		businesses:       businesses,
		index:            index,
		processor:        processor,
		locks:            locks,
		collectionPrefix: collectionPrefix,
	}
}

// Reconcile scans one business for drift and repairs it.
// Processed documents with missing or incomplete points are re-indexed;
// points whose document failed or no longer exists are deleted. Returns
// domain.ErrReconcileInProgress when a reconciliation already holds the
// business lock.
func (s *SyncManager) Reconcile(ctx context.Context, businessID string) (*domain.SyncReport, error) {
	ok, err := s.businesses.Exists(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to check business %s: %w", businessID, err)
	}
	if !ok {
		return nil, fmt.Errorf("unknown business: %s", businessID)
	}

	if !s.locks.TryLock(businessID) {
		return nil, domain.ErrReconcileInProgress
	}
	defer s.locks.Unlock(businessID)

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldBusinessID: businessID,
		logger.FieldComponent:  "sync",
	})

	report := &domain.SyncReport{
		BusinessID: businessID,
		StartedAt:  time.Now(),
	}

	collection := collectionName(s.collectionPrefix, businessID)
	exists, err := s.index.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}

	var points []repository.PointRef
	if exists {
		points, err = s.index.ListPoints(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to list points for %s: %w", collection, err)
		}
	}
	report.IndexedPoints = len(points)

	pointsByDoc := make(map[string]int)
	for _, p := range points {
		pointsByDoc[p.DocumentID]++
	}

	processed, err := s.docs.ListByBusinessAndStatus(ctx, businessID, domain.DocumentStatusProcessed)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for %s: %w", businessID, err)
	}
	report.ScannedDocuments = len(processed)

	knownDocs := make(map[string]bool, len(processed))
	for i := range processed {
		doc := &processed[i]
		knownDocs[doc.ID] = true

		if pointsByDoc[doc.ID] == doc.ChunkCount {
			continue
		}
		report.MissingDocuments = append(report.MissingDocuments, doc.ID)

		if err := s.processor.Reindex(ctx, doc); err != nil {
			logger.CtxError(ctx, "Failed to repair document: document_id=%s, error=%v", doc.ID, err)
			continue
		}
		report.RepairedDocuments++
	}

	// Points of pending documents belong to in-flight processing and are
	// left alone. Points of failed documents are partial writes from an
	// aborted run; together with points that have no document record at
	// all they are orphans and get deleted.
	orphanDocIDs := make([]string, 0)
	orphanCounts := make(map[string]int)
	for docID, count := range pointsByDoc {
		if knownDocs[docID] {
			continue
		}
		if doc, err := s.docs.GetByID(ctx, docID); err == nil {
			if doc.Status != domain.DocumentStatusFailed {
				continue
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to check document %s: %w", docID, err)
		}
		orphanDocIDs = append(orphanDocIDs, docID)
		orphanCounts[docID] = count
	}

	for _, docID := range orphanDocIDs {
		if err := s.index.DeleteByDocument(ctx, collection, docID); err != nil {
			logger.CtxError(ctx, "Failed to delete orphan points: document_id=%s, error=%v", docID, err)
			continue
		}
		report.OrphanDocuments = append(report.OrphanDocuments, docID)
		report.DeletedPoints += orphanCounts[docID]
	}

	report.FinishedAt = time.Now()

	logger.With(logger.Fields{
		logger.FieldDurationMs: report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
		logger.FieldCount:      report.ScannedDocuments,
	}).Info(ctx, "Reconciliation finished: repaired=%d, orphans=%d, deleted_points=%d",
		report.RepairedDocuments, len(report.OrphanDocuments), report.DeletedPoints)

	return report, nil
}

// ReconcileAll reconciles every business sequentially. Businesses whose
// reconciliation is already running are skipped.
func (s *SyncManager) ReconcileAll(ctx context.Context) ([]*domain.SyncReport, error) {
	businesses, err := s.businesses.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}

	reports := make([]*domain.SyncReport, 0, len(businesses))
	for _, b := range businesses {
		report, err := s.Reconcile(ctx, b.ID)
		if err != nil {
			if errors.Is(err, domain.ErrReconcileInProgress) {
				logger.CtxWarn(ctx, "Skipping business with reconciliation in progress: business_id=%s", b.ID)
				continue
			}
			return reports, fmt.Errorf("reconciliation failed for business %s: %w", b.ID, err)
		}
		reports = append(reports, report)
	}

	return reports, nil
}
