package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/logger"
)

// BusinessService manages the business lifecycle and per-business stats.
type BusinessService struct {
	businesses BusinessStore
	docs       DocumentStore
	entities   EntityStore
	relations  *RelationManager
	index      VectorIndex
	locks      *KeyedMutex

	collectionPrefix string
}

// NewBusinessService creates a business service.
func NewBusinessService(
	businesses BusinessStore,
	docs DocumentStore,
	entities EntityStore,
	relations *RelationManager,
	index VectorIndex,
	locks *KeyedMutex,
	collectionPrefix string,
) *BusinessService {
	if collectionPrefix == "" {
		collectionPrefix = "kb"
	}
	return &BusinessService{
		businesses:       businesses,
		docs:             docs,
		entities:         entities,
		relations:        relations,
		index:            index,
		locks:            locks,
		collectionPrefix: collectionPrefix,
	}
}

// Create registers a new business with its own collection reference.
func (s *BusinessService) Create(ctx context.Context, displayName string) (*domain.Business, error) {
	if displayName == "" {
		return nil, fmt.Errorf("display name must not be empty")
	}

	business := &domain.Business{
		ID:          uuid.New().String(),
		DisplayName: displayName,
	}
	business.CollectionRef = collectionName(s.collectionPrefix, business.ID)

	if err := s.businesses.Create(ctx, business); err != nil {
		return nil, fmt.Errorf("failed to create business: %w", err)
	}

	logger.CtxInfo(ctx, "Business created: business_id=%s, name=%s", business.ID, displayName)
	return business, nil
}

// Get returns one business by id.
func (s *BusinessService) Get(ctx context.Context, id string) (*domain.Business, error) {
	return s.businesses.GetByID(ctx, id)
}

// List returns all businesses.
func (s *BusinessService) List(ctx context.Context) ([]domain.Business, error) {
	return s.businesses.List(ctx)
}

// Delete removes a business with its documents, vectors, entities and
// relation edges.
func (s *BusinessService) Delete(ctx context.Context, id string) error {
	if _, err := s.businesses.GetByID(ctx, id); err != nil {
		return err
	}

	collection := collectionName(s.collectionPrefix, id)
	exists, err := s.index.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if exists {
		if err := s.index.DropCollection(ctx, collection); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", collection, err)
		}
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if err := s.docs.DeleteByBusiness(ctx, id); err != nil {
		return fmt.Errorf("failed to delete documents for business %s: %w", id, err)
	}
	if err := s.relations.PurgeBusiness(ctx, id); err != nil {
		return err
	}
	if err := s.businesses.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete business %s: %w", id, err)
	}

	logger.CtxInfo(ctx, "Business deleted: business_id=%s", id)
	return nil
}

// Stats assembles document, entity and relation counts for one business.
func (s *BusinessService) Stats(ctx context.Context, id string) (*domain.BusinessStats, error) {
	if _, err := s.businesses.GetByID(ctx, id); err != nil {
		return nil, err
	}

	stats := &domain.BusinessStats{BusinessID: id}

	var err error
	if stats.DocumentTotal, err = s.docs.CountByBusiness(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if stats.ProcessedTotal, err = s.docs.CountByBusinessAndStatus(ctx, id, domain.DocumentStatusProcessed); err != nil {
		return nil, fmt.Errorf("failed to count processed documents: %w", err)
	}
	if stats.FailedTotal, err = s.docs.CountByBusinessAndStatus(ctx, id, domain.DocumentStatusFailed); err != nil {
		return nil, fmt.Errorf("failed to count failed documents: %w", err)
	}
	if stats.ChunkTotal, err = s.docs.CountChunksByBusiness(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if stats.EntityTotal, err = s.entities.CountByBusiness(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	neighbors, err := s.relations.Neighbors(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}
	stats.Neighbors = neighbors

	return stats, nil
}
