package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/logger"
	"github.com/timmy/kbase/internal/repository"
)

// EntityStore is the persistence contract the relation manager needs.
// The production implementation is the gorm entity repository.
type EntityStore interface {
	UpsertEntity(ctx context.Context, entity *domain.Entity) error
	GetEntity(ctx context.Context, businessID, term string) (*domain.Entity, error)
	TermsForBusiness(ctx context.Context, businessID string) ([]string, error)
	ListByDocument(ctx context.Context, businessID, documentID string) ([]domain.Entity, error)
	HoldersByTerm(ctx context.Context, terms []string) (map[string][]string, error)
	CountByBusiness(ctx context.Context, businessID string) (int64, error)
	UpdateEntity(ctx context.Context, entity *domain.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	DeleteEntitiesByBusiness(ctx context.Context, businessID string) error
	UpsertEdge(ctx context.Context, edge *domain.RelationEdge) error
	EdgesFor(ctx context.Context, businessID string) ([]domain.RelationEdge, error)
	DeleteEdge(ctx context.Context, businessA, businessB string) error
	DeleteEdgesFor(ctx context.Context, businessID string) error
}

var _ EntityStore = (*repository.EntityRepository)(nil)

// RelationManager maintains entity attributions and the cross-business
// relation graph. All mutations must run under the caller's per-business
// lock; reads are lock-free.
type RelationManager struct {
	entities EntityStore
}

// NewRelationManager creates a relation manager backed by the given store.
func NewRelationManager(entities EntityStore) *RelationManager {
	return &RelationManager{entities: entities}
}

// UpdateForDocument persists extracted terms for a document and recomputes
// every relation edge touching the business from the current entity sets.
func (m *RelationManager) UpdateForDocument(ctx context.Context, businessID, documentID string, terms []ScoredTerm) error {
	for _, t := range terms {
		existing, err := m.entities.GetEntity(ctx, businessID, t.Term)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to load entity %q: %w", t.Term, err)
		}

		if existing != nil {
			if !containsString(existing.SourceDocIDs, documentID) {
				existing.SourceDocIDs = append(existing.SourceDocIDs, documentID)
			}
			existing.Method = t.Method
			existing.Weight = t.Score
			if err := m.entities.UpdateEntity(ctx, existing); err != nil {
				return fmt.Errorf("failed to update entity %q: %w", t.Term, err)
			}
			continue
		}

		entity := &domain.Entity{
			ID:           uuid.New().String(),
			BusinessID:   businessID,
			Term:         t.Term,
			SourceDocIDs: domain.StringArray{documentID},
			Method:       t.Method,
			Weight:       t.Score,
		}
		if err := m.entities.UpsertEntity(ctx, entity); err != nil {
			return fmt.Errorf("failed to create entity %q: %w", t.Term, err)
		}
	}

	return m.recomputeEdges(ctx, businessID)
}

// PurgeDocument removes a document from entity attributions, deletes
// entities left with no sources, and recomputes affected edges.
func (m *RelationManager) PurgeDocument(ctx context.Context, businessID, documentID string) error {
	entities, err := m.entities.ListByDocument(ctx, businessID, documentID)
	if err != nil {
		return fmt.Errorf("failed to list entities for document %s: %w", documentID, err)
	}

	for i := range entities {
		entity := &entities[i]
		entity.SourceDocIDs = removeString(entity.SourceDocIDs, documentID)
		if len(entity.SourceDocIDs) == 0 {
			if err := m.entities.DeleteEntity(ctx, entity.ID); err != nil {
				return fmt.Errorf("failed to delete entity %q: %w", entity.Term, err)
			}
			continue
		}
		if err := m.entities.UpdateEntity(ctx, entity); err != nil {
			return fmt.Errorf("failed to update entity %q: %w", entity.Term, err)
		}
	}

	return m.recomputeEdges(ctx, businessID)
}

// PurgeBusiness removes all entities and edges for a deleted business.
func (m *RelationManager) PurgeBusiness(ctx context.Context, businessID string) error {
	if err := m.entities.DeleteEntitiesByBusiness(ctx, businessID); err != nil {
		return fmt.Errorf("failed to delete entities for business %s: %w", businessID, err)
	}
	if err := m.entities.DeleteEdgesFor(ctx, businessID); err != nil {
		return fmt.Errorf("failed to delete edges for business %s: %w", businessID, err)
	}
	return nil
}

// recomputeEdges rebuilds every edge touching businessID purely from the
// current entity sets. Rare shared terms contribute more weight:
// weight = sum over shared terms of 1/holders(term).
func (m *RelationManager) recomputeEdges(ctx context.Context, businessID string) error {
	terms, err := m.entities.TermsForBusiness(ctx, businessID)
	if err != nil {
		return fmt.Errorf("failed to load terms for business %s: %w", businessID, err)
	}

	holders, err := m.entities.HoldersByTerm(ctx, terms)
	if err != nil {
		return fmt.Errorf("failed to load term holders: %w", err)
	}

	// Shared terms and their rarity per neighboring business
	shared := make(map[string][]string)
	for term, businesses := range holders {
		for _, other := range businesses {
			if other == businessID {
				continue
			}
			shared[other] = append(shared[other], term)
		}
	}

	// Existing edges that lost all shared terms are removed
	existing, err := m.entities.EdgesFor(ctx, businessID)
	if err != nil {
		return fmt.Errorf("failed to load edges for business %s: %w", businessID, err)
	}
	for _, edge := range existing {
		other := edge.BusinessA
		if other == businessID {
			other = edge.BusinessB
		}
		if len(shared[other]) == 0 {
			if err := m.entities.DeleteEdge(ctx, businessID, other); err != nil {
				return fmt.Errorf("failed to delete stale edge: %w", err)
			}
		}
	}

	for other, sharedTerms := range shared {
		weight := 0.0
		for _, term := range sharedTerms {
			weight += 1.0 / float64(len(holders[term]))
		}
		sort.Strings(sharedTerms)

		a, b := domain.CanonicalPair(businessID, other)
		edge := &domain.RelationEdge{
			ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte("edge:"+a+":"+b)).String(),
			BusinessA:      a,
			BusinessB:      b,
			Weight:         weight,
			SharedEntities: sharedTerms,
			UpdatedAt:      time.Now(),
		}
		if err := m.entities.UpsertEdge(ctx, edge); err != nil {
			return fmt.Errorf("failed to upsert edge %s-%s: %w", a, b, err)
		}
	}

	logger.With(logger.Fields{logger.FieldCount: len(shared)}).
		Debug(ctx, "Recomputed relation edges for business %s", businessID)

	return nil
}

// Neighbors returns related business ids ordered by edge weight descending.
// The business itself is never included.
func (m *RelationManager) Neighbors(ctx context.Context, businessID string, maxRelated int, minWeight float64) ([]string, error) {
	edges, err := m.entities.EdgesFor(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges for business %s: %w", businessID, err)
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		return edges[i].BusinessA+edges[i].BusinessB < edges[j].BusinessA+edges[j].BusinessB
	})

	neighbors := make([]string, 0, len(edges))
	for _, edge := range edges {
		if edge.Weight < minWeight {
			continue
		}
		other := edge.BusinessA
		if other == businessID {
			other = edge.BusinessB
		}
		if other == businessID {
			continue
		}
		neighbors = append(neighbors, other)
		if maxRelated > 0 && len(neighbors) >= maxRelated {
			break
		}
	}

	return neighbors, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func removeString(list domain.StringArray, s string) domain.StringArray {
	out := make(domain.StringArray, 0, len(list))
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}
