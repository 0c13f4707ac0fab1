package repository

import (
	"context"

	"github.com/timmy/kbase/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntityRepository handles entity and relation edge data operations.
type EntityRepository struct {
	db *gorm.DB
}

// NewEntityRepository creates a new EntityRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *EntityRepository: repository instance bound to db.
func NewEntityRepository(db *gorm.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// UpsertEntity creates or updates an entity keyed by (business_id, term).
func (r *EntityRepository) UpsertEntity(ctx context.Context, entity *domain.Entity) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_id"}, {Name: "term"}},
		UpdateAll: true,
	}).Create(entity).Error
}

// GetEntity retrieves an entity by business and term.
func (r *EntityRepository) GetEntity(ctx context.Context, businessID, term string) (*domain.Entity, error) {
	var entity domain.Entity
	if err := r.db.WithContext(ctx).
		First(&entity, "business_id = ? AND term = ?", businessID, term).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// TermsForBusiness returns all entity terms attributed to a business.
func (r *EntityRepository) TermsForBusiness(ctx context.Context, businessID string) ([]string, error) {
	var terms []string
	if err := r.db.WithContext(ctx).Model(&domain.Entity{}).
		Where("business_id = ?", businessID).
		Pluck("term", &terms).Error; err != nil {
		return nil, err
	}
	return terms, nil
}

// ListByBusiness retrieves all entities for a business.
func (r *EntityRepository) ListByBusiness(ctx context.Context, businessID string) ([]domain.Entity, error) {
	var entities []domain.Entity
	if err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("weight DESC").
		Find(&entities).Error; err != nil {
		return nil, err
	}
	return entities, nil
}

// ListByDocument retrieves entities that name the document as a source.
// SourceDocIDs is a JSON column, so the match is a LIKE over the encoded id.
func (r *EntityRepository) ListByDocument(ctx context.Context, businessID, documentID string) ([]domain.Entity, error) {
	var entities []domain.Entity
	if err := r.db.WithContext(ctx).
		Where("business_id = ? AND source_doc_ids LIKE ?", businessID, "%\""+documentID+"\"%").
		Find(&entities).Error; err != nil {
		return nil, err
	}
	return entities, nil
}

// HoldersByTerm returns, for each given term, the IDs of businesses holding it.
func (r *EntityRepository) HoldersByTerm(ctx context.Context, terms []string) (map[string][]string, error) {
	holders := make(map[string][]string, len(terms))
	if len(terms) == 0 {
		return holders, nil
	}
	var rows []domain.Entity
	if err := r.db.WithContext(ctx).
		Select("business_id", "term").
		Where("term IN ?", terms).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		holders[row.Term] = append(holders[row.Term], row.BusinessID)
	}
	return holders, nil
}

// UpdateEntity saves an existing entity record.
func (r *EntityRepository) UpdateEntity(ctx context.Context, entity *domain.Entity) error {
	return r.db.WithContext(ctx).Save(entity).Error
}

// DeleteEntity removes an entity by ID.
func (r *EntityRepository) DeleteEntity(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Entity{}, "id = ?", id).Error
}

// DeleteEntitiesByBusiness removes all entities for a business.
func (r *EntityRepository) DeleteEntitiesByBusiness(ctx context.Context, businessID string) error {
	return r.db.WithContext(ctx).Delete(&domain.Entity{}, "business_id = ?", businessID).Error
}

// CountByBusiness counts entities attributed to a business.
func (r *EntityRepository) CountByBusiness(ctx context.Context, businessID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Entity{}).
		Where("business_id = ?", businessID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// UpsertEdge creates or updates a relation edge keyed by the canonical pair.
func (r *EntityRepository) UpsertEdge(ctx context.Context, edge *domain.RelationEdge) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_a"}, {Name: "business_b"}},
		UpdateAll: true,
	}).Create(edge).Error
}

// EdgesFor retrieves all edges touching a business, strongest first.
func (r *EntityRepository) EdgesFor(ctx context.Context, businessID string) ([]domain.RelationEdge, error) {
	var edges []domain.RelationEdge
	if err := r.db.WithContext(ctx).
		Where("business_a = ? OR business_b = ?", businessID, businessID).
		Order("weight DESC").
		Find(&edges).Error; err != nil {
		return nil, err
	}
	return edges, nil
}

// DeleteEdge removes the edge between two businesses.
func (r *EntityRepository) DeleteEdge(ctx context.Context, businessA, businessB string) error {
	a, b := domain.CanonicalPair(businessA, businessB)
	return r.db.WithContext(ctx).
		Delete(&domain.RelationEdge{}, "business_a = ? AND business_b = ?", a, b).Error
}

// DeleteEdgesFor removes all edges touching a business.
func (r *EntityRepository) DeleteEdgesFor(ctx context.Context, businessID string) error {
	return r.db.WithContext(ctx).
		Delete(&domain.RelationEdge{}, "business_a = ? OR business_b = ?", businessID, businessID).Error
}
