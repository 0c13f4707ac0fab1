package repository

import (
	"context"

	"github.com/timmy/kbase/internal/domain"
	"gorm.io/gorm"
)

// BusinessRepository handles business (tenant) data operations.
type BusinessRepository struct {
	db *gorm.DB
}

// NewBusinessRepository creates a new BusinessRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *BusinessRepository: repository instance bound to db.
func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// Create inserts a new business record.
func (r *BusinessRepository) Create(ctx context.Context, business *domain.Business) error {
	return r.db.WithContext(ctx).Create(business).Error
}

// GetByID retrieves a business by its ID.
func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*domain.Business, error) {
	var business domain.Business
	if err := r.db.WithContext(ctx).First(&business, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// Exists checks whether a business with the given ID exists.
func (r *BusinessRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Business{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// List retrieves all businesses ordered by creation time.
func (r *BusinessRepository) List(ctx context.Context) ([]domain.Business, error) {
	var businesses []domain.Business
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&businesses).Error; err != nil {
		return nil, err
	}
	return businesses, nil
}

// Delete removes a business by ID.
func (r *BusinessRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Business{}, "id = ?", id).Error
}
