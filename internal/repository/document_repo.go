package repository

import (
	"context"
	"fmt"

	"github.com/timmy/kbase/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository handles document and chunk data operations.
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DocumentRepository: repository instance bound to db.
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document record.
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// Update updates an existing document record.
func (r *DocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Save(doc).Error
}

// GetByID retrieves a document by its ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByFingerprint retrieves a document within a business by content fingerprint.
// Used to skip re-submission of unchanged content.
func (r *DocumentRepository) GetByFingerprint(ctx context.Context, businessID, fingerprint string) (*domain.Document, error) {
	var doc domain.Document
	if err := r.db.WithContext(ctx).
		First(&doc, "business_id = ? AND fingerprint = ?", businessID, fingerprint).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByBusiness retrieves documents for a business with pagination.
func (r *DocumentRepository) ListByBusiness(ctx context.Context, businessID string, limit, offset int) ([]domain.Document, error) {
	var docs []domain.Document
	if err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// ListByBusinessAndStatus retrieves documents for a business filtered by status.
func (r *DocumentRepository) ListByBusinessAndStatus(ctx context.Context, businessID string, status domain.DocumentStatus) ([]domain.Document, error) {
	var docs []domain.Document
	if err := r.db.WithContext(ctx).
		Where("business_id = ? AND status = ?", businessID, status).
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// CountByBusinessAndStatus counts documents for a business by status.
func (r *DocumentRepository) CountByBusinessAndStatus(ctx context.Context, businessID string, status domain.DocumentStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("business_id = ? AND status = ?", businessID, status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountByBusiness counts all documents for a business.
func (r *DocumentRepository) CountByBusiness(ctx context.Context, businessID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("business_id = ?", businessID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetByIDs retrieves documents by a list of IDs.
func (r *DocumentRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Document, error) {
	if len(ids) == 0 {
		return []domain.Document{}, nil
	}
	var docs []domain.Document
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to get documents by IDs: %w", err)
	}
	return docs, nil
}

// Delete removes a document and its chunks by ID.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Chunk{}, "document_id = ?", id).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&domain.Document{}, "id = ?", id).Error
}

// DeleteByBusiness removes all documents and chunks for a business.
func (r *DocumentRepository) DeleteByBusiness(ctx context.Context, businessID string) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Chunk{}, "business_id = ?", businessID).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&domain.Document{}, "business_id = ?", businessID).Error
}

// ReplaceChunks replaces all stored chunks of a document in one transaction.
// Re-indexing a document always rewrites its full chunk set.
func (r *DocumentRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.Chunk{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&chunks).Error
	})
}

// ListChunks retrieves the chunks of a document ordered by index.
func (r *DocumentRepository) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("idx ASC").
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// CountChunksByBusiness counts stored chunks for a business.
func (r *DocumentRepository) CountChunksByBusiness(ctx context.Context, businessID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Chunk{}).
		Where("business_id = ?", businessID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
