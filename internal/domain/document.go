package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DocumentStatus represents the processing status of a document record.
// Values include DocumentStatusPending, DocumentStatusProcessed, and DocumentStatusFailed.
type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusProcessed DocumentStatus = "processed"
	DocumentStatusFailed    DocumentStatus = "failed"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Document represents a single source document inside a business corpus.
// IndexedAt is set only after all chunk vectors have been durably upserted.
type Document struct {
	ID          string         `gorm:"type:text;primaryKey" json:"id"`
	BusinessID  string         `gorm:"type:text;not null;index:idx_documents_business" json:"business_id"`
	SourceRef   string         `gorm:"type:text;not null" json:"source_ref"`
	Fingerprint string         `gorm:"type:text;index:idx_documents_fingerprint" json:"fingerprint"`
	Title       string         `gorm:"type:text" json:"title"`
	Text        string         `gorm:"type:text" json:"-"`
	EntityTerms StringArray    `gorm:"type:text" json:"entity_terms"`
	ChunkCount  int            `gorm:"default:0" json:"chunk_count"`
	Status      DocumentStatus `gorm:"type:text;index:idx_documents_status;default:pending" json:"status"`
	FailedStage string         `gorm:"type:text" json:"failed_stage,omitempty"`
	IndexedAt   *time.Time     `json:"indexed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Document.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Document) TableName() string {
	return "documents"
}

// Chunk represents one embedded slice of a document.
// VectorRef is the point id stored in the vector collection.
type Chunk struct {
	ID            string    `gorm:"type:text;primaryKey" json:"id"`
	DocumentID    string    `gorm:"type:text;not null;index:idx_chunks_document" json:"document_id"`
	BusinessID    string    `gorm:"type:text;not null;index:idx_chunks_business" json:"business_id"`
	Idx           int       `gorm:"not null" json:"idx"`
	Text          string    `gorm:"type:text" json:"text"`
	WindowContext string    `gorm:"type:text" json:"window_context,omitempty"`
	VectorRef     string    `gorm:"type:text" json:"vector_ref"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for Chunk.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Chunk) TableName() string {
	return "chunks"
}
