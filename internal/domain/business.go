package domain

import "time"

// Business represents a tenant owning an isolated document corpus.
// Each business maps to exactly one vector collection.
type Business struct {
	ID            string    `gorm:"type:text;primaryKey" json:"id"`
	DisplayName   string    `gorm:"type:text;not null" json:"display_name"`
	CollectionRef string    `gorm:"type:text;not null;uniqueIndex:idx_businesses_collection" json:"collection_ref"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Business.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Business) TableName() string {
	return "businesses"
}

// BusinessStats aggregates per-business counters for the stats endpoint.
type BusinessStats struct {
	BusinessID     string   `json:"business_id"`
	DocumentTotal  int64    `json:"document_total"`
	ProcessedTotal int64    `json:"processed_total"`
	FailedTotal    int64    `json:"failed_total"`
	EntityTotal    int64    `json:"entity_total"`
	ChunkTotal     int64    `json:"chunk_total"`
	Neighbors      []string `json:"neighbors"`
}
