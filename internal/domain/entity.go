package domain

import "time"

// ExtractionMethod identifies which extractor produced an entity term.
type ExtractionMethod string

const (
	MethodRule        ExtractionMethod = "rule"
	MethodStatistical ExtractionMethod = "statistical"
	MethodHybrid      ExtractionMethod = "hybrid"
)

// ParseExtractionMethod parses a method name, defaulting to hybrid for
// unknown values.
func ParseExtractionMethod(s string) ExtractionMethod {
	switch ExtractionMethod(s) {
	case MethodRule, MethodStatistical, MethodHybrid:
		return ExtractionMethod(s)
	default:
		return MethodHybrid
	}
}

// Entity represents a normalized term attributed to a business corpus.
// An entity with no remaining source documents must be deleted.
type Entity struct {
	ID           string           `gorm:"type:text;primaryKey" json:"id"`
	BusinessID   string           `gorm:"type:text;not null;index:idx_entities_business_term,unique" json:"business_id"`
	Term         string           `gorm:"type:text;not null;index:idx_entities_business_term,unique;index:idx_entities_term" json:"term"`
	SourceDocIDs StringArray      `gorm:"type:text" json:"source_doc_ids"`
	Method       ExtractionMethod `gorm:"type:text" json:"method"`
	Weight       float64          `gorm:"default:0" json:"weight"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Entity.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Entity) TableName() string {
	return "entities"
}

// RelationEdge represents an undirected relation between two businesses that
// share entity terms. BusinessA and BusinessB are stored in canonical order
// (BusinessA < BusinessB) so each pair has exactly one row.
type RelationEdge struct {
	ID             string      `gorm:"type:text;primaryKey" json:"id"`
	BusinessA      string      `gorm:"type:text;not null;index:idx_relations_pair,unique;index:idx_relations_a" json:"business_a"`
	BusinessB      string      `gorm:"type:text;not null;index:idx_relations_pair,unique;index:idx_relations_b" json:"business_b"`
	Weight         float64     `gorm:"default:0" json:"weight"`
	SharedEntities StringArray `gorm:"type:text" json:"shared_entities"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TableName returns the database table name for RelationEdge.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (RelationEdge) TableName() string {
	return "relation_edges"
}

// CanonicalPair orders two business ids for edge storage.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// SyncReport summarizes one reconciliation run for a business.
// Drift findings are data, not errors.
type SyncReport struct {
	BusinessID        string    `json:"business_id"`
	ScannedDocuments  int       `json:"scanned_documents"`
	IndexedPoints     int       `json:"indexed_points"`
	MissingDocuments  []string  `json:"missing_documents,omitempty"`
	OrphanDocuments   []string  `json:"orphan_documents,omitempty"`
	RepairedDocuments int       `json:"repaired_documents"`
	DeletedPoints     int       `json:"deleted_points"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// InSync reports whether the scan found no drift.
func (r *SyncReport) InSync() bool {
	return len(r.MissingDocuments) == 0 && len(r.OrphanDocuments) == 0
}
