package service

import (
	"context"

	"github.com/timmy/kbase/internal/repository"
)

// EmbeddingProvider generates dense vectors for passages and queries.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimensions() int
}

// VectorIndex is the vector engine contract consumed by processing, search
// and reconciliation. The production implementation is the Qdrant repository.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	CollectionExists(ctx context.Context, collection string) (bool, error)
	DropCollection(ctx context.Context, collection string) error
	UpsertPoints(ctx context.Context, collection string, points []repository.VectorPoint) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter *repository.SearchFilter) ([]repository.SearchResult, error)
	ListPoints(ctx context.Context, collection string) ([]repository.PointRef, error)
	CountPoints(ctx context.Context, collection string) (int, error)
	DeletePoints(ctx context.Context, collection string, pointIDs []string) error
	DeleteByDocument(ctx context.Context, collection, documentID string) error
}

// Converter turns raw source bytes into plain text. Image sources go through
// the multimodal description route.
type Converter interface {
	ExtractText(ctx context.Context, name string, data []byte) (string, error)
	DescribeImage(ctx context.Context, name string, data []byte, format string) (string, error)
}

// AnswerGenerator produces a grounded answer from retrieved context.
type AnswerGenerator interface {
	IsEnabled() bool
	Generate(ctx context.Context, query, contextText string) (string, error)
}

// collectionName builds the per-business collection name.
func collectionName(prefix, businessID string) string {
	if prefix == "" {
		prefix = "kb"
	}
	return prefix + "_" + businessID
}
