package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/logger"
)

const (
	defaultTopK       = 10
	defaultRRFK       = 60
	defaultMaxRelated = 3
	candidateFactor   = 2
)

// SearchConfig holds retrieval configuration.
type SearchConfig struct {
	TopK              int
	RRFK              int
	MaxRelated        int
	MinRelationWeight float64
	ExpandRelated     bool
}

// SearchRequest is a retrieval request scoped to one primary business.
type SearchRequest struct {
	BusinessID    string `json:"business_id" binding:"required"`
	Query         string `json:"query" binding:"required"`
	TopK          int    `json:"top_k,omitempty"`
	ExpandRelated *bool  `json:"expand_related,omitempty"`
	MaxRelated    int    `json:"max_related,omitempty"`
}

// SearchHit is one retrieved chunk with its provenance and ranking detail.
type SearchHit struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	BusinessID  string  `json:"business_id"`
	Title       string  `json:"title,omitempty"`
	Text        string  `json:"text"`
	Window      string  `json:"window,omitempty"`
	Score       float64 `json:"score"`
	VectorRank  int     `json:"vector_rank"`
	LexicalRank int     `json:"lexical_rank,omitempty"`
}

// SearchResponse is the fused result set for a retrieval request.
type SearchResponse struct {
	Query             string      `json:"query"`
	Results           []SearchHit `json:"results"`
	Total             int         `json:"total"`
	RelatedConsidered []string    `json:"related_considered"`
}

// HybridSearchEngine fuses vector similarity with lexical entity overlap
// using reciprocal rank fusion, optionally expanding the search across
// related businesses from the relation graph.
type HybridSearchEngine struct {
	docs       DocumentStore
	businesses BusinessStore
	index      VectorIndex
	embedding  EmbeddingProvider
	extractor  *EntityExtractor
	relations  *RelationManager

	collectionPrefix string
	cfg              SearchConfig
}

// NewHybridSearchEngine creates a search engine.
// Parameters:
//   - docs, businesses: metadata stores.
//   - index: vector engine adapter.
//   - embedding: embedding collaborator for query vectors.
//   - extractor: entity extractor for query terms.
//   - relations: relation manager for neighbor expansion.
//   - collectionPrefix: per-business collection name prefix.
//   - cfg: retrieval configuration; zero values use defaults.
//
// Returns:
//   - *HybridSearchEngine: initialized engine.
func NewHybridSearchEngine(
	docs DocumentStore,
	businesses BusinessStore,
	index VectorIndex,
	embedding EmbeddingProvider,
	extractor *EntityExtractor,
	relations *RelationManager,
	collectionPrefix string,
	cfg SearchConfig,
) *HybridSearchEngine {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	if cfg.MaxRelated <= 0 {
		cfg.MaxRelated = defaultMaxRelated
	}
	if collectionPrefix == "" {
		collectionPrefix = "kb"
	}
	return &HybridSearchEngine{
		docs:             docs,
		businesses:       businesses,
		index:            index,
		embedding:        embedding,
		extractor:        extractor,
		relations:        relations,
		collectionPrefix: collectionPrefix,
		cfg:              cfg,
	}
}

// candidate carries a chunk through ranking before fusion.
type candidate struct {
	hit     SearchHit
	overlap int
}

// Search executes hybrid retrieval for the request.
// Returns an empty result set, not an error, when the business has no
// indexed content yet.
func (e *HybridSearchEngine) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	ok, err := e.businesses.Exists(ctx, req.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("failed to check business %s: %w", req.BusinessID, err)
	}
	if !ok {
		return nil, fmt.Errorf("unknown business: %s", req.BusinessID)
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldBusinessID: req.BusinessID,
		logger.FieldComponent:  "search",
	})
	start := time.Now()

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	queryVector, err := e.embedding.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	queryTerms := termSet(e.extractor.Extract(ctx, req.Query))

	businessIDs := []string{req.BusinessID}
	related := []string{}
	if e.expandEnabled(req) {
		maxRelated := req.MaxRelated
		if maxRelated <= 0 {
			maxRelated = e.cfg.MaxRelated
		}
		related, err = e.relations.Neighbors(ctx, req.BusinessID, maxRelated, e.cfg.MinRelationWeight)
		if err != nil {
			return nil, fmt.Errorf("failed to load related businesses: %w", err)
		}
		businessIDs = append(businessIDs, related...)
	}

	var candidates []candidate
	for _, businessID := range businessIDs {
		perBusiness, err := e.searchBusiness(ctx, businessID, queryVector, queryTerms, topK*candidateFactor)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, perBusiness...)
	}

	hits := fuse(candidates, e.cfg.RRFK, topK)

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      len(hits),
	}).Info(ctx, "Search completed: businesses=%d", len(businessIDs))

	return &SearchResponse{
		Query:             req.Query,
		Results:           hits,
		Total:             len(hits),
		RelatedConsidered: related,
	}, nil
}

func (e *HybridSearchEngine) expandEnabled(req *SearchRequest) bool {
	if req.ExpandRelated != nil {
		return *req.ExpandRelated
	}
	return e.cfg.ExpandRelated
}

// searchBusiness runs the vector query against one business collection and
// assigns per-business vector and lexical ranks.
func (e *HybridSearchEngine) searchBusiness(ctx context.Context, businessID string, queryVector []float32, queryTerms map[string]bool, limit int) ([]candidate, error) {
	collection := collectionName(e.collectionPrefix, businessID)

	exists, err := e.index.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if !exists {
		return nil, nil
	}

	results, err := e.index.Search(ctx, collection, queryVector, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed for business %s: %w", businessID, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	docIDs := make([]string, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Payload == nil || seen[r.Payload.DocumentID] {
			continue
		}
		seen[r.Payload.DocumentID] = true
		docIDs = append(docIDs, r.Payload.DocumentID)
	}

	docs, err := e.docs.GetByIDs(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	docByID := make(map[string]*domain.Document, len(docs))
	for i := range docs {
		docByID[docs[i].ID] = &docs[i]
	}

	candidates := make([]candidate, 0, len(results))
	for rank, r := range results {
		if r.Payload == nil {
			continue
		}
		doc := docByID[r.Payload.DocumentID]

		c := candidate{
			hit: SearchHit{
				ChunkID:    r.Payload.ChunkID,
				DocumentID: r.Payload.DocumentID,
				BusinessID: businessID,
				Text:       r.Payload.Text,
				Window:     r.Payload.Window,
				VectorRank: rank + 1,
			},
		}
		if doc != nil {
			c.hit.Title = doc.Title
			c.overlap = termOverlap(queryTerms, doc.EntityTerms)
		}
		candidates = append(candidates, c)
	}

	// Lexical ranks follow entity overlap; chunks whose parent document
	// shares no query terms stay unranked on the lexical side
	lexOrder := make([]int, 0, len(candidates))
	for i := range candidates {
		if candidates[i].overlap > 0 {
			lexOrder = append(lexOrder, i)
		}
	}
	sort.SliceStable(lexOrder, func(a, b int) bool {
		ca, cb := candidates[lexOrder[a]], candidates[lexOrder[b]]
		if ca.overlap != cb.overlap {
			return ca.overlap > cb.overlap
		}
		return ca.hit.VectorRank < cb.hit.VectorRank
	})
	for lexRank, idx := range lexOrder {
		candidates[idx].hit.LexicalRank = lexRank + 1
	}

	return candidates, nil
}

// fuse combines vector and lexical ranks with reciprocal rank fusion and
// returns the top hits. Ties resolve by vector rank.
func fuse(candidates []candidate, rrfK, topK int) []SearchHit {
	for i := range candidates {
		score := 1.0 / float64(rrfK+candidates[i].hit.VectorRank)
		if candidates[i].hit.LexicalRank > 0 {
			score += 1.0 / float64(rrfK+candidates[i].hit.LexicalRank)
		}
		candidates[i].hit.Score = score
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].hit.Score != candidates[b].hit.Score {
			return candidates[a].hit.Score > candidates[b].hit.Score
		}
		if candidates[a].hit.VectorRank != candidates[b].hit.VectorRank {
			return candidates[a].hit.VectorRank < candidates[b].hit.VectorRank
		}
		return candidates[a].hit.ChunkID < candidates[b].hit.ChunkID
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}

	hits := make([]SearchHit, len(candidates))
	for i := range candidates {
		hits[i] = candidates[i].hit
	}
	return hits
}

func termSet(terms []ScoredTerm) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[strings.ToLower(t.Term)] = true
	}
	return set
}

func termOverlap(queryTerms map[string]bool, docTerms []string) int {
	overlap := 0
	for _, term := range docTerms {
		if queryTerms[strings.ToLower(term)] {
			overlap++
		}
	}
	return overlap
}
