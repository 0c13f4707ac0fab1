package service

import (
	"context"
	"testing"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/repository"
)

type searchFixture struct {
	docs      *fakeDocumentStore
	biz       *fakeBusinessStore
	index     *fakeVectorIndex
	embedder  *fakeEmbedder
	relations *RelationManager
	entities  *fakeEntityStore
	engine    *HybridSearchEngine
}

func newSearchFixture(t *testing.T, cfg SearchConfig) *searchFixture {
	t.Helper()
	f := &searchFixture{
		docs:     newFakeDocumentStore(),
		biz:      newFakeBusinessStore("biz1", "biz2"),
		index:    newFakeVectorIndex(),
		embedder: newFakeEmbedder(),
		entities: newFakeEntityStore(),
	}
	f.relations = NewRelationManager(f.entities)
	f.engine = NewHybridSearchEngine(
		f.docs, f.biz, f.index, f.embedder,
		NewEntityExtractor(nil), f.relations, "kb", cfg,
	)
	return f
}

func chunkResult(pointID, chunkID, docID, businessID, text string, score float32) repository.SearchResult {
	return repository.SearchResult{
		ID:    pointID,
		Score: score,
		Payload: &repository.ChunkPayload{
			ChunkID:    chunkID,
			DocumentID: docID,
			BusinessID: businessID,
			Text:       text,
		},
	}
}

func TestSearchFusesVectorAndLexical(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{TopK: 10})
	ctx := context.Background()

	if err := f.index.EnsureCollection(ctx, "kb_biz1", 4); err != nil {
		t.Fatal(err)
	}
	f.index.searchResults["kb_biz1"] = []repository.SearchResult{
		chunkResult("p1", "c1", "d1", "biz1", "general overview text", 0.9),
		chunkResult("p2", "c2", "d2", "biz1", "flux capacitor service steps", 0.8),
	}
	f.docs.Create(ctx, &domain.Document{ID: "d1", BusinessID: "biz1", Title: "overview"})
	f.docs.Create(ctx, &domain.Document{
		ID: "d2", BusinessID: "biz1", Title: "service manual",
		EntityTerms: domain.StringArray{"flux-capacitor"},
	})

	resp, err := f.engine.Search(ctx, &SearchRequest{
		BusinessID: "biz1",
		Query:      "flux-capacitor maintenance",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	// c2 gains a lexical contribution through its parent document's
	// entity overlap and overtakes the pure vector hit
	if resp.Results[0].ChunkID != "c2" {
		t.Errorf("expected c2 first, got %q", resp.Results[0].ChunkID)
	}
	if resp.Results[0].LexicalRank != 1 {
		t.Errorf("expected lexical rank 1, got %d", resp.Results[0].LexicalRank)
	}
	if resp.Results[1].LexicalRank != 0 {
		t.Errorf("expected no lexical rank on c1, got %d", resp.Results[1].LexicalRank)
	}
	if resp.Results[0].Score <= resp.Results[1].Score {
		t.Errorf("fused scores not descending: %f, %f", resp.Results[0].Score, resp.Results[1].Score)
	}
	if resp.Results[0].Title != "service manual" {
		t.Errorf("expected parent title, got %q", resp.Results[0].Title)
	}
}

func TestSearchEmptyWhenCollectionMissing(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{})

	resp, err := f.engine.Search(context.Background(), &SearchRequest{
		BusinessID: "biz1",
		Query:      "anything",
	})
	if err != nil {
		t.Fatalf("missing collection must not be an error: %v", err)
	}
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Errorf("expected empty result set, got %d", resp.Total)
	}
}

func TestSearchUnknownBusiness(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{})

	_, err := f.engine.Search(context.Background(), &SearchRequest{
		BusinessID: "nope",
		Query:      "anything",
	})
	if err == nil {
		t.Fatal("expected error for unknown business")
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{})

	_, err := f.engine.Search(context.Background(), &SearchRequest{
		BusinessID: "biz1",
		Query:      "   ",
	})
	if err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestSearchHonorsTopK(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{TopK: 10})
	ctx := context.Background()

	f.index.EnsureCollection(ctx, "kb_biz1", 4)
	var results []repository.SearchResult
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		results = append(results, chunkResult("p"+id, "c"+id, "d"+id, "biz1", "text "+id, 0.5))
	}
	f.index.searchResults["kb_biz1"] = results

	resp, err := f.engine.Search(ctx, &SearchRequest{
		BusinessID: "biz1",
		Query:      "anything useful",
		TopK:       2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("expected top_k to cap results at 2, got %d", len(resp.Results))
	}
}

func TestSearchTieBreaksByVectorRank(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{TopK: 10})
	ctx := context.Background()

	f.index.EnsureCollection(ctx, "kb_biz1", 4)
	// Neither document has entity overlap, so fused scores follow vector
	// rank alone
	f.index.searchResults["kb_biz1"] = []repository.SearchResult{
		chunkResult("p1", "c1", "d1", "biz1", "first", 0.9),
		chunkResult("p2", "c2", "d2", "biz1", "second", 0.9),
	}

	resp, err := f.engine.Search(ctx, &SearchRequest{
		BusinessID: "biz1",
		Query:      "anything useful",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results[0].ChunkID != "c1" || resp.Results[1].ChunkID != "c2" {
		t.Errorf("expected vector order preserved, got %v", []string{resp.Results[0].ChunkID, resp.Results[1].ChunkID})
	}
}

func TestSearchExpandsToRelatedBusinesses(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{TopK: 10, MaxRelated: 3})
	ctx := context.Background()

	// Build a relation through a shared entity term
	if err := f.relations.UpdateForDocument(ctx, "biz1", "d1", scored("flux-capacitor")); err != nil {
		t.Fatal(err)
	}
	if err := f.relations.UpdateForDocument(ctx, "biz2", "d2", scored("flux-capacitor")); err != nil {
		t.Fatal(err)
	}

	f.index.EnsureCollection(ctx, "kb_biz1", 4)
	f.index.EnsureCollection(ctx, "kb_biz2", 4)
	f.index.searchResults["kb_biz1"] = []repository.SearchResult{
		chunkResult("p1", "c1", "d1", "biz1", "local passage", 0.9),
	}
	f.index.searchResults["kb_biz2"] = []repository.SearchResult{
		chunkResult("p2", "c2", "d2", "biz2", "related passage", 0.8),
	}

	resp, err := f.engine.Search(ctx, &SearchRequest{
		BusinessID:    "biz1",
		Query:         "flux-capacitor maintenance",
		ExpandRelated: boolPtr(true),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.RelatedConsidered) != 1 || resp.RelatedConsidered[0] != "biz2" {
		t.Errorf("expected biz2 in related businesses, got %v", resp.RelatedConsidered)
	}

	businesses := make(map[string]bool)
	for _, hit := range resp.Results {
		businesses[hit.BusinessID] = true
	}
	if !businesses["biz1"] || !businesses["biz2"] {
		t.Errorf("expected hits from both businesses, got %v", businesses)
	}
}

func TestSearchExpansionDisabledByDefault(t *testing.T) {
	f := newSearchFixture(t, SearchConfig{TopK: 10, ExpandRelated: false})
	ctx := context.Background()

	if err := f.relations.UpdateForDocument(ctx, "biz1", "d1", scored("flux-capacitor")); err != nil {
		t.Fatal(err)
	}
	if err := f.relations.UpdateForDocument(ctx, "biz2", "d2", scored("flux-capacitor")); err != nil {
		t.Fatal(err)
	}
	f.index.EnsureCollection(ctx, "kb_biz1", 4)

	resp, err := f.engine.Search(ctx, &SearchRequest{
		BusinessID: "biz1",
		Query:      "flux-capacitor maintenance",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.RelatedConsidered) != 0 {
		t.Errorf("expansion disabled, got related %v", resp.RelatedConsidered)
	}
}
