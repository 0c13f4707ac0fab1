package service

import (
	"context"
	"math"
	"testing"

	"github.com/timmy/kbase/internal/domain"
)

func scored(terms ...string) []ScoredTerm {
	out := make([]ScoredTerm, len(terms))
	for i, t := range terms {
		out[i] = ScoredTerm{Term: t, Score: 1.0, Method: domain.MethodHybrid}
	}
	return out
}

func TestUpdateForDocumentCreatesEntities(t *testing.T) {
	store := newFakeEntityStore()
	m := NewRelationManager(store)
	ctx := context.Background()

	if err := m.UpdateForDocument(ctx, "biz-a", "doc-1", scored("turbine", "rotor")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entity, err := store.GetEntity(ctx, "biz-a", "turbine")
	if err != nil {
		t.Fatalf("entity not created: %v", err)
	}
	if len(entity.SourceDocIDs) != 1 || entity.SourceDocIDs[0] != "doc-1" {
		t.Errorf("expected doc-1 attribution, got %v", entity.SourceDocIDs)
	}

	// A second document sharing the term extends the attribution
	if err := m.UpdateForDocument(ctx, "biz-a", "doc-2", scored("turbine")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entity, _ = store.GetEntity(ctx, "biz-a", "turbine")
	if len(entity.SourceDocIDs) != 2 {
		t.Errorf("expected 2 source docs, got %v", entity.SourceDocIDs)
	}
}

func TestEdgeWeightReflectsTermRarity(t *testing.T) {
	store := newFakeEntityStore()
	m := NewRelationManager(store)
	ctx := context.Background()

	// "turbine" is shared by two businesses, "rotor" by three
	if err := m.UpdateForDocument(ctx, "biz-a", "doc-1", scored("turbine", "rotor")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-b", "doc-2", scored("turbine", "rotor")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-c", "doc-3", scored("rotor")); err != nil {
		t.Fatal(err)
	}
	// Touch biz-a again so its edges see the current holder counts
	if err := m.UpdateForDocument(ctx, "biz-a", "doc-1", scored("turbine", "rotor")); err != nil {
		t.Fatal(err)
	}

	edges, err := store.EdgesFor(ctx, "biz-a")
	if err != nil {
		t.Fatal(err)
	}

	var ab, ac *domain.RelationEdge
	for i := range edges {
		switch {
		case edges[i].BusinessA == "biz-a" && edges[i].BusinessB == "biz-b":
			ab = &edges[i]
		case edges[i].BusinessA == "biz-a" && edges[i].BusinessB == "biz-c":
			ac = &edges[i]
		}
	}
	if ab == nil || ac == nil {
		t.Fatalf("expected edges to biz-b and biz-c, got %v", edges)
	}

	// a-b shares turbine (2 holders) and rotor (3 holders): 1/2 + 1/3
	if math.Abs(ab.Weight-(0.5+1.0/3.0)) > 1e-9 {
		t.Errorf("a-b weight: expected %f, got %f", 0.5+1.0/3.0, ab.Weight)
	}
	// a-c shares only rotor: 1/3
	if math.Abs(ac.Weight-1.0/3.0) > 1e-9 {
		t.Errorf("a-c weight: expected %f, got %f", 1.0/3.0, ac.Weight)
	}
	if ab.Weight <= ac.Weight {
		t.Errorf("edge sharing the rarer term should weigh more: %f vs %f", ab.Weight, ac.Weight)
	}
}

func TestPurgeDocumentRemovesEmptyEntitiesAndEdges(t *testing.T) {
	store := newFakeEntityStore()
	m := NewRelationManager(store)
	ctx := context.Background()

	if err := m.UpdateForDocument(ctx, "biz-a", "doc-1", scored("turbine")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-b", "doc-2", scored("turbine")); err != nil {
		t.Fatal(err)
	}

	edges, _ := store.EdgesFor(ctx, "biz-a")
	if len(edges) != 1 {
		t.Fatalf("expected edge before purge, got %d", len(edges))
	}

	if err := m.PurgeDocument(ctx, "biz-a", "doc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.GetEntity(ctx, "biz-a", "turbine"); err == nil {
		t.Error("entity with no remaining sources should be deleted")
	}
	edges, _ = store.EdgesFor(ctx, "biz-a")
	if len(edges) != 0 {
		t.Errorf("edge should be removed once nothing is shared, got %v", edges)
	}
}

func TestPurgeDocumentKeepsEntitiesWithOtherSources(t *testing.T) {
	store := newFakeEntityStore()
	m := NewRelationManager(store)
	ctx := context.Background()

	if err := m.UpdateForDocument(ctx, "biz-a", "doc-1", scored("turbine")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-a", "doc-2", scored("turbine")); err != nil {
		t.Fatal(err)
	}

	if err := m.PurgeDocument(ctx, "biz-a", "doc-1"); err != nil {
		t.Fatal(err)
	}

	entity, err := store.GetEntity(ctx, "biz-a", "turbine")
	if err != nil {
		t.Fatalf("entity should survive while doc-2 references it: %v", err)
	}
	if len(entity.SourceDocIDs) != 1 || entity.SourceDocIDs[0] != "doc-2" {
		t.Errorf("expected only doc-2 attribution, got %v", entity.SourceDocIDs)
	}
}

func TestNeighborsOrderedByWeight(t *testing.T) {
	store := newFakeEntityStore()
	m := NewRelationManager(store)
	ctx := context.Background()

	// biz-a shares two rare terms with biz-b and one widely held term
	// with biz-c
	if err := m.UpdateForDocument(ctx, "biz-a", "doc-1", scored("turbine", "rotor", "shaft")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-b", "doc-2", scored("turbine", "rotor")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-c", "doc-3", scored("shaft")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-d", "doc-4", scored("shaft")); err != nil {
		t.Fatal(err)
	}

	neighbors, err := m.Neighbors(ctx, "biz-a", 10, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(neighbors) == 0 || neighbors[0] != "biz-b" {
		t.Errorf("expected biz-b first, got %v", neighbors)
	}
	for _, n := range neighbors {
		if n == "biz-a" {
			t.Error("neighbors must not include the business itself")
		}
	}
}

func TestNeighborsRespectsLimitAndThreshold(t *testing.T) {
	store := newFakeEntityStore()
	m := NewRelationManager(store)
	ctx := context.Background()

	if err := m.UpdateForDocument(ctx, "biz-a", "doc-1", scored("turbine")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateForDocument(ctx, "biz-b", "doc-2", scored("turbine")); err != nil {
		t.Fatal(err)
	}

	neighbors, err := m.Neighbors(ctx, "biz-a", 10, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	// Shared term has 2 holders, so the edge weighs 0.5 and sits below
	// the threshold
	if len(neighbors) != 0 {
		t.Errorf("expected threshold to filter edge, got %v", neighbors)
	}

	neighbors, err = m.Neighbors(ctx, "biz-a", 10, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 {
		t.Errorf("expected one neighbor above threshold, got %v", neighbors)
	}
}
