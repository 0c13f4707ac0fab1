package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/timmy/kbase/internal/domain"
)

type processorFixture struct {
	docs      *fakeDocumentStore
	biz       *fakeBusinessStore
	index     *fakeVectorIndex
	embedder  *fakeEmbedder
	entities  *fakeEntityStore
	locks     *KeyedMutex
	processor *DocumentProcessor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	f := &processorFixture{
		docs:     newFakeDocumentStore(),
		biz:      newFakeBusinessStore("biz1"),
		index:    newFakeVectorIndex(),
		embedder: newFakeEmbedder(),
		entities: newFakeEntityStore(),
		locks:    NewKeyedMutex(),
	}
	f.processor = NewDocumentProcessor(
		f.docs, f.biz, f.index, f.embedder, fakeConverter{}, nil,
		NewRelationManager(f.entities),
		NewEntityExtractor(nil),
		NewChunker(100, 0),
		f.locks,
		&ProcessorConfig{CollectionPrefix: "kb", RetryCount: 3, RetryBackoff: time.Millisecond},
	)
	return f
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessEndToEnd(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	path := writeSource(t, "manual.txt",
		"The rotor spins at high speed. The stator remains fixed. Inspect the rotor bearings weekly.")

	doc, started, err := f.processor.Process(ctx, "biz1", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !started {
		t.Fatal("expected processing to run")
	}

	if doc.Status != domain.DocumentStatusProcessed {
		t.Errorf("expected processed status, got %q", doc.Status)
	}
	if doc.IndexedAt == nil {
		t.Error("expected indexed timestamp")
	}
	if doc.ChunkCount == 0 {
		t.Error("expected chunks")
	}
	if len(doc.EntityTerms) == 0 {
		t.Error("expected extracted entity terms")
	}
	if doc.Fingerprint == "" {
		t.Error("expected content fingerprint")
	}

	// Vector index and chunk records agree with the document
	count, _ := f.index.CountPoints(ctx, "kb_biz1")
	if count != doc.ChunkCount {
		t.Errorf("expected %d points, got %d", doc.ChunkCount, count)
	}
	chunks, _ := f.docs.ListChunks(ctx, doc.ID)
	if len(chunks) != doc.ChunkCount {
		t.Errorf("expected %d chunk records, got %d", doc.ChunkCount, len(chunks))
	}

	// Entities carry the document attribution
	terms, _ := f.entities.TermsForBusiness(ctx, "biz1")
	if len(terms) == 0 {
		t.Error("expected entities for the business")
	}
}

func TestProcessSkipsUnchangedSource(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	path := writeSource(t, "manual.txt", "The rotor spins at high speed.")

	first, started, err := f.processor.Process(ctx, "biz1", path)
	if err != nil || !started {
		t.Fatalf("first run: started=%v err=%v", started, err)
	}

	second, started, err := f.processor.Process(ctx, "biz1", path)
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Error("unchanged source should be skipped")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing document, got %s vs %s", second.ID, first.ID)
	}

	count, _ := f.docs.CountByBusiness(ctx, "biz1")
	if count != 1 {
		t.Errorf("expected one document record, got %d", count)
	}
}

func TestProcessChangedSourceCreatesNewDocument(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	path := writeSource(t, "manual.txt", "The rotor spins at high speed.")
	first, _, err := f.processor.Process(ctx, "biz1", path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("The stator remains fixed."), 0o644); err != nil {
		t.Fatal(err)
	}
	second, started, err := f.processor.Process(ctx, "biz1", path)
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Error("changed content should be reprocessed")
	}
	if second.ID == first.ID {
		t.Error("expected a new document record for changed content")
	}
}

func TestSubmitAsyncReturnsDetachedDocument(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	path := writeSource(t, "manual.txt", "The rotor spins at high speed.")

	doc, started, err := f.processor.SubmitAsync(ctx, "biz1", path)
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Fatal("expected processing to start")
	}
	if doc.Status != domain.DocumentStatusPending {
		t.Errorf("expected pending snapshot, got %q", doc.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stored, err := f.docs.GetByID(ctx, doc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Status == domain.DocumentStatusProcessed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("processing did not finish, status %q", stored.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The background pipeline must never write to the returned record
	if doc.Status != domain.DocumentStatusPending || doc.IndexedAt != nil {
		t.Errorf("returned document is shared with the pipeline: status=%q indexed_at=%v",
			doc.Status, doc.IndexedAt)
	}
}

func TestProcessRecordsFailedStage(t *testing.T) {
	f := newProcessorFixture(t)
	f.embedder.failPermanent = true
	f.embedder.failsLeft = 100
	ctx := context.Background()

	path := writeSource(t, "manual.txt", "The rotor spins at high speed.")

	doc, _, err := f.processor.Process(ctx, "biz1", path)
	if err == nil {
		t.Fatal("expected processing error")
	}
	if doc.Status != domain.DocumentStatusFailed {
		t.Errorf("expected failed status, got %q", doc.Status)
	}
	if doc.FailedStage != StageEmbed {
		t.Errorf("expected failure at %q, got %q", StageEmbed, doc.FailedStage)
	}

	stored, getErr := f.docs.GetByID(ctx, doc.ID)
	if getErr != nil {
		t.Fatal(getErr)
	}
	if stored.FailedStage != StageEmbed {
		t.Errorf("failure state not persisted: %q", stored.FailedStage)
	}
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	f := newProcessorFixture(t)
	f.embedder.failsLeft = 2
	ctx := context.Background()

	path := writeSource(t, "manual.txt", "The rotor spins at high speed.")

	doc, _, err := f.processor.Process(ctx, "biz1", path)
	if err != nil {
		t.Fatalf("transient failures within the retry budget must recover: %v", err)
	}
	if doc.Status != domain.DocumentStatusProcessed {
		t.Errorf("expected processed status, got %q", doc.Status)
	}
	if f.embedder.calls != 3 {
		t.Errorf("expected 2 failed attempts plus 1 success, got %d calls", f.embedder.calls)
	}
}

func TestProcessPermanentErrorNotRetried(t *testing.T) {
	f := newProcessorFixture(t)
	f.embedder.failPermanent = true
	f.embedder.failsLeft = 100
	ctx := context.Background()

	path := writeSource(t, "manual.txt", "The rotor spins at high speed.")

	if _, _, err := f.processor.Process(ctx, "biz1", path); err == nil {
		t.Fatal("expected error")
	}
	if f.embedder.calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", f.embedder.calls)
	}
}

func TestProcessUnknownBusiness(t *testing.T) {
	f := newProcessorFixture(t)
	path := writeSource(t, "manual.txt", "The rotor spins at high speed.")

	if _, _, err := f.processor.Process(context.Background(), "ghost", path); err == nil {
		t.Fatal("expected error for unknown business")
	}
}

func TestDeterministicPointIDs(t *testing.T) {
	a := chunkPointID("doc-1", 0)
	b := chunkPointID("doc-1", 0)
	c := chunkPointID("doc-1", 1)
	d := chunkPointID("doc-2", 0)

	if a != b {
		t.Errorf("same document and index must map to the same id: %s vs %s", a, b)
	}
	if a == c || a == d {
		t.Error("different chunks must map to different ids")
	}
}

func TestDeleteDocumentCleansUp(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	path := writeSource(t, "manual.txt", "The rotor spins at high speed. Inspect the rotor weekly.")
	doc, _, err := f.processor.Process(ctx, "biz1", path)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.processor.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.docs.GetByID(ctx, doc.ID); err == nil {
		t.Error("document record should be gone")
	}
	count, _ := f.index.CountPoints(ctx, "kb_biz1")
	if count != 0 {
		t.Errorf("expected no points after delete, got %d", count)
	}
	terms, _ := f.entities.TermsForBusiness(ctx, "biz1")
	if len(terms) != 0 {
		t.Errorf("expected entity attributions purged, got %v", terms)
	}
}
