package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/repository"
)

// In-memory fakes for the store and collaborator interfaces.

type fakeBusinessStore struct {
	mu         sync.Mutex
	businesses map[string]domain.Business
}

func newFakeBusinessStore(ids ...string) *fakeBusinessStore {
	s := &fakeBusinessStore{businesses: make(map[string]domain.Business)}
	for _, id := range ids {
		s.businesses[id] = domain.Business{ID: id, DisplayName: id}
	}
	return s
}

func (s *fakeBusinessStore) Create(_ context.Context, b *domain.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = *b
	return nil
}

func (s *fakeBusinessStore) GetByID(_ context.Context, id string) (*domain.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *fakeBusinessStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.businesses[id]
	return ok, nil
}

func (s *fakeBusinessStore) List(_ context.Context) ([]domain.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.businesses))
	for id := range s.businesses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Business, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.businesses[id])
	}
	return out, nil
}

func (s *fakeBusinessStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.businesses, id)
	return nil
}

type fakeDocumentStore struct {
	mu     sync.Mutex
	docs   map[string]domain.Document
	chunks map[string][]domain.Chunk
	order  []string
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{
		docs:   make(map[string]domain.Document),
		chunks: make(map[string][]domain.Chunk),
	}
}

func (s *fakeDocumentStore) Create(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = *doc
	s.order = append(s.order, doc.ID)
	return nil
}

func (s *fakeDocumentStore) Update(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return domain.ErrNotFound
	}
	s.docs[doc.ID] = *doc
	return nil
}

func (s *fakeDocumentStore) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

func (s *fakeDocumentStore) GetByFingerprint(_ context.Context, businessID, fingerprint string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.BusinessID == businessID && doc.Fingerprint == fingerprint {
			return &doc, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeDocumentStore) GetByIDs(_ context.Context, ids []string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *fakeDocumentStore) ListByBusiness(_ context.Context, businessID string, limit, offset int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.BusinessID == businessID {
			out = append(out, doc)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeDocumentStore) ListByBusinessAndStatus(_ context.Context, businessID string, status domain.DocumentStatus) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.BusinessID == businessID && doc.Status == status {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *fakeDocumentStore) CountByBusiness(_ context.Context, businessID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, doc := range s.docs {
		if doc.BusinessID == businessID {
			n++
		}
	}
	return n, nil
}

func (s *fakeDocumentStore) CountByBusinessAndStatus(_ context.Context, businessID string, status domain.DocumentStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, doc := range s.docs {
		if doc.BusinessID == businessID && doc.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *fakeDocumentStore) CountChunksByBusiness(_ context.Context, businessID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for docID, chunks := range s.chunks {
		if doc, ok := s.docs[docID]; ok && doc.BusinessID == businessID {
			n += int64(len(chunks))
		}
	}
	return n, nil
}

func (s *fakeDocumentStore) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[documentID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

func (s *fakeDocumentStore) ListChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Chunk(nil), s.chunks[documentID]...), nil
}

func (s *fakeDocumentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *fakeDocumentStore) DeleteByBusiness(_ context.Context, businessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, doc := range s.docs {
		if doc.BusinessID == businessID {
			delete(s.docs, id)
			delete(s.chunks, id)
		}
	}
	return nil
}

type fakeEntityStore struct {
	mu       sync.Mutex
	entities map[string]domain.Entity       // businessID|term
	edges    map[string]domain.RelationEdge // businessA|businessB
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		entities: make(map[string]domain.Entity),
		edges:    make(map[string]domain.RelationEdge),
	}
}

func entityKey(businessID, term string) string {
	return businessID + "|" + term
}

func (s *fakeEntityStore) UpsertEntity(_ context.Context, e *domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityKey(e.BusinessID, e.Term)] = *e
	return nil
}

func (s *fakeEntityStore) GetEntity(_ context.Context, businessID, term string) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityKey(businessID, term)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *fakeEntityStore) TermsForBusiness(_ context.Context, businessID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var terms []string
	for _, e := range s.entities {
		if e.BusinessID == businessID {
			terms = append(terms, e.Term)
		}
	}
	sort.Strings(terms)
	return terms, nil
}

func (s *fakeEntityStore) ListByDocument(_ context.Context, businessID, documentID string) ([]domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Entity
	for _, e := range s.entities {
		if e.BusinessID != businessID {
			continue
		}
		for _, id := range e.SourceDocIDs {
			if id == documentID {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeEntityStore) HoldersByTerm(_ context.Context, terms []string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(terms))
	for _, t := range terms {
		want[t] = true
	}
	holders := make(map[string][]string)
	for _, e := range s.entities {
		if want[e.Term] {
			holders[e.Term] = append(holders[e.Term], e.BusinessID)
		}
	}
	for t := range holders {
		sort.Strings(holders[t])
	}
	return holders, nil
}

func (s *fakeEntityStore) CountByBusiness(_ context.Context, businessID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entities {
		if e.BusinessID == businessID {
			n++
		}
	}
	return n, nil
}

func (s *fakeEntityStore) UpdateEntity(_ context.Context, e *domain.Entity) error {
	return s.UpsertEntity(context.Background(), e)
}

func (s *fakeEntityStore) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entities {
		if e.ID == id {
			delete(s.entities, key)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeEntityStore) DeleteEntitiesByBusiness(_ context.Context, businessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entities {
		if e.BusinessID == businessID {
			delete(s.entities, key)
		}
	}
	return nil
}

func (s *fakeEntityStore) UpsertEdge(_ context.Context, edge *domain.RelationEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edge.BusinessA+"|"+edge.BusinessB] = *edge
	return nil
}

func (s *fakeEntityStore) EdgesFor(_ context.Context, businessID string) ([]domain.RelationEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RelationEdge
	for _, e := range s.edges {
		if e.BusinessA == businessID || e.BusinessB == businessID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BusinessA+out[i].BusinessB < out[j].BusinessA+out[j].BusinessB
	})
	return out, nil
}

func (s *fakeEntityStore) DeleteEdge(_ context.Context, businessA, businessB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, b := domain.CanonicalPair(businessA, businessB)
	delete(s.edges, a+"|"+b)
	return nil
}

func (s *fakeEntityStore) DeleteEdgesFor(_ context.Context, businessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.edges {
		if e.BusinessA == businessID || e.BusinessB == businessID {
			delete(s.edges, key)
		}
	}
	return nil
}

type fakeVectorIndex struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string]map[string]repository.VectorPoint
	// Scripted per-collection search results, returned in order.
	searchResults map[string][]repository.SearchResult
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{
		collections:   make(map[string]int),
		points:        make(map[string]map[string]repository.VectorPoint),
		searchResults: make(map[string][]repository.SearchResult),
	}
}

func (f *fakeVectorIndex) EnsureCollection(_ context.Context, collection string, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.collections[collection]; ok {
		if existing != dimension {
			return domain.NewConfigError("qdrant.EnsureCollection",
				fmt.Errorf("collection %s has dimension %d, expected %d", collection, existing, dimension))
		}
		return nil
	}
	f.collections[collection] = dimension
	f.points[collection] = make(map[string]repository.VectorPoint)
	return nil
}

func (f *fakeVectorIndex) CollectionExists(_ context.Context, collection string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[collection]
	return ok, nil
}

func (f *fakeVectorIndex) DropCollection(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, collection)
	delete(f.points, collection)
	return nil
}

func (f *fakeVectorIndex) UpsertPoints(_ context.Context, collection string, points []repository.VectorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[collection] == nil {
		f.points[collection] = make(map[string]repository.VectorPoint)
	}
	for _, p := range points {
		f.points[collection][p.ID] = p
	}
	return nil
}

func (f *fakeVectorIndex) Search(_ context.Context, collection string, _ []float32, topK int, _ *repository.SearchFilter) ([]repository.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := f.searchResults[collection]
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return append([]repository.SearchResult(nil), results...), nil
}

func (f *fakeVectorIndex) ListPoints(_ context.Context, collection string) ([]repository.PointRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var refs []repository.PointRef
	for id, p := range f.points[collection] {
		ref := repository.PointRef{ID: id}
		if p.Payload != nil {
			ref.DocumentID = p.Payload.DocumentID
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (f *fakeVectorIndex) CountPoints(_ context.Context, collection string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points[collection]), nil
}

func (f *fakeVectorIndex) DeletePoints(_ context.Context, collection string, pointIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range pointIDs {
		delete(f.points[collection], id)
	}
	return nil
}

func (f *fakeVectorIndex) DeleteByDocument(_ context.Context, collection, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.points[collection] {
		if p.Payload != nil && p.Payload.DocumentID == documentID {
			delete(f.points[collection], id)
		}
	}
	return nil
}

// addOrphanPoint injects a point without a matching document record.
func (f *fakeVectorIndex) addOrphanPoint(collection, pointID, documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[collection] == nil {
		f.collections[collection] = 4
		f.points[collection] = make(map[string]repository.VectorPoint)
	}
	f.points[collection][pointID] = repository.VectorPoint{
		ID:      pointID,
		Payload: &repository.ChunkPayload{DocumentID: documentID},
	}
}

type fakeEmbedder struct {
	mu            sync.Mutex
	dims          int
	calls         int
	failsLeft     int
	failPermanent bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dims: 4}
}

func (f *fakeEmbedder) vector(text string) []float32 {
	v := make([]float32, f.dims)
	for i, r := range text {
		v[i%f.dims] += float32(r % 13)
	}
	return v
}

func (f *fakeEmbedder) fail() error {
	if f.failPermanent {
		return fmt.Errorf("embedding rejected")
	}
	return domain.NewTransientError("embedding.EmbedBatch", fmt.Errorf("upstream overloaded"))
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return f.EmbedQuery(context.Background(), text)
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failsLeft > 0 {
		f.failsLeft--
		return nil, f.fail()
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failsLeft > 0 {
		f.failsLeft--
		return nil, f.fail()
	}
	return f.vector(query), nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeConverter struct{}

func (fakeConverter) ExtractText(_ context.Context, _ string, data []byte) (string, error) {
	return string(data), nil
}

func (fakeConverter) DescribeImage(_ context.Context, name string, _ []byte, _ string) (string, error) {
	return "description of " + name, nil
}

type fakeGenerator struct {
	enabled bool
	answer  string
	err     error
	// Captured context text from the last Generate call.
	lastContext string
}

func (g *fakeGenerator) IsEnabled() bool { return g.enabled }

func (g *fakeGenerator) Generate(_ context.Context, _ string, contextText string) (string, error) {
	g.lastContext = contextText
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func boolPtr(b bool) *bool { return &b }
