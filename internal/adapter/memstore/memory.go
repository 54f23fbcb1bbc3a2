package memstore

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"librarian/internal/domain"
)

// MemoryStore is an in-memory fragment store with the same contract as the
// durable one: per-document replacement is atomic under the store lock and
// search ordering follows the same total order. Used by tests and for
// ephemeral sessions.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]domain.Document
	fragments map[string][]domain.Fragment
}

// New creates an empty in-memory store for vectors of the given dimension.
func New(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		docs:      make(map[string]domain.Document),
		fragments: make(map[string][]domain.Fragment),
	}
}

func (s *MemoryStore) UpsertFragments(doc domain.Document, fragments []domain.Fragment) error {
	for _, f := range fragments {
		if len(f.Vector) != s.dimension {
			return fmt.Errorf("%w: fragment %d has dimension %d, store expects %d",
				domain.ErrDimensionMismatch, f.Ordinal, len(f.Vector), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.fragments[doc.ID] = append([]domain.Fragment(nil), fragments...)
	return nil
}

func (s *MemoryStore) Search(vector []float32, topK int, docFilter []string) ([]domain.ScoredFragment, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store expects %d",
			domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	var filter map[string]struct{}
	if len(docFilter) > 0 {
		filter = make(map[string]struct{}, len(docFilter))
		for _, id := range docFilter {
			filter[id] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.ScoredFragment
	for docID, frags := range s.fragments {
		if filter != nil {
			if _, ok := filter[docID]; !ok {
				continue
			}
		}
		for _, f := range frags {
			results = append(results, domain.ScoredFragment{
				Fragment: f,
				Score:    cosineSimilarity(vector, f.Vector),
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Fragment.Ordinal != results[j].Fragment.Ordinal {
			return results[i].Fragment.Ordinal < results[j].Fragment.Ordinal
		}
		return results[i].Fragment.DocID < results[j].Fragment.DocID
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) HasDocument(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[id]
	return ok, nil
}

func (s *MemoryStore) GetDocument(id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (s *MemoryStore) ListDocuments() ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) FragmentCount(id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments[id]), nil
}

func (s *MemoryStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	delete(s.fragments, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
