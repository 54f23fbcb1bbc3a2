package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"librarian/internal/domain"
)

var (
	bucketDocuments = []byte("documents")
	bucketFragments = []byte("fragments")
	bucketMeta      = []byte("meta")
)

// BoltStore is a durable fragment store backed by bbolt. Vectors are kept
// in an in-memory cache for search; fragment text stays on disk. All
// mutations for one document happen inside a single bbolt transaction, so a
// reader never observes a half-written fragment set.
type BoltStore struct {
	db        *bbolt.DB
	identity  Identity
	cacheMu   sync.RWMutex
	vectors   map[string][]cachedVector // docID -> vectors ordered by ordinal
	docLocks  sync.Map                  // docID -> *sync.Mutex, serializes upserts per document
}

type cachedVector struct {
	ordinal int
	vector  []float32
}

type docRecord struct {
	Title      string `json:"title"`
	TextLen    int    `json:"text_len"`
	Status     string `json:"status"`
	IngestedAt int64  `json:"ingested_at"`
}

type fragRecord struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// Open opens or creates a store at path. The embedding identity is part of
// the schema contract: opening a store written with a different provider,
// model or dimension fails rather than risking silently-mixed vectors.
func Open(path string, identity Identity) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDocuments, bucketFragments, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return verifyIdentity(tx, identity)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{
		db:       db,
		identity: identity,
		vectors:  make(map[string][]cachedVector),
	}
	if err := s.loadVectors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return s, nil
}

// loadVectors fills the in-memory search cache from disk.
func (s *BoltStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFragments).ForEach(func(k, v []byte) error {
			docID, ordinal, err := splitFragKey(k)
			if err != nil {
				return err
			}
			var rec fragRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt fragment %s/%d: %w", docID, ordinal, err)
			}
			s.vectors[docID] = append(s.vectors[docID], cachedVector{
				ordinal: ordinal,
				vector:  rec.Vector,
			})
			return nil
		})
	})
}

// lockFor returns the upsert mutex for one document identity.
func (s *BoltStore) lockFor(docID string) *sync.Mutex {
	mu, _ := s.docLocks.LoadOrStore(docID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// UpsertFragments atomically replaces all fragments of doc.ID and writes
// its ingestion record. Delete-then-insert runs in one transaction; on
// failure the prior fragment set survives intact.
func (s *BoltStore) UpsertFragments(doc domain.Document, fragments []domain.Fragment) error {
	for _, f := range fragments {
		if len(f.Vector) != s.identity.Dimension {
			return fmt.Errorf("%w: fragment %d has dimension %d, store expects %d",
				domain.ErrDimensionMismatch, f.Ordinal, len(f.Vector), s.identity.Dimension)
		}
	}

	mu := s.lockFor(doc.ID)
	mu.Lock()
	defer mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		frags := tx.Bucket(bucketFragments)
		if err := deleteDocFragments(frags, doc.ID); err != nil {
			return err
		}

		for _, f := range fragments {
			rec := fragRecord{Text: f.Text, Vector: f.Vector}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := frags.Put(fragKey(doc.ID, f.Ordinal), data); err != nil {
				return err
			}
		}

		rec := docRecord{
			Title:      doc.Title,
			TextLen:    doc.TextLen,
			Status:     string(doc.Status),
			IngestedAt: doc.IngestedAt.Unix(),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocuments).Put([]byte(doc.ID), data)
	})
	if err != nil {
		return err
	}

	// Cache swap only after the transaction committed.
	cached := make([]cachedVector, len(fragments))
	for i, f := range fragments {
		cached[i] = cachedVector{ordinal: f.Ordinal, vector: f.Vector}
	}
	s.cacheMu.Lock()
	s.vectors[doc.ID] = cached
	s.cacheMu.Unlock()

	return nil
}

// Search returns the topK most similar fragments, optionally restricted to
// docFilter. Ordering is a total order: descending similarity, ties broken
// by ascending ordinal, then document ID for reproducibility.
func (s *BoltStore) Search(vector []float32, topK int, docFilter []string) ([]domain.ScoredFragment, error) {
	if len(vector) != s.identity.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store expects %d",
			domain.ErrDimensionMismatch, len(vector), s.identity.Dimension)
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

	type scored struct {
		docID   string
		ordinal int
		score   float64
	}

	s.cacheMu.RLock()
	var candidates []scored
	for docID, frags := range s.vectors {
		if filter != nil {
			if _, ok := filter[docID]; !ok {
				continue
			}
		}
		for _, f := range frags {
			candidates = append(candidates, scored{
				docID:   docID,
				ordinal: f.ordinal,
				score:   cosineSimilarity(vector, f.vector),
			})
		}
	}
	s.cacheMu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].ordinal != candidates[j].ordinal {
			return candidates[i].ordinal < candidates[j].ordinal
		}
		return candidates[i].docID < candidates[j].docID
	})

	if topK < len(candidates) {
		candidates = candidates[:topK]
	}

	results := make([]domain.ScoredFragment, 0, len(candidates))
	err := s.db.View(func(tx *bbolt.Tx) error {
		frags := tx.Bucket(bucketFragments)
		for _, c := range candidates {
			data := frags.Get(fragKey(c.docID, c.ordinal))
			if data == nil {
				continue // deleted between scoring and fetch
			}
			var rec fragRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			results = append(results, domain.ScoredFragment{
				Fragment: domain.Fragment{
					DocID:   c.docID,
					Ordinal: c.ordinal,
					Text:    rec.Text,
					Vector:  rec.Vector,
				},
				Score: c.score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// HasDocument reports whether an ingestion record exists for id.
func (s *BoltStore) HasDocument(id string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketDocuments).Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

// GetDocument returns the ingestion record for id.
func (s *BoltStore) GetDocument(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		var rec docRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		doc = decodeDoc(id, rec)
		return nil
	})
	return doc, err
}

// ListDocuments returns all ingestion records.
func (s *BoltStore) ListDocuments() ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			var rec docRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			docs = append(docs, decodeDoc(string(k), rec))
			return nil
		})
	})
	return docs, err
}

// FragmentCount returns the number of fragments stored for id.
func (s *BoltStore) FragmentCount(id string) (int, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.vectors[id]), nil
}

// DeleteDocument removes all fragments and the ingestion record for id.
func (s *BoltStore) DeleteDocument(id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteDocFragments(tx.Bucket(bucketFragments), id); err != nil {
			return err
		}
		return tx.Bucket(bucketDocuments).Delete([]byte(id))
	})
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	delete(s.vectors, id)
	s.cacheMu.Unlock()
	return nil
}

// Identity returns the embedding identity the store was opened with.
func (s *BoltStore) Identity() Identity {
	return s.identity
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodeDoc(id string, rec docRecord) domain.Document {
	return domain.Document{
		ID:         id,
		Title:      rec.Title,
		TextLen:    rec.TextLen,
		Status:     domain.IngestStatus(rec.Status),
		IngestedAt: time.Unix(rec.IngestedAt, 0),
	}
}

// deleteDocFragments removes every fragment of docID within tx.
func deleteDocFragments(frags *bbolt.Bucket, docID string) error {
	prefix := fragPrefix(docID)
	c := frags.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// Fragment keys are docID, a zero byte, then the big-endian ordinal, so a
// document's fragments form one contiguous, ordered key range.
func fragPrefix(docID string) []byte {
	return append([]byte(docID), 0)
}

func fragKey(docID string, ordinal int) []byte {
	key := fragPrefix(docID)
	var ord [8]byte
	binary.BigEndian.PutUint64(ord[:], uint64(ordinal))
	return append(key, ord[:]...)
}

func splitFragKey(key []byte) (string, int, error) {
	sep := len(key) - 9
	if sep < 0 || key[sep] != 0 {
		return "", 0, fmt.Errorf("malformed fragment key %q", key)
	}
	ordinal := binary.BigEndian.Uint64(key[sep+1:])
	return string(key[:sep]), int(ordinal), nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Gateway vectors are unit length so this reduces to an inner product, but
// the norms are computed anyway to stay correct for arbitrary input.
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
