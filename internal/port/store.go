package port

import "librarian/internal/domain"

// FragmentStore is the durable repository of documents and their embedded
// fragments. It exclusively owns fragment persistence.
type FragmentStore interface {
	// UpsertFragments atomically replaces all fragments of a document and
	// writes its ingestion record in the same transaction. On failure the
	// document's prior fragment set is left intact, never mixed.
	// Upserts for the same document are serialized; different documents
	// proceed independently.
	UpsertFragments(doc domain.Document, fragments []domain.Fragment) error

	// Search returns the topK fragments most similar to the query vector,
	// ordered by descending cosine similarity with ties broken by ascending
	// ordinal. A non-empty docFilter restricts results to those documents.
	Search(vector []float32, topK int, docFilter []string) ([]domain.ScoredFragment, error)

	// HasDocument reports whether an ingestion record exists for the
	// identity, independent of fragment count.
	HasDocument(id string) (bool, error)

	// GetDocument returns the ingestion record for the identity.
	GetDocument(id string) (domain.Document, error)

	// ListDocuments returns all ingestion records.
	ListDocuments() ([]domain.Document, error)

	// FragmentCount returns the number of fragments stored for the document.
	FragmentCount(id string) (int, error)

	// DeleteDocument removes all fragments and the ingestion record.
	DeleteDocument(id string) error

	Close() error
}
