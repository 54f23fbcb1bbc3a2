package domain

import "errors"

// Domain errors represent engine-level failures.
// These are distinct from infrastructure errors and are matched with
// errors.Is by callers deciding on retry policy.
var (
	// ErrProviderUnavailable indicates the embedding or completion provider
	// could not be reached. Transient; safe to retry with backoff.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrEmbeddingMismatch indicates the provider returned a different number
	// of vectors than texts submitted. Fatal; never retried.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")

	// ErrDimensionMismatch indicates a vector whose dimensionality differs
	// from the store's configured embedding model. Fatal configuration error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInputTooLarge indicates a request exceeded the provider's token
	// limit. The caller must re-chunk smaller; input is never truncated.
	ErrInputTooLarge = errors.New("input exceeds provider token limit")

	// ErrDocumentNotFound indicates a query was scoped to an unindexed
	// document in strict mode.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrIngestInProgress indicates a concurrent ingestion for the same
	// document identity is already running.
	ErrIngestInProgress = errors.New("ingestion already in progress")

	// ErrTimeout indicates an operation exceeded its deadline and was
	// cancelled cleanly with no partial writes.
	ErrTimeout = errors.New("operation timed out")
)
