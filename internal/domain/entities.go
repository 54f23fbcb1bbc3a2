package domain

import "time"

// IngestStatus tracks the lifecycle of a document within the ingestion
// coordinator. Only StatusComplete is ever persisted; a document whose
// ingestion fails is rolled back and leaves no record behind.
type IngestStatus string

const (
	StatusPending  IngestStatus = "pending"
	StatusComplete IngestStatus = "complete"
	StatusFailed   IngestStatus = "failed"
)

// Document is a unit of ingestion, identified by a stable content path or
// external identifier such as a file path or a DOI.
type Document struct {
	ID         string
	Title      string
	TextLen    int
	Status     IngestStatus
	IngestedAt time.Time
}

// Fragment is a contiguous slice of a document's normalized text together
// with its embedding vector. Ordinals are 0-based and monotonic within a
// document.
type Fragment struct {
	DocID   string
	Ordinal int
	Text    string
	Vector  []float32
}

// ScoredFragment pairs a fragment with its similarity score for one query.
type ScoredFragment struct {
	Fragment Fragment
	Score    float64
}

// Source identifies a fragment that grounded an answer.
type Source struct {
	DocID   string  `json:"doc_id"`
	Ordinal int     `json:"ordinal"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Answer is the result of a grounded query: the generated text plus the
// retrieved sources it was based on, in rank order. Sources are populated
// from retrieval even when the model reports the context was insufficient,
// so callers can tell "no information found" from "no sources retrieved".
type Answer struct {
	Text      string   `json:"text"`
	Sources   []Source `json:"sources"`
	NoContext bool     `json:"no_context,omitempty"`
}
