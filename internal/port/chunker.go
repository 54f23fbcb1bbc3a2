package port

// Chunker splits normalized document text into ordered fragment texts.
// Chunking is deterministic: identical input and parameters always yield
// identical fragment boundaries.
type Chunker interface {
	Chunk(text string) ([]string, error)
}
