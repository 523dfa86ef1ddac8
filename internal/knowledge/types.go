package knowledge

// Document is a chunk of agent training material ready for storage.
// The embedding must already be computed and match the store's vector width.
type Document struct {
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Match is a single retrieval hit, ordered by descending similarity.
type Match struct {
	ID         int64
	Content    string
	Metadata   map[string]string
	Similarity float64 // cosine similarity (1 - distance), 0..1
}
