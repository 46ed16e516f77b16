// Package vectorindex implements the per-user Vector Index Façade of
// SPEC_FULL.md §4.4, transported over a handwritten ChromaDB v2 HTTP client
// in the teacher's own style (internal/db/chromadb.go), façade-shaped after
// internal/repositories/chroma_vector_repository.go's VectorRepository.
package vectorindex

import "fmt"

// SearchResult is one ranked match returned by SearchByEmbedding/SearchByText.
type SearchResult struct {
	ChunkID        string
	DocumentID     string
	Text           string
	Distance       float32
	RelevanceScore float32
	Metadata       map[string]interface{}
}

// Chunk is one unit of text plus its embedding and metadata, ready to be
// added to a collection.
type Chunk struct {
	Text       string
	Embedding  []float32
	ChunkIndex int
	Metadata   map[string]interface{}
}

// partitionName scopes a collection id to the owning user, so collection
// names can never collide across users inside the shared ChromaDB tenant.
func partitionName(userToken, collectionID string) string {
	return fmt.Sprintf("%s__%s", userToken, collectionID)
}

// chunkID assigns the spec's {doc_id}_{chunk_index} id format — note the
// underscore, not the teacher's own "-chunk-" convention.
func chunkID(docID string, index int) string {
	return fmt.Sprintf("%s_%d", docID, index)
}
