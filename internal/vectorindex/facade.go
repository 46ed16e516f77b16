package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"kb-pipeline/internal/errs"
)

// Embedder is the subset of the Embedding Client the façade needs for
// SearchByText. Declared locally so vectorindex does not import
// internal/embedding; the concrete embedding.Client satisfies it.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Facade is the per-user Vector Index Façade of SPEC_FULL.md §4.4. A
// collection is addressed as a named partition inside the user's private
// index, scoped as "{user_token}__{collection_id}" so collection names can
// never collide across users.
type Facade struct {
	transport *Transport
	embedder  Embedder

	mu      sync.Mutex
	handles map[string]*collectionDTO // keyed by partition name
}

// New builds a Facade over transport, using embedder for SearchByText.
func New(transport *Transport, embedder Embedder) *Facade {
	return &Facade{
		transport: transport,
		embedder:  embedder,
		handles:   make(map[string]*collectionDTO),
	}
}

// Close releases the underlying HTTP transport's idle connections.
func (f *Facade) Close() {
	f.transport.Close()
}

// resolvePartition returns the cached handle for (userToken, collectionID),
// creating the ChromaDB collection on first use.
func (f *Facade) resolvePartition(ctx context.Context, userToken, collectionID string) (*collectionDTO, error) {
	name := partitionName(userToken, collectionID)

	f.mu.Lock()
	if c, ok := f.handles[name]; ok {
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()

	existing, err := f.transport.getCollection(ctx, name)
	if err == nil {
		f.mu.Lock()
		f.handles[name] = existing
		f.mu.Unlock()
		return existing, nil
	}

	created, err := f.transport.createCollection(ctx, name, nil)
	if err != nil {
		return nil, errs.IndexWriteFailedError("resolve_partition", err)
	}
	f.mu.Lock()
	f.handles[name] = created
	f.mu.Unlock()
	return created, nil
}

func (f *Facade) invalidate(userToken, collectionID string) {
	f.mu.Lock()
	delete(f.handles, partitionName(userToken, collectionID))
	f.mu.Unlock()
}

// AddChunks writes docID's chunks to userToken's collectionID partition,
// assigning ids "{doc_id}_{chunk_index}".
func (f *Facade) AddChunks(ctx context.Context, userToken, collectionID, docID string, chunks []Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	partition, err := f.resolvePartition(ctx, userToken, collectionID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(chunks))
	documents := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	metadatas := make([]map[string]interface{}, len(chunks))

	for i, c := range chunks {
		id := chunkID(docID, c.ChunkIndex)
		ids[i] = id
		documents[i] = c.Text
		embeddings[i] = c.Embedding

		metadata := map[string]interface{}{
			"document_id": docID,
			"chunk_index": c.ChunkIndex,
		}
		for k, v := range c.Metadata {
			metadata[k] = jsonSafe(v)
		}
		metadatas[i] = metadata
	}

	if err := f.transport.addDocuments(ctx, partition.ID, ids, documents, embeddings, metadatas); err != nil {
		return nil, errs.IndexWriteFailedError("add_chunks", err)
	}
	return ids, nil
}

// jsonSafe converts composite metadata values to JSON strings, since
// ChromaDB metadata values must be simple scalars.
func jsonSafe(v interface{}) interface{} {
	switch v.(type) {
	case string, int, int64, float32, float64, bool, nil:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// SearchByEmbedding returns up to topK nearest chunks by cosine distance.
func (f *Facade) SearchByEmbedding(ctx context.Context, userToken, collectionID string, vector []float32, topK int) ([]SearchResult, error) {
	partition, err := f.resolvePartition(ctx, userToken, collectionID)
	if err != nil {
		return nil, err
	}

	resp, err := f.transport.query(ctx, partition.ID, [][]float32{vector}, topK)
	if err != nil {
		return nil, errs.TransientError("search_by_embedding", err)
	}

	var results []SearchResult
	if len(resp.IDs) == 0 || len(resp.IDs[0]) == 0 {
		return results, nil
	}

	for i := range resp.IDs[0] {
		var metadata map[string]interface{}
		if len(resp.Metadatas) > 0 && len(resp.Metadatas[0]) > i {
			metadata = resp.Metadatas[0][i]
		}
		var text string
		if len(resp.Documents) > 0 && len(resp.Documents[0]) > i {
			text = resp.Documents[0][i]
		}
		var distance float32
		if len(resp.Distances) > 0 && len(resp.Distances[0]) > i {
			distance = resp.Distances[0][i]
		}

		documentID, _ := metadata["document_id"].(string)

		results = append(results, SearchResult{
			ChunkID:        resp.IDs[0][i],
			DocumentID:     documentID,
			Text:           text,
			Distance:       distance,
			RelevanceScore: 1 - distance,
			Metadata:       metadata,
		})
	}
	return results, nil
}

// SearchByText embeds query then delegates to SearchByEmbedding.
func (f *Facade) SearchByText(ctx context.Context, userToken, collectionID, query string, topK int) ([]SearchResult, error) {
	vector, err := f.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, errs.TransientError("search_by_text", err)
	}
	return f.SearchByEmbedding(ctx, userToken, collectionID, vector, topK)
}

// ListAll returns up to limit chunks in collectionID (0 = the transport's
// cap of 100000).
func (f *Facade) ListAll(ctx context.Context, userToken, collectionID string, limit int) ([]SearchResult, error) {
	partition, err := f.resolvePartition(ctx, userToken, collectionID)
	if err != nil {
		return nil, err
	}

	resp, err := f.transport.getDocuments(ctx, partition.ID, nil, limit)
	if err != nil {
		return nil, errs.TransientError("list_all", err)
	}

	results := make([]SearchResult, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		var metadata map[string]interface{}
		if len(resp.Metadatas) > i {
			metadata = resp.Metadatas[i]
		}
		var text string
		if len(resp.Documents) > i {
			text = resp.Documents[i]
		}
		documentID, _ := metadata["document_id"].(string)
		results = append(results, SearchResult{ChunkID: id, DocumentID: documentID, Text: text, Metadata: metadata})
	}
	return results, nil
}

// DocumentCount returns the number of distinct document ids among the
// chunks stored in collectionID.
func (f *Facade) DocumentCount(ctx context.Context, userToken, collectionID string) (int, error) {
	chunks, err := f.ListAll(ctx, userToken, collectionID, 0)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, c := range chunks {
		seen[c.DocumentID] = struct{}{}
	}
	return len(seen), nil
}

// DeleteDocument removes every chunk whose id has prefix "{doc_id}_",
// returning the number of chunks deleted.
func (f *Facade) DeleteDocument(ctx context.Context, userToken, collectionID, docID string) (int, error) {
	partition, err := f.resolvePartition(ctx, userToken, collectionID)
	if err != nil {
		return 0, err
	}

	resp, err := f.transport.getDocuments(ctx, partition.ID, map[string]interface{}{"document_id": docID}, 0)
	if err != nil {
		return 0, errs.TransientError("delete_document", err)
	}

	prefix := docID + "_"
	var ids []string
	for _, id := range resp.IDs {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := f.transport.deleteDocuments(ctx, partition.ID, ids); err != nil {
		return 0, errs.IndexWriteFailedError("delete_document", err)
	}
	return len(ids), nil
}

// Exists reports whether any chunk for docID is present in collectionID.
func (f *Facade) Exists(ctx context.Context, userToken, collectionID, docID string) (bool, error) {
	partition, err := f.resolvePartition(ctx, userToken, collectionID)
	if err != nil {
		return false, err
	}
	resp, err := f.transport.getDocuments(ctx, partition.ID, map[string]interface{}{"document_id": docID}, 1)
	if err != nil {
		return false, errs.TransientError("exists", err)
	}
	return len(resp.IDs) > 0, nil
}

// DeleteCollection removes the entire partition for (userToken,
// collectionID), used when a collection itself is deleted.
func (f *Facade) DeleteCollection(ctx context.Context, userToken, collectionID string) error {
	name := partitionName(userToken, collectionID)
	if err := f.transport.deleteCollection(ctx, name); err != nil {
		return errs.IndexWriteFailedError("delete_collection", err)
	}
	f.invalidate(userToken, collectionID)
	return nil
}
