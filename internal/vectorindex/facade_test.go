package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChroma is a minimal in-memory stand-in for ChromaDB's v2 HTTP API,
// just enough surface for Facade's operations.
type fakeChroma struct {
	mu          sync.Mutex
	collections map[string]*collectionDTO // by name
	documents   map[string]map[string]chunkRecord // collectionID -> chunkID -> record
	nextID      int
}

type chunkRecord struct {
	text      string
	metadata  map[string]interface{}
	embedding []float32
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{
		collections: make(map[string]*collectionDTO),
		documents:   make(map[string]map[string]chunkRecord),
	}
}

func (f *fakeChroma) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v2/tenants/default_tenant/databases/default_database/collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Name     string                 `json:"name"`
				Metadata map[string]interface{} `json:"metadata"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.nextID++
			c := &collectionDTO{ID: "col-" + strconv.Itoa(f.nextID), Name: body.Name, Metadata: body.Metadata}
			f.collections[body.Name] = c
			f.documents[c.ID] = make(map[string]chunkRecord)
			json.NewEncoder(w).Encode(c)
		case http.MethodGet:
			var out []*collectionDTO
			for _, c := range f.collections {
				out = append(out, c)
			}
			json.NewEncoder(w).Encode(out)
		}
	})
	mux.HandleFunc("/api/v2/tenants/default_tenant/databases/default_database/collections/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v2/tenants/default_tenant/databases/default_database/collections/")
		parts := strings.SplitN(path, "/", 2)
		name := parts[0]

		f.mu.Lock()
		defer f.mu.Unlock()

		if len(parts) == 1 {
			c, ok := f.collections[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(c)
			return
		}

		c, ok := f.collections[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch parts[1] {
		case "add":
			var body struct {
				IDs        []string                 `json:"ids"`
				Documents  []string                 `json:"documents"`
				Embeddings [][]float32               `json:"embeddings"`
				Metadatas  []map[string]interface{} `json:"metadatas"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			for i, id := range body.IDs {
				f.documents[c.ID][id] = chunkRecord{text: body.Documents[i], metadata: body.Metadatas[i], embedding: body.Embeddings[i]}
			}
			w.WriteHeader(http.StatusOK)
		case "query":
			var body struct {
				QueryEmbeddings [][]float32 `json:"query_embeddings"`
				NResults        int         `json:"n_results"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			var ids []string
			var docs []string
			var metas []map[string]interface{}
			var dists []float32
			for id, rec := range f.documents[c.ID] {
				ids = append(ids, id)
				docs = append(docs, rec.text)
				metas = append(metas, rec.metadata)
				dists = append(dists, 0.1)
				if len(ids) >= body.NResults {
					break
				}
			}
			resp := queryResponseDTO{IDs: [][]string{ids}, Documents: [][]string{docs}, Metadatas: [][]map[string]interface{}{metas}, Distances: [][]float32{dists}}
			json.NewEncoder(w).Encode(resp)
		case "get":
			var body struct {
				Where map[string]interface{} `json:"where"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			var ids []string
			var docs []string
			var metas []map[string]interface{}
			for id, rec := range f.documents[c.ID] {
				if docID, ok := body.Where["document_id"]; ok {
					if rec.metadata["document_id"] != docID {
						continue
					}
				}
				ids = append(ids, id)
				docs = append(docs, rec.text)
				metas = append(metas, rec.metadata)
			}
			json.NewEncoder(w).Encode(getResponseDTO{IDs: ids, Documents: docs, Metadatas: metas})
		case "delete":
			var body struct {
				IDs []string `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			for _, id := range body.IDs {
				delete(f.documents[c.ID], id)
			}
			w.WriteHeader(http.StatusOK)
		case "count":
			fmt.Fprintf(w, "%d", len(f.documents[c.ID]))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return httptest.NewServer(mux)
}

type stubEmbedder struct{ vector []float32 }

func (s stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return s.vector, nil
}

func newTestFacade(t *testing.T) (*Facade, func()) {
	t.Helper()
	fake := newFakeChroma()
	srv := fake.server()

	host := strings.TrimPrefix(srv.URL, "http://")
	parts := strings.Split(host, ":")
	port, _ := strconv.Atoi(parts[1])

	transport := NewTransport(TransportConfig{Host: parts[0], Port: port})
	facade := New(transport, stubEmbedder{vector: []float32{0.1, 0.2}})
	return facade, srv.Close
}

func TestAddChunksAndSearchByEmbedding(t *testing.T) {
	facade, closeFn := newTestFacade(t)
	defer closeFn()
	ctx := context.Background()

	ids, err := facade.AddChunks(ctx, "alice", "coll-1", "doc-1", []Chunk{
		{Text: "hello", Embedding: []float32{0.1, 0.2}, ChunkIndex: 0},
		{Text: "world", Embedding: []float32{0.3, 0.4}, ChunkIndex: 1},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-1_0", "doc-1_1"}, ids)

	results, err := facade.SearchByEmbedding(ctx, "alice", "coll-1", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDeleteDocument_RemovesOnlyItsChunks(t *testing.T) {
	facade, closeFn := newTestFacade(t)
	defer closeFn()
	ctx := context.Background()

	_, err := facade.AddChunks(ctx, "alice", "coll-1", "doc-1", []Chunk{{Text: "a", Embedding: []float32{0.1}, ChunkIndex: 0}})
	require.NoError(t, err)
	_, err = facade.AddChunks(ctx, "alice", "coll-1", "doc-2", []Chunk{{Text: "b", Embedding: []float32{0.2}, ChunkIndex: 0}})
	require.NoError(t, err)

	count, err := facade.DeleteDocument(ctx, "alice", "coll-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := facade.Exists(ctx, "alice", "coll-1", "doc-1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = facade.Exists(ctx, "alice", "coll-1", "doc-2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPartitionsAreUserScoped(t *testing.T) {
	facade, closeFn := newTestFacade(t)
	defer closeFn()
	ctx := context.Background()

	_, err := facade.AddChunks(ctx, "alice", "shared", "doc-1", []Chunk{{Text: "a", Embedding: []float32{0.1}, ChunkIndex: 0}})
	require.NoError(t, err)
	_, err = facade.AddChunks(ctx, "bob", "shared", "doc-1", []Chunk{{Text: "b", Embedding: []float32{0.1}, ChunkIndex: 0}})
	require.NoError(t, err)

	aliceExists, err := facade.Exists(ctx, "alice", "shared", "doc-1")
	require.NoError(t, err)
	assert.True(t, aliceExists)

	count, err := facade.DeleteDocument(ctx, "bob", "shared", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	aliceExists, err = facade.Exists(ctx, "alice", "shared", "doc-1")
	require.NoError(t, err)
	assert.True(t, aliceExists, "deleting bob's doc must not affect alice's partition")
}
