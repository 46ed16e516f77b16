package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport is a handwritten HTTP client against ChromaDB's v2 tenant/database
// API. Kept over the official amikos-tech/chroma-go client: that client's
// v0.3.0-alpha.1 release has known v1/v2 API compatibility issues against a
// current ChromaDB server, same finding the teacher documents for its own
// production code (test/integration/db_connectivity_test.go). chroma-go is
// kept in go.mod and exercised only by an integration-test connectivity
// check, not by this transport.
type Transport struct {
	baseURL    string
	hostPort   string
	httpClient *http.Client
}

// TransportConfig configures the ChromaDB connection.
type TransportConfig struct {
	Host     string
	Port     int
	Tenant   string // default: "default_tenant"
	Database string // default: "default_database"
	Timeout  time.Duration
}

type collectionDTO struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

type getResponseDTO struct {
	IDs        []string                 `json:"ids"`
	Documents  []string                 `json:"documents"`
	Metadatas  []map[string]interface{} `json:"metadatas"`
	Embeddings [][]float32              `json:"embeddings,omitempty"`
}

type queryResponseDTO struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float32                `json:"distances"`
}

// NewTransport builds a Transport against ChromaDB's v2 API, defaulting
// tenant/database/timeout the same way the teacher's NewChromaDBClient does.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Tenant == "" {
		cfg.Tenant = "default_tenant"
	}
	if cfg.Database == "" {
		cfg.Database = "default_database"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	hostPort := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	baseURL := fmt.Sprintf("http://%s/api/v2/tenants/%s/databases/%s", hostPort, cfg.Tenant, cfg.Database)

	return &Transport{
		baseURL:    baseURL,
		hostPort:   hostPort,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Heartbeat checks that ChromaDB is reachable.
func (t *Transport) Heartbeat(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/api/v2/heartbeat", t.hostPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: build heartbeat request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vectorindex: heartbeat request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vectorindex: heartbeat status %d", resp.StatusCode)
	}
	return nil
}

func (t *Transport) doJSON(ctx context.Context, method, url string, payload interface{}, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("vectorindex: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("vectorindex: %s %s failed (status %d): %s", method, url, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("vectorindex: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (t *Transport) listCollections(ctx context.Context) ([]collectionDTO, error) {
	var collections []collectionDTO
	_, err := t.doJSON(ctx, http.MethodGet, t.baseURL+"/collections", nil, &collections)
	return collections, err
}

func (t *Transport) createCollection(ctx context.Context, name string, metadata map[string]interface{}) (*collectionDTO, error) {
	if metadata == nil {
		metadata = map[string]interface{}{"hnsw:space": "cosine"}
	}
	payload := map[string]interface{}{"name": name, "metadata": metadata}
	var collection collectionDTO
	_, err := t.doJSON(ctx, http.MethodPost, t.baseURL+"/collections", payload, &collection)
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

func (t *Transport) getCollection(ctx context.Context, name string) (*collectionDTO, error) {
	url := fmt.Sprintf("%s/collections/%s", t.baseURL, name)
	var collection collectionDTO
	status, err := t.doJSON(ctx, http.MethodGet, url, nil, &collection)
	if status == http.StatusNotFound {
		return nil, errCollectionNotFound(name)
	}
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

func (t *Transport) deleteCollection(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/collections/%s", t.baseURL, name)
	_, err := t.doJSON(ctx, http.MethodDelete, url, nil, nil)
	return err
}

func (t *Transport) countCollection(ctx context.Context, collectionID string) (int, error) {
	url := fmt.Sprintf("%s/collections/%s/count", t.baseURL, collectionID)
	var count int
	_, err := t.doJSON(ctx, http.MethodGet, url, nil, &count)
	return count, err
}

func (t *Transport) addDocuments(ctx context.Context, collectionID string, ids, documents []string, embeddings [][]float32, metadatas []map[string]interface{}) error {
	payload := map[string]interface{}{
		"ids":        ids,
		"documents":  documents,
		"embeddings": embeddings,
		"metadatas":  metadatas,
	}
	url := fmt.Sprintf("%s/collections/%s/add", t.baseURL, collectionID)
	_, err := t.doJSON(ctx, http.MethodPost, url, payload, nil)
	return err
}

func (t *Transport) query(ctx context.Context, collectionID string, queryEmbeddings [][]float32, nResults int) (*queryResponseDTO, error) {
	payload := map[string]interface{}{
		"query_embeddings": queryEmbeddings,
		"n_results":        nResults,
	}
	url := fmt.Sprintf("%s/collections/%s/query", t.baseURL, collectionID)
	var resp queryResponseDTO
	_, err := t.doJSON(ctx, http.MethodPost, url, payload, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *Transport) deleteDocuments(ctx context.Context, collectionID string, ids []string) error {
	payload := map[string]interface{}{"ids": ids}
	url := fmt.Sprintf("%s/collections/%s/delete", t.baseURL, collectionID)
	_, err := t.doJSON(ctx, http.MethodPost, url, payload, nil)
	return err
}

func (t *Transport) getDocuments(ctx context.Context, collectionID string, where map[string]interface{}, limit int) (*getResponseDTO, error) {
	payload := map[string]interface{}{"include": []string{"documents", "metadatas"}}
	if len(where) > 0 {
		payload["where"] = where
	}
	if limit > 0 {
		payload["limit"] = limit
	} else {
		payload["limit"] = 100000
	}
	url := fmt.Sprintf("%s/collections/%s/get", t.baseURL, collectionID)
	var resp getResponseDTO
	_, err := t.doJSON(ctx, http.MethodPost, url, payload, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close releases idle HTTP connections.
func (t *Transport) Close() {
	t.httpClient.CloseIdleConnections()
}

func errCollectionNotFound(name string) error {
	return fmt.Errorf("vectorindex: collection not found: %s", name)
}
