// Package embedding implements the Embedding Client of SPEC_FULL.md §4.5,
// grounded on original_source/core/embedding.py's AsyncOllamaEmbeddingModel
// for batch/concurrency/retry/timeout numbers, re-expressed as a Go client
// using goroutines and a buffered-channel semaphore in place of asyncio.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"kb-pipeline/internal/errs"
	"kb-pipeline/internal/logging"
)

const (
	embeddingDim      = 1024
	defaultBatchSize  = 10
	defaultConcurrent = 5
	maxAttempts       = 3
	initialRetryDelay = 1 * time.Second
	requestTimeout    = 30 * time.Second
	interBatchSleep   = 500 * time.Millisecond
)

// Client wraps an Ollama-compatible embeddings endpoint.
type Client struct {
	baseURL    string
	apiURL     string
	modelName  string
	httpClient *http.Client
	logger     logging.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	ModelName string
	Logger    logging.Logger
}

// New builds a Client and probes the connection. Unlike the Python
// original's check_connection, a failed probe is logged and does not abort
// construction — the one deliberate redesign named by the distilled spec.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Noop{}
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		apiURL:     cfg.BaseURL + "/api/embeddings",
		modelName:  cfg.ModelName,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}

	if err := c.checkConnection(); err != nil {
		logger.Warn("embedding: connection probe to %s failed, continuing anyway: %v", c.baseURL, err)
	}

	return c
}

func (c *Client) checkConnection() error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func zeroVector() []float32 {
	return make([]float32, embeddingDim)
}

// EmbedOne returns the embedding vector for text. Empty input returns the
// zero vector without a network call. Transport failures are retried up to
// maxAttempts times with exponential backoff (1s, then 2s); after the final
// failure the zero vector is returned together with an EmbeddingDegraded
// error in place of the transport error, so callers should treat an
// all-zero result as a non-fatal, possibly degraded embedding.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return zeroVector(), nil
	}

	payload := embedRequest{Model: c.modelName, Prompt: text}
	data, err := json.Marshal(payload)
	if err != nil {
		return zeroVector(), fmt.Errorf("embedding: marshal request: %w", err)
	}

	var lastErr error
	delay := initialRetryDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := c.doEmbedRequest(ctx, data)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			c.logger.Warn("embedding: request failed (%v), retrying in %s", err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zeroVector(), ctx.Err()
			}
			delay *= 2
		}
	}

	c.logger.Error("embedding: request failed after %d attempts: %v", maxAttempts, lastErr)
	return zeroVector(), errs.EmbeddingDegradedError("embed_one")
}

func (c *Client) doEmbedRequest(ctx context.Context, data []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Embedding, nil
}

// EmbedBatch embeds texts in order, processing batchSize at a time with up
// to concurrencyLimit in-flight requests per batch, sleeping ~0.5s between
// batches (skipped after the last) to rate-limit the upstream server.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedBatch(ctx, texts, defaultBatchSize, defaultConcurrent)
}

func (c *Client) embedBatch(ctx context.Context, texts []string, batchSize, concurrencyLimit int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	sem := make(chan struct{}, concurrencyLimit)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int) {
				defer wg.Done()
				defer func() { <-sem }()
				vec, _ := c.EmbedOne(ctx, texts[idx])
				results[idx] = vec
			}(i)
		}
		wg.Wait()

		if end < len(texts) {
			select {
			case <-time.After(interBatchSleep):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}
	}

	return results, nil
}

// Dimension returns the fixed embedding dimension this client produces.
func (c *Client) Dimension() int {
	return embeddingDim
}
