// Package textconverter implements the Text Converter strategy of
// SPEC_FULL.md §4 (per its external-interfaces §6), grounded on
// original_source/core/convertor/TikaDocumentConvertorImpl.py for the
// Tika HTTP contract and fallback behavior, and DocumentConvertor.py for
// the strategy-interface shape.
package textconverter

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kb-pipeline/internal/errs"
	"kb-pipeline/internal/logging"
)

// plainTextExtensions are read directly rather than sent to Tika, matching
// the original's direct-read shortcut for .txt/.md/.markdown.
var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true,
}

// fallbackExtensions are the formats TikaStrategy can still read directly
// when the Tika server itself is unavailable (502).
var fallbackExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".html": true, ".htm": true,
	".xml": true, ".json": true, ".yaml": true, ".yml": true, ".csv": true, ".pdf": true,
}

// Strategy converts a file on disk to plain text.
type Strategy interface {
	Convert(path string) (string, error)
}

// TikaStrategy extracts text via a PUT to an Apache Tika server's /tika
// endpoint, falling back to a direct read for plain-text-ish formats when
// the server returns 502.
type TikaStrategy struct {
	serverURL  string
	httpClient *http.Client
	logger     logging.Logger
}

// NewTikaStrategy builds a TikaStrategy against serverURL with the
// original's 300-second timeout.
func NewTikaStrategy(serverURL string, logger logging.Logger) *TikaStrategy {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &TikaStrategy{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: 300 * time.Second},
		logger:     logger,
	}
}

// Convert extracts text from the file at path.
func (t *TikaStrategy) Convert(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.FileMissingError("convert", "file not found: "+path)
		}
		return "", errs.ConversionFailedError("convert", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if plainTextExtensions[ext] {
		return readTextFile(path)
	}

	text, err := t.extractWithTika(path)
	if err != nil {
		return "", errs.ConversionFailedError("convert", err)
	}
	return text, nil
}

func (t *TikaStrategy) extractWithTika(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	req, err := http.NewRequest(http.MethodPut, t.serverURL+"/tika", file)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("textconverter: tika request failed for %s, falling back: %v", path, err)
		return t.fallback(path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadGateway {
		t.logger.Warn("textconverter: tika server unavailable (502) for %s, falling back", path)
		return t.fallback(path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("tika status %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tika response: %w", err)
	}
	return string(data), nil
}

func (t *TikaStrategy) fallback(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !fallbackExtensions[ext] {
		return "", fmt.Errorf("tika server unavailable and no fallback available for %s format", ext)
	}
	return readTextFile(path)
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return string(data), nil
}

// PlainTextStrategy passes file content through unchanged, for deployments
// without a Tika server.
type PlainTextStrategy struct{}

func (PlainTextStrategy) Convert(path string) (string, error) {
	text, err := readTextFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.FileMissingError("convert", "file not found: "+path)
		}
		return "", errs.ConversionFailedError("convert", err)
	}
	return text, nil
}
