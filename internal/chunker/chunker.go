// Package chunker splits converted document text into overlapping,
// sentence-aligned chunks. The algorithm is a direct port of the original
// source's chunk_text (utils/vector_store.py, core/vector_store.py) — a
// character scan, not a sentence-tokenization service.
package chunker

import (
	"kb-pipeline/internal/errs"
	"kb-pipeline/internal/logging"
)

// DefaultChunkSize and DefaultOverlap match the original source's defaults.
const (
	DefaultChunkSize = 3000
	DefaultOverlap   = 500
)

// sentenceEnders is the exact set the original source scans for, including
// the CJK punctuation variants — scanning runes, not bytes, since these are
// multi-byte.
var sentenceEnders = map[rune]bool{
	'.': true, '?': true, '!': true, '\n': true,
	'。': true, '？': true, '！': true,
}

// Chunk splits text into overlapping chunks. chunkSize must be strictly
// greater than overlap. Empty input yields an empty, non-nil slice.
func Chunk(text string, chunkSize, overlap int, logger logging.Logger) ([]string, error) {
	if text == "" {
		return []string{}, nil
	}
	if chunkSize <= overlap {
		return nil, errs.InvalidArgumentError("chunk", "chunk_size must be greater than overlap")
	}

	runes := []rune(text)
	n := len(runes)

	chunks := make([]string, 0, n/(chunkSize-overlap)+1)
	start := 0
	for start < n {
		idealEnd := start + chunkSize
		if idealEnd > n {
			idealEnd = n
		}

		var end int
		if idealEnd == n {
			end = n
		} else {
			end = idealEnd
			for i := idealEnd - 1; i >= start; i-- {
				if sentenceEnders[runes[i]] {
					end = i + 1
					break
				}
			}
		}

		if end > start {
			chunks = append(chunks, string(runes[start:end]))
		}

		if end >= n {
			break
		}

		nextStart := end - overlap
		if nextStart <= start {
			if logger != nil {
				logger.Warn("chunk: potential stall detected at offset %d, forcing minimal advancement", start)
			}
			start++
		} else {
			start = nextStart
		}
	}

	return chunks, nil
}
