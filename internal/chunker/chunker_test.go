package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-pipeline/internal/errs"
)

func TestChunk_EmptyInput(t *testing.T) {
	chunks, err := Chunk("", DefaultChunkSize, DefaultOverlap, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_InvalidArgument(t *testing.T) {
	_, err := Chunk("hello", 100, 100, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestChunk_SingleChunkShortText(t *testing.T) {
	text := "Hello world. This is a test. Goodbye."
	chunks, err := Chunk(text, DefaultChunkSize, DefaultOverlap, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunk_EndsAtSentenceEnder(t *testing.T) {
	sentence := strings.Repeat("a", 190) + ". "
	text := strings.Repeat(sentence, 100)
	chunks, err := Chunk(text, 3000, 500, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks[:len(chunks)-1] {
		last := rune(c[len(c)-1])
		if last != '.' && last != ' ' {
			t.Fatalf("chunk %d does not end at a sentence-ender boundary: %q", i, c[max(0, len(c)-10):])
		}
	}
}

func TestChunk_LargeDocumentChunkCount(t *testing.T) {
	sentence := strings.Repeat("x", 198) + ". "
	text := strings.Repeat(sentence, 100) // 20,000 chars
	require.Len(t, []rune(text), 20000)

	chunks, err := Chunk(text, 3000, 500, nil)
	require.NoError(t, err)

	// ceil((20000 - 500) / (3000 - 500)) = 8, +-1 depending on sentence boundaries.
	assert.GreaterOrEqual(t, len(chunks), 7)
	assert.LessOrEqual(t, len(chunks), 9)
}

func TestChunk_NoInfiniteLoopWithoutSentenceEnders(t *testing.T) {
	text := strings.Repeat("a", 10000)
	chunks, err := Chunk(text, 3000, 500, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	rejoined := chunks[0]
	for _, c := range chunks[1:] {
		rejoined += c
	}
	assert.GreaterOrEqual(t, len([]rune(rejoined)), len([]rune(text)))
}

func TestChunk_OverlapBound(t *testing.T) {
	text := strings.Repeat("word ", 2000)
	chunks, err := Chunk(text, 3000, 500, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Consecutive chunks duplicate at most overlap characters each.
	total := 0
	for _, c := range chunks {
		total += len([]rune(c))
	}
	assert.LessOrEqual(t, total, len([]rune(text))+500*(len(chunks)-1))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
