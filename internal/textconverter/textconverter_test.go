package textconverter

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-pipeline/internal/errs"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTikaStrategy_PlainTextShortCircuitsServer(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	path := writeTempFile(t, "doc.txt", "hello world")
	strategy := NewTikaStrategy(srv.URL, nil)

	text, err := strategy.Convert(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.False(t, called)
}

func TestTikaStrategy_ExtractsViaServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.Write([]byte("extracted content"))
	}))
	defer srv.Close()

	path := writeTempFile(t, "doc.pdf", "pdf-bytes")
	strategy := NewTikaStrategy(srv.URL, nil)

	text, err := strategy.Convert(path)
	require.NoError(t, err)
	assert.Equal(t, "extracted content", text)
}

func TestTikaStrategy_FallsBackOn502ForFallbackFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	path := writeTempFile(t, "doc.csv", "a,b,c")
	strategy := NewTikaStrategy(srv.URL, nil)

	text, err := strategy.Convert(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", text)
}

func TestTikaStrategy_502WithNoFallbackFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	path := writeTempFile(t, "doc.docx", "binary-ish")
	strategy := NewTikaStrategy(srv.URL, nil)

	_, err := strategy.Convert(path)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConversionFailed))
}

func TestTikaStrategy_MissingFile(t *testing.T) {
	strategy := NewTikaStrategy("http://unused", nil)
	_, err := strategy.Convert("/does/not/exist.pdf")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.FileMissing))
}

func TestPlainTextStrategy_ReadsFileDirectly(t *testing.T) {
	path := writeTempFile(t, "notes.txt", "plain text content")
	text, err := PlainTextStrategy{}.Convert(path)
	require.NoError(t, err)
	assert.Equal(t, "plain text content", text)
}
