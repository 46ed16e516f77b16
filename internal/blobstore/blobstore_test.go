package blobstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-pipeline/internal/errs"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	return store
}

func TestSaveAndReadOriginal(t *testing.T) {
	store := newTestStore(t)

	path, err := store.SaveOriginal("u1", "doc1", "report.txt", strings.NewReader("hello original"))
	require.NoError(t, err)
	assert.Contains(t, path, "doc1.txt")

	rc, err := store.ReadOriginal("u1", "doc1")
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, 64)
	n, _ := rc.Read(buf)
	assert.Equal(t, "hello original", string(buf[:n]))
}

func TestReadOriginal_Missing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ReadOriginal("u1", "nope")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.FileMissing))
}

func TestWriteAndReadProcessed(t *testing.T) {
	store := newTestStore(t)

	err := store.WriteProcessed("u1", "doc1", "converted text")
	require.NoError(t, err)

	text, found, err := store.ReadProcessed("u1", "doc1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "converted text", text)
}

func TestReadProcessed_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, found, err := store.ReadProcessed("u1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteDoc_RemovesBoth(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveOriginal("u1", "doc1", "a.txt", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.WriteProcessed("u1", "doc1", "y"))

	require.NoError(t, store.DeleteDoc("u1", "doc1"))

	_, err = store.ReadOriginal("u1", "doc1")
	assert.Error(t, err)
	_, found, _ := store.ReadProcessed("u1", "doc1")
	assert.False(t, found)
}

func TestDeleteDoc_MissingDocSucceeds(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.DeleteDoc("u1", "never-existed"))
}

func TestListDocs(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveOriginal("u1", "doc1", "a.pdf", strings.NewReader("pdfdata"))
	require.NoError(t, err)
	_, err = store.SaveOriginal("u1", "doc2", "b.txt", strings.NewReader("txtdata"))
	require.NoError(t, err)
	require.NoError(t, store.WriteProcessed("u1", "doc1", "converted"))

	docs, err := store.ListDocs("u1")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byID := map[string]DocInfo{}
	for _, d := range docs {
		byID[d.DocID] = d
	}
	assert.True(t, byID["doc1"].Processed)
	assert.False(t, byID["doc2"].Processed)
}

func TestDeleteUser_RemovesTree(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveOriginal("u1", "doc1", "a.txt", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteUser("u1"))

	docs, err := store.ListDocs("u1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}
