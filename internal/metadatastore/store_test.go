package metadatastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-pipeline/internal/errs"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateUserIfAbsent_Idempotent(t *testing.T) {
	store := newTestStore(t)

	u1, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u1.UserToken)

	u2, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)
	assert.Equal(t, u1.CreateTime.Unix(), u2.CreateTime.Unix())
}

func TestAddUploadRecord_UnknownUser(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AddUploadRecord(&UploadRecord{
		DocID:      "d1",
		UserToken:  "ghost",
		Filename:   "a.pdf",
		Status:     StatusPending,
		UploadTime: time.Now(),
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnknownUser))
}

func TestAddUploadRecord_DefaultCollectionLazilyCreated(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)

	docID, err := store.AddUploadRecord(&UploadRecord{
		DocID:      "d1",
		UserToken:  "alice",
		Filename:   "a.pdf",
		Status:     StatusPending,
		UploadTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", docID)

	record, err := store.GetUploadRecord("d1")
	require.NoError(t, err)
	assert.Equal(t, DefaultCollectionID("alice"), record.CollectionID)

	coll, err := store.GetCollectionInfo(DefaultCollectionID("alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", coll.CreatedBy)
}

func TestAddUploadRecord_DuplicateDocID(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)

	rec := &UploadRecord{DocID: "d1", UserToken: "alice", Filename: "a.pdf", Status: StatusPending, UploadTime: time.Now()}
	_, err = store.AddUploadRecord(rec)
	require.NoError(t, err)

	_, err = store.AddUploadRecord(rec)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyExists))
}

func TestUpdateUploadRecord_WhitelistedFieldsOnly(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)
	_, err = store.AddUploadRecord(&UploadRecord{
		DocID: "d1", UserToken: "alice", Filename: "a.pdf", Status: StatusPending, UploadTime: time.Now(),
	})
	require.NoError(t, err)

	newStatus := StatusCompleted
	ok, err := store.UpdateUploadRecord("d1", UploadRecordFields{Status: &newStatus})
	require.NoError(t, err)
	assert.True(t, ok)

	record, err := store.GetUploadRecord("d1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
}

func TestUpdateUploadRecord_MissingDoc(t *testing.T) {
	store := newTestStore(t)
	newStatus := StatusFailed
	ok, err := store.UpdateUploadRecord("nope", UploadRecordFields{Status: &newStatus})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetCollectionUploads_RejectsNonOwner(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)
	_, err = store.CreateUserIfAbsent("bob")
	require.NoError(t, err)

	require.NoError(t, store.CreateCollection("coll-1", "Shared", "alice", "desc"))

	_, err = store.GetCollectionUploads("bob", "coll-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.PermissionDenied))
}

func TestGetUserUploads_FiltersByStatus(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)
	_, err = store.AddUploadRecord(&UploadRecord{DocID: "d1", UserToken: "alice", Filename: "a.pdf", Status: StatusCompleted, UploadTime: time.Now()})
	require.NoError(t, err)
	_, err = store.AddUploadRecord(&UploadRecord{DocID: "d2", UserToken: "alice", Filename: "b.pdf", Status: StatusPending, UploadTime: time.Now()})
	require.NoError(t, err)

	completed := StatusCompleted
	records, err := store.GetUserUploads("alice", 10, &completed)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "d1", records[0].DocID)
}

func TestDeleteUser_CascadesUploadsAndCollections(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)
	_, err = store.AddUploadRecord(&UploadRecord{DocID: "d1", UserToken: "alice", Filename: "a.pdf", Status: StatusPending, UploadTime: time.Now()})
	require.NoError(t, err)

	ok, err := store.DeleteUser("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.GetUploadRecord("d1")
	assert.True(t, errs.Is(err, errs.NotFound))

	_, err = store.GetCollectionInfo(DefaultCollectionID("alice"))
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestCreateCollection_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateUserIfAbsent("alice")
	require.NoError(t, err)

	require.NoError(t, store.CreateCollection("coll-1", "Name", "alice", "desc"))
	err = store.CreateCollection("coll-1", "Name2", "alice", "desc2")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyExists))
}
