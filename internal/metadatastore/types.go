// Package metadatastore implements the transactional relational store of
// SPEC_FULL.md §4.3, grounded on original_source/utils/user_database.py's
// SQLiteKnowledgeBaseDB (schema, cascade order, default-collection lazy
// creation), re-expressed in the teacher's repository-interface idiom
// (internal/repositories/document_repository.go).
package metadatastore

import "time"

// Status is the closed enum an UploadRecord's status field is restricted to.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// UserInfo mirrors the user_info table.
type UserInfo struct {
	UserToken  string
	CreateTime time.Time
}

// Collection mirrors the kb_collections table.
type Collection struct {
	CollectionID   string
	CollectionName string
	Description    string
	CreateTime     time.Time
	CreatedBy      string
}

// UploadRecord mirrors the user_upload_record table.
type UploadRecord struct {
	DocID            string
	UserToken        string
	CollectionID     string
	Filename         string
	Status           Status
	MimeType         string
	UploadTime       time.Time
	ProcessStartTime *time.Time
	ProcessEndTime   *time.Time
	ErrMsg           string
}

// UploadRecordFields is the whitelisted set of fields UpdateUploadRecord may
// change, matching the original's allowed_fields set exactly.
type UploadRecordFields struct {
	CollectionID     *string
	Filename         *string
	Status           *Status
	UploadTime       *time.Time
	ProcessStartTime *time.Time
	ProcessEndTime   *time.Time
	ErrMsg           *string
	MimeType         *string
}

// DefaultCollectionID returns the implicit per-user default collection id,
// matching SQLiteKnowledgeBaseDB.get_user_default_collection_id.
func DefaultCollectionID(userToken string) string {
	return "default_" + userToken
}

const (
	defaultCollectionName        = "Default Collection"
	defaultCollectionDescription = "The user's default knowledge-base collection, used for documents submitted without an explicit collection."
)

// Store is the interface the Processing Manager depends on.
type Store interface {
	CreateUserIfAbsent(userToken string) (*UserInfo, error)
	CreateCollection(collectionID, name, createdBy, description string) error
	GetCollectionInfo(collectionID string) (*Collection, error)
	ListCollections(userToken string) ([]*Collection, error)

	AddUploadRecord(record *UploadRecord) (string, error)
	UpdateUploadRecord(docID string, fields UploadRecordFields) (bool, error)
	GetUploadRecord(docID string) (*UploadRecord, error)
	GetUserUploads(userToken string, limit int, status *Status) ([]*UploadRecord, error)
	GetCollectionUploads(requestingUser, collectionID string) ([]*UploadRecord, error)

	DeleteUploadRecord(docID string) (bool, error)
	DeleteUser(userToken string) (bool, error)

	Close() error
}
