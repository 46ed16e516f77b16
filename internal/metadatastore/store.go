package metadatastore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"kb-pipeline/internal/errs"
)

// SQLiteStore is the SQLite-backed Store implementation. A single shared
// *sql.DB connection is serialized by mu, mirroring the original's
// threading.Lock around one sqlite3 connection — SQLite's own writer
// serialization makes a single open connection both correct and simple.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (or reuses) the database file at {baseDir}/user/user.db and
// initializes the schema, matching SQLiteKnowledgeBaseDB's table/index set.
func Open(baseDir string) (*SQLiteStore, error) {
	userDir := filepath.Join(baseDir, "user")
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, fmt.Errorf("metadatastore: create user directory: %w", err)
	}
	dbPath := filepath.Join(userDir, "user.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("metadatastore: open database: %w", err)
	}
	// A single connection, like the original's one shared sqlite3 connection
	// guarded by a lock — avoids SQLITE_BUSY from concurrent writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_info (
			user_token  TEXT PRIMARY KEY,
			create_time TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kb_collections (
			collection_id   TEXT PRIMARY KEY,
			collection_name TEXT NOT NULL,
			description     TEXT,
			create_time     TEXT NOT NULL,
			created_by      TEXT NOT NULL,
			FOREIGN KEY (created_by) REFERENCES user_info (user_token)
		)`,
		`CREATE TABLE IF NOT EXISTS user_upload_record (
			doc_id             TEXT PRIMARY KEY,
			user_token         TEXT NOT NULL,
			collection_id      TEXT,
			filename           TEXT NOT NULL,
			status             TEXT NOT NULL,
			upload_time        TEXT NOT NULL,
			process_start_time TEXT,
			process_end_time   TEXT,
			err_msg            TEXT,
			mime_type          TEXT,
			FOREIGN KEY (user_token) REFERENCES user_info (user_token),
			FOREIGN KEY (collection_id) REFERENCES kb_collections (collection_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_user_token ON user_upload_record (user_token)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_status ON user_upload_record (status)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_collection ON user_upload_record (collection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_kb_collections_created_by ON kb_collections (created_by)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("metadatastore: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeFormat = time.RFC3339Nano

// CreateUserIfAbsent inserts a user_info row if one doesn't already exist.
func (s *SQLiteStore) CreateUserIfAbsent(userToken string) (*UserInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT user_token, create_time FROM user_info WHERE user_token = ?`, userToken)
	var token, createTimeStr string
	if err := row.Scan(&token, &createTimeStr); err == nil {
		t, _ := time.Parse(timeFormat, createTimeStr)
		return &UserInfo{UserToken: token, CreateTime: t}, nil
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("metadatastore: create_user_if_absent: %w", err)
	}

	now := time.Now()
	if _, err := s.db.Exec(`INSERT INTO user_info (user_token, create_time) VALUES (?, ?)`, userToken, now.Format(timeFormat)); err != nil {
		return nil, fmt.Errorf("metadatastore: create_user_if_absent: insert: %w", err)
	}
	return &UserInfo{UserToken: userToken, CreateTime: now}, nil
}

func (s *SQLiteStore) userExists(userToken string) (bool, error) {
	var dummy string
	err := s.db.QueryRow(`SELECT user_token FROM user_info WHERE user_token = ?`, userToken).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) collectionExists(collectionID string) (bool, error) {
	var dummy string
	err := s.db.QueryRow(`SELECT collection_id FROM kb_collections WHERE collection_id = ?`, collectionID).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateCollection inserts a new kb_collections row.
func (s *SQLiteStore) CreateCollection(collectionID, name, createdBy, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.collectionExists(collectionID)
	if err != nil {
		return fmt.Errorf("metadatastore: create_collection: %w", err)
	}
	if exists {
		return errs.AlreadyExistsError("create_collection", "collection already exists: "+collectionID)
	}

	userExists, err := s.userExists(createdBy)
	if err != nil {
		return fmt.Errorf("metadatastore: create_collection: %w", err)
	}
	if !userExists {
		return errs.UnknownUserError("create_collection", "user does not exist: "+createdBy)
	}

	_, err = s.db.Exec(
		`INSERT INTO kb_collections (collection_id, collection_name, description, create_time, created_by) VALUES (?, ?, ?, ?, ?)`,
		collectionID, name, description, time.Now().Format(timeFormat), createdBy,
	)
	if err != nil {
		return fmt.Errorf("metadatastore: create_collection: insert: %w", err)
	}
	return nil
}

// createUserDefaultCollectionLocked lazily creates the caller's default
// collection if absent. Must be called with mu held.
func (s *SQLiteStore) createUserDefaultCollectionLocked(userToken string) error {
	collectionID := DefaultCollectionID(userToken)

	exists, err := s.collectionExists(collectionID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.db.Exec(
		`INSERT INTO kb_collections (collection_id, collection_name, description, create_time, created_by) VALUES (?, ?, ?, ?, ?)`,
		collectionID, defaultCollectionName, defaultCollectionDescription, time.Now().Format(timeFormat), userToken,
	)
	return err
}

func (s *SQLiteStore) scanCollectionRow(row *sql.Row) (*Collection, error) {
	var c Collection
	var createTimeStr string
	var description sql.NullString
	if err := row.Scan(&c.CollectionID, &c.CollectionName, &description, &createTimeStr, &c.CreatedBy); err != nil {
		return nil, err
	}
	c.Description = description.String
	c.CreateTime, _ = time.Parse(timeFormat, createTimeStr)
	return &c, nil
}

// GetCollectionInfo returns collection metadata, or NotFound.
func (s *SQLiteStore) GetCollectionInfo(collectionID string) (*Collection, error) {
	row := s.db.QueryRow(
		`SELECT collection_id, collection_name, description, create_time, created_by FROM kb_collections WHERE collection_id = ?`,
		collectionID,
	)
	c, err := s.scanCollectionRow(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundError("get_collection_info", "collection not found: "+collectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: get_collection_info: %w", err)
	}
	return c, nil
}

// ListCollections returns every collection owned by userToken, matching the
// original's WHERE created_by = ? filter — only owned collections are ever
// listed for a user.
func (s *SQLiteStore) ListCollections(userToken string) ([]*Collection, error) {
	rows, err := s.db.Query(
		`SELECT collection_id, collection_name, description, create_time, created_by FROM kb_collections WHERE created_by = ? ORDER BY create_time DESC`,
		userToken,
	)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: list_collections: %w", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		var c Collection
		var createTimeStr string
		var description sql.NullString
		if err := rows.Scan(&c.CollectionID, &c.CollectionName, &description, &createTimeStr, &c.CreatedBy); err != nil {
			return nil, fmt.Errorf("metadatastore: list_collections: scan: %w", err)
		}
		c.Description = description.String
		c.CreateTime, _ = time.Parse(timeFormat, createTimeStr)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AddUploadRecord inserts record, resolving a null collection_id to the
// caller's default collection (created lazily), matching add_upload_record.
func (s *SQLiteStore) AddUploadRecord(record *UploadRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dummy string
	if err := s.db.QueryRow(`SELECT doc_id FROM user_upload_record WHERE doc_id = ?`, record.DocID).Scan(&dummy); err == nil {
		return "", errs.AlreadyExistsError("add_upload_record", "doc_id already exists: "+record.DocID)
	} else if err != sql.ErrNoRows {
		return "", fmt.Errorf("metadatastore: add_upload_record: %w", err)
	}

	userExists, err := s.userExists(record.UserToken)
	if err != nil {
		return "", fmt.Errorf("metadatastore: add_upload_record: %w", err)
	}
	if !userExists {
		return "", errs.UnknownUserError("add_upload_record", "user does not exist: "+record.UserToken)
	}

	if record.CollectionID == "" {
		if err := s.createUserDefaultCollectionLocked(record.UserToken); err != nil {
			return "", fmt.Errorf("metadatastore: add_upload_record: ensure default collection: %w", err)
		}
		record.CollectionID = DefaultCollectionID(record.UserToken)
	}

	collExists, err := s.collectionExists(record.CollectionID)
	if err != nil {
		return "", fmt.Errorf("metadatastore: add_upload_record: %w", err)
	}
	if !collExists {
		return "", errs.UnknownCollectionError("add_upload_record", "collection does not exist: "+record.CollectionID)
	}

	_, err = s.db.Exec(
		`INSERT INTO user_upload_record
			(doc_id, user_token, collection_id, filename, status, upload_time, process_start_time, process_end_time, err_msg, mime_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.DocID, record.UserToken, record.CollectionID, record.Filename, string(record.Status),
		record.UploadTime.Format(timeFormat),
		nullableTime(record.ProcessStartTime), nullableTime(record.ProcessEndTime),
		nullableString(record.ErrMsg), nullableString(record.MimeType),
	)
	if err != nil {
		return "", fmt.Errorf("metadatastore: add_upload_record: insert: %w", err)
	}

	return record.DocID, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// UpdateUploadRecord updates the whitelisted subset of fields on doc_id,
// matching update_upload_record's allowed_fields/dynamic-SET-clause shape.
func (s *SQLiteStore) UpdateUploadRecord(docID string, fields UploadRecordFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fields.CollectionID != nil && *fields.CollectionID != "" {
		exists, err := s.collectionExists(*fields.CollectionID)
		if err != nil {
			return false, fmt.Errorf("metadatastore: update_upload_record: %w", err)
		}
		if !exists {
			return false, errs.UnknownCollectionError("update_upload_record", "collection does not exist: "+*fields.CollectionID)
		}
	}

	var setClauses []string
	var values []interface{}

	if fields.CollectionID != nil {
		setClauses = append(setClauses, "collection_id = ?")
		values = append(values, nullableString(*fields.CollectionID))
	}
	if fields.Filename != nil {
		setClauses = append(setClauses, "filename = ?")
		values = append(values, *fields.Filename)
	}
	if fields.Status != nil {
		setClauses = append(setClauses, "status = ?")
		values = append(values, string(*fields.Status))
	}
	if fields.UploadTime != nil {
		setClauses = append(setClauses, "upload_time = ?")
		values = append(values, fields.UploadTime.Format(timeFormat))
	}
	if fields.ProcessStartTime != nil {
		setClauses = append(setClauses, "process_start_time = ?")
		values = append(values, fields.ProcessStartTime.Format(timeFormat))
	}
	if fields.ProcessEndTime != nil {
		setClauses = append(setClauses, "process_end_time = ?")
		values = append(values, fields.ProcessEndTime.Format(timeFormat))
	}
	if fields.ErrMsg != nil {
		setClauses = append(setClauses, "err_msg = ?")
		values = append(values, nullableString(*fields.ErrMsg))
	}
	if fields.MimeType != nil {
		setClauses = append(setClauses, "mime_type = ?")
		values = append(values, nullableString(*fields.MimeType))
	}

	if len(setClauses) == 0 {
		return false, nil
	}

	query := "UPDATE user_upload_record SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE doc_id = ?"
	values = append(values, docID)

	result, err := s.db.Exec(query, values...)
	if err != nil {
		return false, fmt.Errorf("metadatastore: update_upload_record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("metadatastore: update_upload_record: rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) scanUploadRecordRow(row *sql.Row) (*UploadRecord, error) {
	var r UploadRecord
	var collectionID, errMsg, mimeType sql.NullString
	var uploadTimeStr string
	var startStr, endStr sql.NullString
	var status string

	err := row.Scan(&r.DocID, &r.UserToken, &collectionID, &r.Filename, &status,
		&uploadTimeStr, &startStr, &endStr, &errMsg, &mimeType)
	if err != nil {
		return nil, err
	}

	r.CollectionID = collectionID.String
	r.Status = Status(status)
	r.ErrMsg = errMsg.String
	r.MimeType = mimeType.String
	r.UploadTime, _ = time.Parse(timeFormat, uploadTimeStr)
	if startStr.Valid {
		t, _ := time.Parse(timeFormat, startStr.String)
		r.ProcessStartTime = &t
	}
	if endStr.Valid {
		t, _ := time.Parse(timeFormat, endStr.String)
		r.ProcessEndTime = &t
	}
	return &r, nil
}

const uploadRecordColumns = `doc_id, user_token, collection_id, filename, status, upload_time, process_start_time, process_end_time, err_msg, mime_type`

// GetUploadRecord returns the record for docID, or NotFound.
func (s *SQLiteStore) GetUploadRecord(docID string) (*UploadRecord, error) {
	row := s.db.QueryRow(`SELECT `+uploadRecordColumns+` FROM user_upload_record WHERE doc_id = ?`, docID)
	r, err := s.scanUploadRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundError("get_upload_record", "doc not found: "+docID)
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: get_upload_record: %w", err)
	}
	return r, nil
}

// GetUserUploads returns userToken's records, newest first, optionally
// filtered by status and capped at limit — matching get_user_uploads.
func (s *SQLiteStore) GetUserUploads(userToken string, limit int, status *Status) ([]*UploadRecord, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.db.Query(
			`SELECT `+uploadRecordColumns+` FROM user_upload_record WHERE user_token = ? AND status = ? ORDER BY upload_time DESC LIMIT ?`,
			userToken, string(*status), limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT `+uploadRecordColumns+` FROM user_upload_record WHERE user_token = ? ORDER BY upload_time DESC LIMIT ?`,
			userToken, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: get_user_uploads: %w", err)
	}
	return s.scanUploadRecordRows(rows)
}

func (s *SQLiteStore) scanUploadRecordRows(rows *sql.Rows) ([]*UploadRecord, error) {
	defer rows.Close()
	var out []*UploadRecord
	for rows.Next() {
		var r UploadRecord
		var collectionID, errMsg, mimeType sql.NullString
		var uploadTimeStr string
		var startStr, endStr sql.NullString
		var status string

		err := rows.Scan(&r.DocID, &r.UserToken, &collectionID, &r.Filename, &status,
			&uploadTimeStr, &startStr, &endStr, &errMsg, &mimeType)
		if err != nil {
			return nil, fmt.Errorf("metadatastore: scan upload record: %w", err)
		}
		r.CollectionID = collectionID.String
		r.Status = Status(status)
		r.ErrMsg = errMsg.String
		r.MimeType = mimeType.String
		r.UploadTime, _ = time.Parse(timeFormat, uploadTimeStr)
		if startStr.Valid {
			t, _ := time.Parse(timeFormat, startStr.String)
			r.ProcessStartTime = &t
		}
		if endStr.Valid {
			t, _ := time.Parse(timeFormat, endStr.String)
			r.ProcessEndTime = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetCollectionUploads returns the collection's records after verifying
// requestingUser owns it, matching get_collection's PermissionError check.
func (s *SQLiteStore) GetCollectionUploads(requestingUser, collectionID string) ([]*UploadRecord, error) {
	coll, err := s.GetCollectionInfo(collectionID)
	if err != nil {
		return nil, err
	}
	if coll.CreatedBy != requestingUser {
		return nil, errs.PermissionDeniedError("get_collection_uploads",
			"user does not have permission to access collection "+collectionID)
	}

	rows, err := s.db.Query(
		`SELECT `+uploadRecordColumns+` FROM user_upload_record WHERE collection_id = ? ORDER BY upload_time DESC`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: get_collection_uploads: %w", err)
	}
	return s.scanUploadRecordRows(rows)
}

// DeleteUploadRecord removes the row for docID.
func (s *SQLiteStore) DeleteUploadRecord(docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM user_upload_record WHERE doc_id = ?`, docID)
	if err != nil {
		return false, fmt.Errorf("metadatastore: delete_upload_record: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// DeleteUser cascades: upload records -> collections -> user_info, in one
// transaction, matching the original's exact cascade order.
func (s *SQLiteStore) DeleteUser(userToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("metadatastore: delete_user: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM user_upload_record WHERE user_token = ?`, userToken); err != nil {
		return false, fmt.Errorf("metadatastore: delete_user: delete upload records: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM kb_collections WHERE created_by = ?`, userToken); err != nil {
		return false, fmt.Errorf("metadatastore: delete_user: delete collections: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM user_info WHERE user_token = ?`, userToken)
	if err != nil {
		return false, fmt.Errorf("metadatastore: delete_user: delete user_info: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("metadatastore: delete_user: commit: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}
