package manager

import (
	"bytes"
	"context"
	"mime"
	"path/filepath"
	"strconv"
	"time"

	"kb-pipeline/internal/blobstore"
	"kb-pipeline/internal/chunker"
	"kb-pipeline/internal/embedding"
	"kb-pipeline/internal/errs"
	"kb-pipeline/internal/idgen"
	"kb-pipeline/internal/logging"
	"kb-pipeline/internal/metadatastore"
	"kb-pipeline/internal/taskqueue"
	"kb-pipeline/internal/textconverter"
	"kb-pipeline/internal/vectorindex"
)

// Config configures a Manager. Defaults match SPEC_FULL.md §4.7/§5/§6, not
// the teacher's own worker defaults.
type Config struct {
	Concurrency     int
	ChunkSize       int
	ChunkOverlap    int
	IndexEnabled    bool
	ShutdownTimeout time.Duration
}

// DefaultConfig returns this spec's Processing Manager defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     3,
		ChunkSize:       chunker.DefaultChunkSize,
		ChunkOverlap:    chunker.DefaultOverlap,
		IndexEnabled:    true,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Manager is the Processing Manager: it owns the worker pool and wires the
// Blob Store, Metadata Store, Vector Index Façade, Embedding Client, Text
// Converter and Task Queue into the submission path and per-task pipeline
// described in SPEC_FULL.md §4.7.
type Manager struct {
	blob      blobstore.Store
	meta      metadatastore.Store
	vindex    *vectorindex.Facade
	embedder  *embedding.Client
	converter textconverter.Strategy
	queue     taskqueue.TaskQueue
	logger    logging.Logger

	cfg Config
	sem chan struct{}

	pool   *workerPool
	cancel context.CancelFunc
}

// New builds a Manager. It does not start the worker pool; call Start.
func New(
	blob blobstore.Store,
	meta metadatastore.Store,
	vindex *vectorindex.Facade,
	embedder *embedding.Client,
	converter textconverter.Strategy,
	queue taskqueue.TaskQueue,
	logger logging.Logger,
	cfg Config,
) *Manager {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Manager{
		blob:      blob,
		meta:      meta,
		vindex:    vindex,
		embedder:  embedder,
		converter: converter,
		queue:     queue,
		logger:    logger,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Start launches Concurrency worker goroutines, each independently draining
// the Task Queue. The returned context cancellation (via Shutdown) stops
// them.
func (m *Manager) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.pool = newWorkerPool()
	for i := 0; i < m.cfg.Concurrency; i++ {
		wc := DefaultWorkerConfig(workerName(i))
		wc.ShutdownTimeout = m.cfg.ShutdownTimeout
		w := newPollingWorker(wc, m.sem, m.pollOnce)
		m.pool.add(w)
	}
	m.pool.startAll(workerCtx)
}

func workerName(i int) string {
	return "ingest-worker-" + strconv.Itoa(i)
}

// Shutdown cancels the worker context and waits up to ShutdownTimeout for
// in-flight workers to stop. Tasks still running when the timeout elapses
// are abandoned with their metadata record left in status=processing, per
// §4.7/§5 — no reconciliation sweep runs on the next Start.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.pool != nil {
		m.pool.stopAll()
	}
}

// pollOnce claims one task and processes it, reporting whether a task was
// found so the worker loop knows whether to sleep before retrying, and
// whether it completed or failed for the worker's own counters.
func (m *Manager) pollOnce(ctx context.Context) (found, succeeded bool) {
	task := m.queue.ClaimNext()
	if task == nil {
		return false, false
	}
	return true, m.processTask(ctx, task)
}

// Submit implements the seven-step submission path. Any failure before the
// task is enqueued leaves no trace: a blob already written is rolled back.
// docID is upload.DocID if the caller supplied one, else a freshly minted one.
func (m *Manager) Submit(userToken string, upload Upload, collectionID string) (string, error) {
	docID := upload.DocID
	if docID == "" {
		docID = idgen.New()
	}

	if _, err := m.meta.CreateUserIfAbsent(userToken); err != nil {
		return "", err
	}

	if collectionID != "" {
		coll, err := m.meta.GetCollectionInfo(collectionID)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				return "", errs.UnknownCollectionError("submit", "collection does not exist: "+collectionID)
			}
			return "", err
		}
		if coll.CreatedBy != userToken {
			return "", errs.PermissionDeniedError("submit", "collection "+collectionID+" is not owned by "+userToken)
		}
	}

	if _, err := m.blob.SaveOriginal(userToken, docID, upload.Filename, bytes.NewReader(upload.Content)); err != nil {
		return "", err
	}

	record := &metadatastore.UploadRecord{
		DocID:        docID,
		UserToken:    userToken,
		CollectionID: collectionID,
		Filename:     upload.Filename,
		Status:       metadatastore.StatusPending,
		MimeType:     mime.TypeByExtension(filepath.Ext(upload.Filename)),
		UploadTime:   time.Now(),
	}

	if _, err := m.meta.AddUploadRecord(record); err != nil {
		if rmErr := m.blob.DeleteDoc(userToken, docID); rmErr != nil {
			m.logger.Error("manager: rollback failed for %s after add_upload_record error: %v", docID, rmErr)
		}
		return "", err
	}

	m.queue.Add(&taskqueue.Task{
		DocID:     docID,
		UserToken: userToken,
		Filename:  upload.Filename,
		Status:    taskqueue.StatusPending,
		CreatedAt: time.Now(),
	})

	return docID, nil
}

// failTask transitions both the queue mirror and the metadata record to
// failed, recording err's message.
func (m *Manager) failTask(docID string, err error) {
	m.logger.Error("manager: task %s failed: %v", docID, err)
	now := time.Now()
	if _, updErr := m.meta.UpdateUploadRecord(docID, metadatastore.UploadRecordFields{
		Status:         statusPtr(metadatastore.StatusFailed),
		ProcessEndTime: &now,
		ErrMsg:         stringPtr(err.Error()),
	}); updErr != nil {
		m.logger.Error("manager: failed to record failure for %s: %v", docID, updErr)
	}
	m.queue.UpdateStatus(docID, taskqueue.StatusFailed, err.Error())
}

// processTask runs the six-step per-task pipeline on a just-claimed task,
// reporting whether it completed successfully.
func (m *Manager) processTask(ctx context.Context, task *taskqueue.Task) bool {
	docID := task.DocID

	startTime := time.Now()
	if _, err := m.meta.UpdateUploadRecord(docID, metadatastore.UploadRecordFields{
		Status:           statusPtr(metadatastore.StatusProcessing),
		ProcessStartTime: &startTime,
	}); err != nil {
		m.failTask(docID, err)
		return false
	}

	record, err := m.meta.GetUploadRecord(docID)
	if err != nil {
		m.failTask(docID, err)
		return false
	}

	originalPath, err := m.blob.OriginalPath(record.UserToken, docID)
	if err != nil {
		m.failTask(docID, errs.FileMissingError("process_task", "original file missing for "+docID))
		return false
	}

	text, err := m.converter.Convert(originalPath)
	if err != nil {
		m.failTask(docID, errs.ConversionFailedError("process_task", err))
		return false
	}

	if err := m.blob.WriteProcessed(record.UserToken, docID, text); err != nil {
		m.failTask(docID, err)
		return false
	}

	if m.cfg.IndexEnabled && text != "" {
		m.indexDocument(ctx, record, text)
	}

	endTime := time.Now()
	if _, err := m.meta.UpdateUploadRecord(docID, metadatastore.UploadRecordFields{
		Status:         statusPtr(metadatastore.StatusCompleted),
		ProcessEndTime: &endTime,
	}); err != nil {
		m.failTask(docID, err)
		return false
	}
	m.queue.UpdateStatus(docID, taskqueue.StatusCompleted, "")
	return true
}

// indexDocument runs step 5 of the per-task pipeline: chunk, embed, add to
// the façade. Failures here are logged and never fail the task — the
// document is still considered converted (§7's propagation policy).
func (m *Manager) indexDocument(ctx context.Context, record *metadatastore.UploadRecord, text string) {
	chunks, err := chunker.Chunk(text, m.cfg.ChunkSize, m.cfg.ChunkOverlap, m.logger)
	if err != nil {
		m.logger.Error("manager: chunk failed for %s: %v", record.DocID, err)
		return
	}
	if len(chunks) == 0 {
		return
	}

	embeddings, err := m.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		m.logger.Warn("manager: embedding batch degraded for %s: %v", record.DocID, err)
	}

	createdAt := time.Now().Format(time.RFC3339Nano)
	vchunks := make([]vectorindex.Chunk, len(chunks))
	for i, c := range chunks {
		var vec []float32
		if i < len(embeddings) {
			vec = embeddings[i]
		}
		vchunks[i] = vectorindex.Chunk{
			Text:       c,
			Embedding:  vec,
			ChunkIndex: i,
			Metadata: map[string]interface{}{
				"doc_id":        record.DocID,
				"chunk_index":   i,
				"user_token":    record.UserToken,
				"collection_id": record.CollectionID,
				"filename":      record.Filename,
				"text_length":   len(c),
				"created_at":    createdAt,
			},
		}
	}

	if _, err := m.vindex.AddChunks(ctx, record.UserToken, record.CollectionID, record.DocID, vchunks); err != nil {
		m.logger.Error("manager: index write failed for %s: %v", record.DocID, err)
	}
}

func statusPtr(s metadatastore.Status) *metadatastore.Status { return &s }
func stringPtr(s string) *string                             { return &s }

// GetTask returns a metadata-backed snapshot of docID, the source of truth
// per §4.7.
func (m *Manager) GetTask(docID string) (*TaskView, error) {
	record, err := m.meta.GetUploadRecord(docID)
	if err != nil {
		return nil, err
	}
	return recordToView(record), nil
}

func recordToView(r *metadatastore.UploadRecord) *TaskView {
	return &TaskView{
		DocID:            r.DocID,
		UserToken:        r.UserToken,
		CollectionID:     r.CollectionID,
		Filename:         r.Filename,
		Status:           string(r.Status),
		MimeType:         r.MimeType,
		UploadTime:       r.UploadTime,
		ProcessStartTime: r.ProcessStartTime,
		ProcessEndTime:   r.ProcessEndTime,
		ErrMsg:           r.ErrMsg,
	}
}

// ListUserTasks returns userToken's uploads, optionally filtered by status,
// ordered by upload_time descending, capped at limit.
func (m *Manager) ListUserTasks(userToken string, status *metadatastore.Status, limit int) ([]*TaskView, error) {
	records, err := m.meta.GetUserUploads(userToken, limit, status)
	if err != nil {
		return nil, err
	}
	out := make([]*TaskView, len(records))
	for i, r := range records {
		out[i] = recordToView(r)
	}
	return out, nil
}

// GetQueueStatus returns the in-process queue's occupancy snapshot.
func (m *Manager) GetQueueStatus() QueueStatus {
	s := m.queue.Status()
	return QueueStatus{
		QueueSize:       s.QueueSize,
		ProcessingTasks: s.ProcessingTasks,
		CompletedCount:  s.CompletedCount,
		FailedCount:     s.FailedCount,
	}
}

// CreateCollection creates a new collection owned by userToken.
func (m *Manager) CreateCollection(userToken, collectionID, name, description string) error {
	if _, err := m.meta.CreateUserIfAbsent(userToken); err != nil {
		return err
	}
	return m.meta.CreateCollection(collectionID, name, userToken, description)
}

// ListCollections returns every collection owned by userToken.
func (m *Manager) ListCollections(userToken string) ([]*metadatastore.Collection, error) {
	return m.meta.ListCollections(userToken)
}

// ListCollectionDocuments returns userToken's upload records in
// collectionID, enforcing ownership.
func (m *Manager) ListCollectionDocuments(userToken, collectionID string) ([]*TaskView, error) {
	records, err := m.meta.GetCollectionUploads(userToken, collectionID)
	if err != nil {
		return nil, err
	}
	out := make([]*TaskView, len(records))
	for i, r := range records {
		out[i] = recordToView(r)
	}
	return out, nil
}

// requireOwnedCollection verifies collectionID exists and is owned by
// userToken, returning the collection on success.
func (m *Manager) requireOwnedCollection(userToken, collectionID string) (*metadatastore.Collection, error) {
	coll, err := m.meta.GetCollectionInfo(collectionID)
	if err != nil {
		return nil, err
	}
	if coll.CreatedBy != userToken {
		return nil, errs.PermissionDeniedError("require_owned_collection", "collection "+collectionID+" is not owned by "+userToken)
	}
	return coll, nil
}

// Search verifies collection ownership then delegates to the façade.
func (m *Manager) Search(ctx context.Context, userToken, collectionID, query string, topK int) ([]vectorindex.SearchResult, error) {
	if _, err := m.requireOwnedCollection(userToken, collectionID); err != nil {
		return nil, err
	}
	return m.vindex.SearchByText(ctx, userToken, collectionID, query, topK)
}

// ListIndexDocuments verifies collection ownership then lists up to limit
// indexed chunks (0 = the transport's cap of 100000).
func (m *Manager) ListIndexDocuments(ctx context.Context, userToken, collectionID string, limit int) ([]vectorindex.SearchResult, error) {
	if _, err := m.requireOwnedCollection(userToken, collectionID); err != nil {
		return nil, err
	}
	return m.vindex.ListAll(ctx, userToken, collectionID, limit)
}

// IndexDocumentCount verifies collection ownership then counts distinct
// indexed documents.
func (m *Manager) IndexDocumentCount(ctx context.Context, userToken, collectionID string) (int, error) {
	if _, err := m.requireOwnedCollection(userToken, collectionID); err != nil {
		return 0, err
	}
	return m.vindex.DocumentCount(ctx, userToken, collectionID)
}

// DeleteDocumentFromIndex verifies collection ownership then removes docID's
// chunks from the façade, returning the count deleted.
func (m *Manager) DeleteDocumentFromIndex(ctx context.Context, userToken, collectionID, docID string) (int, error) {
	if _, err := m.requireOwnedCollection(userToken, collectionID); err != nil {
		return 0, err
	}
	return m.vindex.DeleteDocument(ctx, userToken, collectionID, docID)
}

// ListUserCollectionsWithCounts lists userToken's collections augmented with
// each one's indexed-document count.
func (m *Manager) ListUserCollectionsWithCounts(ctx context.Context, userToken string) ([]CollectionWithCount, error) {
	colls, err := m.meta.ListCollections(userToken)
	if err != nil {
		return nil, err
	}

	out := make([]CollectionWithCount, len(colls))
	for i, c := range colls {
		count, err := m.vindex.DocumentCount(ctx, userToken, c.CollectionID)
		if err != nil {
			m.logger.Warn("manager: document_count failed for %s/%s: %v", userToken, c.CollectionID, err)
			count = 0
		}
		out[i] = CollectionWithCount{
			CollectionID:   c.CollectionID,
			CollectionName: c.CollectionName,
			Description:    c.Description,
			CreatedBy:      c.CreatedBy,
			CreateTime:     c.CreateTime,
			DocumentCount:  count,
		}
	}
	return out, nil
}

// DeleteUploadRecord wraps the blob+metadata+index delete the in-process
// operation surface names, enforcing that only the owning user may delete.
func (m *Manager) DeleteUploadRecord(ctx context.Context, userToken, docID string) error {
	record, err := m.meta.GetUploadRecord(docID)
	if err != nil {
		return err
	}
	if record.UserToken != userToken {
		return errs.PermissionDeniedError("delete_upload_record", "document "+docID+" is not owned by "+userToken)
	}

	if record.CollectionID != "" {
		if _, err := m.vindex.DeleteDocument(ctx, userToken, record.CollectionID, docID); err != nil {
			m.logger.Error("manager: index delete failed for %s: %v", docID, err)
		}
	}

	if err := m.blob.DeleteDoc(userToken, docID); err != nil {
		m.logger.Error("manager: blob delete failed for %s: %v", docID, err)
	}

	if _, err := m.meta.DeleteUploadRecord(docID); err != nil {
		return err
	}
	return nil
}

// DeleteUser removes userToken entirely: every one of their collections'
// vector-index partitions, their blob directory, then the metadata cascade
// (upload records → collections → user_info), matching §4.3's cascade order.
// Index-partition deletes are logged, not fatal — a collection with nothing
// indexed yet has no partition to delete.
func (m *Manager) DeleteUser(ctx context.Context, userToken string) error {
	colls, err := m.meta.ListCollections(userToken)
	if err != nil {
		return err
	}
	for _, c := range colls {
		if err := m.vindex.DeleteCollection(ctx, userToken, c.CollectionID); err != nil {
			m.logger.Error("manager: index collection delete failed for %s/%s: %v", userToken, c.CollectionID, err)
		}
	}

	if err := m.blob.DeleteUser(userToken); err != nil {
		m.logger.Error("manager: blob delete failed for %s: %v", userToken, err)
	}

	if _, err := m.meta.DeleteUser(userToken); err != nil {
		return err
	}
	return nil
}

// Stats returns per-worker counters, primarily for diagnostics.
func (m *Manager) Stats() []WorkerStats {
	if m.pool == nil {
		return nil
	}
	return m.pool.allStats()
}
