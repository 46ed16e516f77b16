package taskqueue

import "sync"

// InMemoryQueue is a FIFO of doc-ids plus four status maps guarded by a
// single mutex, matching MemoryDocumentQueue exactly (queue.Queue +
// threading.Lock become a slice-backed FIFO + sync.Mutex).
type InMemoryQueue struct {
	mu         sync.Mutex
	fifo       []string
	tasks      map[string]*Task
	processing map[string]*Task
	completed  map[string]*Task
	failed     map[string]*Task
}

// NewInMemoryQueue builds an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks:      make(map[string]*Task),
		processing: make(map[string]*Task),
		completed:  make(map[string]*Task),
		failed:     make(map[string]*Task),
	}
}

// Add appends task to the tail of the FIFO.
func (q *InMemoryQueue) Add(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[task.DocID] = task
	q.fifo = append(q.fifo, task.DocID)
}

// ClaimNext pops the head of the FIFO and marks it processing, or returns
// nil if the queue is empty.
func (q *InMemoryQueue) ClaimNext() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.fifo) == 0 {
		return nil
	}
	docID := q.fifo[0]
	q.fifo = q.fifo[1:]

	task, ok := q.tasks[docID]
	if !ok {
		return nil
	}
	task.Status = StatusProcessing
	q.processing[docID] = task
	return task
}

// UpdateStatus mutates the in-queue mirror for docID; the Metadata Store
// remains the system of record.
func (q *InMemoryQueue) UpdateStatus(docID string, status Status, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[docID]
	if !ok {
		return
	}
	task.Status = status

	switch status {
	case StatusCompleted:
		delete(q.processing, docID)
		q.completed[docID] = task
	case StatusFailed:
		task.ErrMsg = errMsg
		delete(q.processing, docID)
		q.failed[docID] = task
	}
}

// Get returns the task for docID, if any.
func (q *InMemoryQueue) Get(docID string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[docID]
	return t, ok
}

// Status summarizes the queue's current occupancy.
func (q *InMemoryQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	processingIDs := make([]string, 0, len(q.processing))
	for id := range q.processing {
		processingIDs = append(processingIDs, id)
	}

	return QueueStatus{
		QueueSize:       len(q.fifo),
		ProcessingTasks: processingIDs,
		CompletedCount:  len(q.completed),
		FailedCount:     len(q.failed),
	}
}

// All returns every task the queue has ever seen.
func (q *InMemoryQueue) All() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t)
	}
	return out
}
