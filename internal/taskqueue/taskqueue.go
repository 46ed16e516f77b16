// Package taskqueue implements the Task Queue of SPEC_FULL.md §4.6,
// grounded on original_source/utils/document_queue.py's MemoryDocumentQueue
// for the default implementation's shape (FIFO plus four status maps under
// one lock), re-expressed in the teacher's interface-then-concrete idiom.
package taskqueue

import "time"

// Status is the closed set of task lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one unit of submitted work tracked by the queue.
type Task struct {
	DocID       string
	UserToken   string
	Filename    string
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ErrMsg      string
}

// QueueStatus summarizes the queue's current occupancy.
type QueueStatus struct {
	QueueSize       int
	ProcessingTasks []string
	CompletedCount  int
	FailedCount     int
}

// TaskQueue is the interface the Processing Manager depends on; it is
// written so a message-broker-backed implementation can later substitute
// for the default in-process one.
type TaskQueue interface {
	Add(task *Task)
	ClaimNext() *Task
	UpdateStatus(docID string, status Status, errMsg string)
	Get(docID string) (*Task, bool)
	Status() QueueStatus
	All() []*Task
}
