package taskqueue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Redis key conventions, adapted from the teacher's
// internal/repositories/redis_job_repository.go prefix/index-set scheme.
const (
	taskKeyPrefix    = "kbtask:"
	taskPendingList  = "kbtask:pending"
	taskAllIndexKey  = "kbtask:index"
	taskStatusPrefix = "kbtask:status:"
)

// RedisQueue is a Redis-backed TaskQueue, demonstrating the
// broker-substitution point the spec's design notes name. FIFO claim uses
// LPUSH/RPOP against taskPendingList; per-status membership is tracked with
// sets at taskStatusPrefix+status.
type RedisQueue struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisQueue wraps an existing *redis.Client. ctx bounds every call the
// TaskQueue interface makes (the interface itself is context-free, matching
// the in-process implementation's synchronous shape).
func NewRedisQueue(client *redis.Client, ctx context.Context) *RedisQueue {
	return &RedisQueue{client: client, ctx: ctx}
}

func (q *RedisQueue) taskKey(docID string) string {
	return taskKeyPrefix + docID
}

// Add pushes task onto the left end of the pending list; ClaimNext pops from
// the right end, so claims come out in FIFO order.
func (q *RedisQueue) Add(task *Task) {
	data, err := json.Marshal(task)
	if err != nil {
		return
	}

	pipe := q.client.TxPipeline()
	pipe.Set(q.ctx, q.taskKey(task.DocID), data, 0)
	pipe.SAdd(q.ctx, taskAllIndexKey, task.DocID)
	pipe.SAdd(q.ctx, taskStatusPrefix+string(StatusPending), task.DocID)
	pipe.LPush(q.ctx, taskPendingList, task.DocID)
	pipe.Exec(q.ctx)
}

// ClaimNext pops one doc-id off the pending list and marks it processing.
func (q *RedisQueue) ClaimNext() *Task {
	docID, err := q.client.RPop(q.ctx, taskPendingList).Result()
	if err != nil {
		return nil
	}

	task, ok := q.Get(docID)
	if !ok {
		return nil
	}
	task.Status = StatusProcessing

	data, err := json.Marshal(task)
	if err != nil {
		return task
	}

	pipe := q.client.TxPipeline()
	pipe.Set(q.ctx, q.taskKey(docID), data, 0)
	pipe.SRem(q.ctx, taskStatusPrefix+string(StatusPending), docID)
	pipe.SAdd(q.ctx, taskStatusPrefix+string(StatusProcessing), docID)
	pipe.Exec(q.ctx)

	return task
}

// UpdateStatus mutates the stored task and moves its status-set membership.
func (q *RedisQueue) UpdateStatus(docID string, status Status, errMsg string) {
	task, ok := q.Get(docID)
	if !ok {
		return
	}

	prev := task.Status
	task.Status = status
	if status == StatusFailed {
		task.ErrMsg = errMsg
	}

	data, err := json.Marshal(task)
	if err != nil {
		return
	}

	pipe := q.client.TxPipeline()
	pipe.Set(q.ctx, q.taskKey(docID), data, 0)
	pipe.SRem(q.ctx, taskStatusPrefix+string(prev), docID)
	pipe.SAdd(q.ctx, taskStatusPrefix+string(status), docID)
	pipe.Exec(q.ctx)
}

// Get fetches a task by doc-id.
func (q *RedisQueue) Get(docID string) (*Task, bool) {
	data, err := q.client.Get(q.ctx, q.taskKey(docID)).Result()
	if err != nil {
		return nil, false
	}
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, false
	}
	return &task, true
}

// Status summarizes queue occupancy via the status index sets.
func (q *RedisQueue) Status() QueueStatus {
	queueSize, _ := q.client.LLen(q.ctx, taskPendingList).Result()
	processingIDs, _ := q.client.SMembers(q.ctx, taskStatusPrefix+string(StatusProcessing)).Result()
	completedCount, _ := q.client.SCard(q.ctx, taskStatusPrefix+string(StatusCompleted)).Result()
	failedCount, _ := q.client.SCard(q.ctx, taskStatusPrefix+string(StatusFailed)).Result()

	return QueueStatus{
		QueueSize:       int(queueSize),
		ProcessingTasks: processingIDs,
		CompletedCount:  int(completedCount),
		FailedCount:     int(failedCount),
	}
}

// All returns every tracked task.
func (q *RedisQueue) All() []*Task {
	ids, err := q.client.SMembers(q.ctx, taskAllIndexKey).Result()
	if err != nil {
		return nil
	}
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := q.Get(id); ok {
			out = append(out, t)
		}
	}
	return out
}
