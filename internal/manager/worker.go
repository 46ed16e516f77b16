// Package manager implements the Processing Manager of SPEC_FULL.md §4.7,
// wiring the Blob Store, Metadata Store, Vector Index Façade, Embedding
// Client, Text Converter, and Task Queue behind a worker pool.
//
// The worker-pool scaffolding (Worker/BaseWorker/WorkerPool/WorkerConfig) is
// generalized from the teacher's internal/workers/worker.go; the per-task
// step pipeline is generalized from internal/workers/upload_worker.go's
// five-step pipeline, re-pointed at this spec's steps and error kinds.
package manager

import (
	"context"
	"sync"
	"time"
)

// WorkerStats mirrors the teacher's per-worker counters.
type WorkerStats struct {
	WorkerName    string
	JobsProcessed int64
	JobsSucceeded int64
	JobsFailed    int64
	LastJobTime   time.Time
	Uptime        time.Duration
	IsRunning     bool
}

// WorkerConfig configures a pollingWorker. Defaults diverge deliberately
// from the teacher's DefaultWorkerConfig: PollInterval is ~100ms (matching
// original_source/utils/document_queue.py's time.sleep(0.1) exactly) and
// ShutdownTimeout is 5s (matching SPEC_FULL.md §4.7/§5), not the teacher's
// own 2s/30s defaults.
type WorkerConfig struct {
	WorkerName      string
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultWorkerConfig returns this spec's worker defaults.
func DefaultWorkerConfig(workerName string) WorkerConfig {
	return WorkerConfig{
		WorkerName:      workerName,
		PollInterval:    100 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// pollingWorker runs one goroutine that repeatedly claims and processes
// tasks, bounded by a shared semaphore of capacity W.
type pollingWorker struct {
	config  WorkerConfig
	process func(ctx context.Context) (found, succeeded bool)
	sem     chan struct{}

	mu      sync.RWMutex
	running bool

	statsMu       sync.RWMutex
	jobsProcessed int64
	jobsSucceeded int64
	jobsFailed    int64
	lastJobTime   time.Time
	startTime     time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func newPollingWorker(config WorkerConfig, sem chan struct{}, process func(ctx context.Context) (found, succeeded bool)) *pollingWorker {
	return &pollingWorker{
		config:  config,
		process: process,
		sem:     sem,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (w *pollingWorker) Name() string { return w.config.WorkerName }

func (w *pollingWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *pollingWorker) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = running
	if running {
		w.startTime = time.Now()
	}
}

func (w *pollingWorker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	var uptime time.Duration
	if !w.startTime.IsZero() {
		uptime = time.Since(w.startTime)
	}

	return WorkerStats{
		WorkerName:    w.config.WorkerName,
		JobsProcessed: w.jobsProcessed,
		JobsSucceeded: w.jobsSucceeded,
		JobsFailed:    w.jobsFailed,
		LastJobTime:   w.lastJobTime,
		Uptime:        uptime,
		IsRunning:     w.IsRunning(),
	}
}

func (w *pollingWorker) recordResult(succeeded bool) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.jobsProcessed++
	if succeeded {
		w.jobsSucceeded++
	} else {
		w.jobsFailed++
	}
	w.lastJobTime = time.Now()
}

// Start launches the polling loop in its own goroutine.
func (w *pollingWorker) Start(ctx context.Context) {
	w.setRunning(true)
	go w.loop(ctx)
}

// loop claims and processes tasks back-to-back with no delay; it sleeps
// PollInterval only after an empty claim, matching the spec's "claim next
// task; if none, sleep ~100ms; else process" precisely (not a fixed-rate
// ticker, which would throttle throughput even with work queued).
func (w *pollingWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.setRunning(false)
			return
		case <-w.stopCh:
			w.setRunning(false)
			return
		default:
		}

		w.sem <- struct{}{}
		found, succeeded := w.process(ctx)
		<-w.sem

		if found {
			w.recordResult(succeeded)
			continue
		}

		select {
		case <-ctx.Done():
			w.setRunning(false)
			return
		case <-w.stopCh:
			w.setRunning(false)
			return
		case <-time.After(w.config.PollInterval):
		}
	}
}

// Stop signals the loop to exit and waits up to ShutdownTimeout.
func (w *pollingWorker) Stop() {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(w.config.ShutdownTimeout):
	}
}

// workerPool manages a fixed set of pollingWorkers sharing one semaphore.
type workerPool struct {
	workers []*pollingWorker
}

func newWorkerPool() *workerPool {
	return &workerPool{}
}

func (p *workerPool) add(w *pollingWorker) {
	p.workers = append(p.workers, w)
}

func (p *workerPool) startAll(ctx context.Context) {
	for _, w := range p.workers {
		w.Start(ctx)
	}
}

func (p *workerPool) stopAll() {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *pollingWorker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

func (p *workerPool) allStats() []WorkerStats {
	stats := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		stats = append(stats, w.Stats())
	}
	return stats
}
