package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// Job asks for one pass over a store inbox.
type Job struct {
	Store       string
	Reason      string // "startup" | "fs" | "rescan"
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// PassFunc runs one pass over store.
type PassFunc func(ctx context.Context, store string)

// StoreQueue runs store passes on a small worker pool. Jobs for the same
// store coalesce: a store is queued at most once, never runs on two
// workers at a time, and a job arriving mid-pass schedules one more pass.
type StoreQueue struct {
	pass    PassFunc
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ctx  context.Context
	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	closed  bool
	queued  map[string]bool
	running map[string]bool
}

type Option func(*StoreQueue)

func WithWorkers(n int) Option {
	return func(q *StoreQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *StoreQueue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

// WithPassTimeout bounds a single pass; 0 leaves it unbounded.
func WithPassTimeout(d time.Duration) Option {
	return func(q *StoreQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewStoreQueue starts the workers. Passes run under ctx.
func NewStoreQueue(ctx context.Context, pass PassFunc, logger *slog.Logger, opts ...Option) *StoreQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &StoreQueue{
		pass:    pass,
		logger:  logger,
		workers: 2,
		ctx:     ctx,
		ch:      make(chan string, 64),
		queued:  map[string]bool{},
		running: map[string]bool{},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *StoreQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("async.worker.started", "worker_id", workerID)
				for store := range q.ch {
					q.runOne(workerID, store)
				}
				q.logger.Debug("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *StoreQueue) runOne(workerID int, store string) {
	q.mu.Lock()
	delete(q.queued, store)
	q.running[store] = true
	q.mu.Unlock()

	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if ctx.Err() == nil {
		q.pass(ctx, store)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, store)
	if q.queued[store] && !q.closed {
		q.logger.Debug("async.store.requeued", "worker_id", workerID, "store", store)
		q.push(store)
	}
}

// push sends without blocking; callers hold mu.
func (q *StoreQueue) push(store string) {
	select {
	case q.ch <- store:
		q.queued[store] = true
	default:
		delete(q.queued, store)
		q.logger.Warn("async.queue.full", "store", store)
	}
}

func (q *StoreQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("async.enqueue.closed", "store", job.Store)
		return ErrQueueClosed
	}
	if q.queued[job.Store] {
		q.logger.Debug("async.enqueue.coalesced", "store", job.Store, "reason", job.Reason)
		return nil
	}
	if q.running[job.Store] {
		// picked up again when the running pass ends
		q.queued[job.Store] = true
		return nil
	}
	q.push(job.Store)
	q.logger.Debug("async.enqueue.ok", "store", job.Store, "reason", job.Reason)
	return nil
}

func (q *StoreQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("async.shutdown.interrupted")
	case <-done:
		q.logger.Info("async.shutdown.done")
	}
}
