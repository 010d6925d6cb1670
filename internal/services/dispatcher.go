package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/miradorstack/mirador-aha/internal/metrics"
)

// Job is one unit of background work. ctx is cancelled only when shutdown
// gives up waiting.
type Job func(ctx context.Context)

// Dispatcher runs jobs on a fixed pool of workers fed by a bounded queue.
// Submit never blocks: when the queue is full the job gets its own goroutine.
type Dispatcher struct {
	logger *slog.Logger
	queue  chan Job
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines draining a queue of queueSize.
func NewDispatcher(logger *slog.Logger, workers, queueSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger: logger,
		queue:  make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Submit schedules job and reports whether it was accepted. Jobs submitted
// after Close are rejected.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- job:
	default:
		metrics.ObserveDispatchOverflow()
		d.logger.Warn("dispatch queue full; running job outside the pool", slog.Int("queue_size", cap(d.queue)))
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(job)
		}()
	}
	return true
}

// Pending reports how many jobs are waiting for a worker.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops intake and waits for queued and running jobs. If ctx expires
// first, the jobs' context is cancelled and Close returns ctx.Err() without
// waiting for them to observe it.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("background job panicked", slog.Any("panic", r))
		}
	}()
	job(d.ctx)
}
