package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/infrastructure/metrics"
)

// ErrPoolStopped is returned by Submit once Stop has been called.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is a unit of detached background work.
type Task struct {
	Name     string
	VisualID string
	Run      func(ctx context.Context) error
}

// Pool runs submitted tasks on a fixed number of workers reading a bounded queue.
type Pool struct {
	workers     []*Worker
	queue       chan Task
	workerCount int
	taskTimeout time.Duration
	log         zerolog.Logger
	wg          sync.WaitGroup

	mu         sync.Mutex
	stopped    bool
	done       chan struct{}
	submitters sync.WaitGroup
}

// Config contains worker pool configuration.
type Config struct {
	WorkerCount int
	QueueSize   int
	TaskTimeout time.Duration
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, log zerolog.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount
	}
	return &Pool{
		queue:       make(chan Task, cfg.QueueSize),
		done:        make(chan struct{}),
		workerCount: cfg.WorkerCount,
		taskTimeout: cfg.TaskTimeout,
		log:         log.With().Str("component", "worker-pool").Logger(),
	}
}

// Start initializes and starts all workers. Workers exit when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.log.Info().Int("worker_count", p.workerCount).Int("queue_size", cap(p.queue)).Msg("starting worker pool")

	p.workers = make([]*Worker, p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		worker := NewWorker(i+1, p.queue, p.taskTimeout, p.log)
		p.workers[i] = worker

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	p.log.Info().Msg("worker pool started")
	return nil
}

// Submit blocks until the task is queued, ctx is done or the pool is stopped. A task queued
// before Stop returns is still run.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.submitters.Add(1)
	p.mu.Unlock()
	defer p.submitters.Done()

	select {
	case p.queue <- task:
		metrics.SetQueueDepth(len(p.queue))
		return nil
	case <-p.done:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new submissions, releases blocked submitters, then closes the queue and waits up
// to timeout for queued tasks to drain.
func (p *Pool) Stop(timeout time.Duration) {
	p.log.Info().Msg("stopping worker pool")

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.done)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.submitters.Wait()
		close(p.queue)
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.log.Info().Msg("all workers stopped gracefully")
	case <-time.After(timeout):
		p.log.Warn().Int("queued", len(p.queue)).Msg("worker pool shutdown timed out")
	}
}

// QueueDepth returns the number of queued tasks not yet picked up.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}
