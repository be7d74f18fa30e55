package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/infrastructure/metrics"
)

// Worker executes tasks from the pool queue.
type Worker struct {
	id          int
	queue       <-chan Task
	taskTimeout time.Duration
	log         zerolog.Logger
}

// NewWorker creates a new background worker.
func NewWorker(id int, queue <-chan Task, taskTimeout time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		id:          id,
		queue:       queue,
		taskTimeout: taskTimeout,
		log:         log.With().Int("worker_id", id).Str("component", "worker").Logger(),
	}
}

// Start processes tasks until the queue is closed or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("worker stopped by context")
			return
		case task, ok := <-w.queue:
			if !ok {
				w.log.Debug().Msg("worker stopped")
				return
			}
			metrics.SetQueueDepth(len(w.queue))
			w.execute(ctx, task)
		}
	}
}

// execute runs one task. Errors and panics are logged and dropped.
func (w *Worker) execute(ctx context.Context, task Task) {
	log := w.log.With().Str("task", task.Name).Str("visual_id", task.VisualID).Logger()

	taskCtx := ctx
	if w.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, w.taskTimeout)
		defer cancel()
	}

	start := time.Now()
	err := runSafely(taskCtx, task)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordTask(task.Name, "error", duration.Seconds())
		log.Error().Err(err).Dur("duration", duration).Msg("background task failed")
		return
	}
	metrics.RecordTask(task.Name, "success", duration.Seconds())
	log.Debug().Dur("duration", duration).Msg("background task completed")
}

func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	if task.Run == nil {
		return fmt.Errorf("task %q has no run function", task.Name)
	}
	return task.Run(ctx)
}
