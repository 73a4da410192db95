package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/metrics"
)

// TaskProcessor runs one delivery of a task.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, ref domain.TaskRef) error
}

// DepthReporter exposes the queue size by state.
type DepthReporter interface {
	Depth(ctx context.Context) (ready, inflight int64, err error)
}

// RunnerConfig holds configuration for the worker runner
type RunnerConfig struct {
	Workers      int
	PollInterval time.Duration
	// ReapInterval is how often lapsed in-flight deliveries are returned to the queue.
	ReapInterval time.Duration
}

// Runner drains the task queue with a fixed pool of workers.
type Runner struct {
	queue     ClaimQueue
	processor TaskProcessor
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cfg       RunnerConfig
}

// NewRunner creates a new worker runner
func NewRunner(queue ClaimQueue, processor TaskProcessor, m *metrics.Metrics, log *logger.Logger, cfg RunnerConfig) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	return &Runner{
		queue:     queue,
		processor: processor,
		metrics:   m,
		logger:    log,
		cfg:       cfg,
	}
}

func (r *Runner) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

// Run claims and processes tasks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "runner")
	r.log(ctx).WithField("workers", r.cfg.Workers).Info("Starting worker runner")

	refs := make(chan domain.TaskRef, r.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(logger.WithField(ctx, logger.FieldWorker, workerID), refs)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.reap(ctx)
	}()

	r.claim(ctx, refs)
	close(refs)
	wg.Wait()

	r.log(ctx).Info("Worker runner stopped")
	return nil
}

// claim feeds claimed refs to the workers, polling while the queue has nothing due.
func (r *Runner) claim(ctx context.Context, refs chan<- domain.TaskRef) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ref, ok, err := r.queue.Claim(ctx)
		if err != nil && ctx.Err() == nil {
			r.log(ctx).WithError(err).Error("Failed to claim task")
		}
		if err != nil || !ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		select {
		case refs <- ref:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) worker(ctx context.Context, refs <-chan domain.TaskRef) {
	for ref := range refs {
		r.metrics.WorkersBusy.Inc()
		r.handle(ctx, ref)
		r.metrics.WorkersBusy.Dec()
	}
}

// handle processes one delivery and acknowledges it unless it should be redelivered.
func (r *Runner) handle(ctx context.Context, ref domain.TaskRef) {
	err := r.processor.ProcessTask(ctx, ref)
	if err != nil {
		entry := r.log(ctx).WithField("task", ref.String()).WithError(err)
		if !errors.Is(err, domain.ErrTaskUnavailable) {
			// Left in flight; the reaper hands it out again after the visibility timeout.
			entry.Error("Task processing failed")
			return
		}
		entry.Error("Task unavailable, dropping delivery")
	}
	if err := r.queue.Ack(ctx, ref); err != nil {
		r.log(ctx).WithField("task", ref.String()).WithError(err).Warn("Failed to acknowledge task")
	}
}

func (r *Runner) reap(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := r.queue.RequeueExpired(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log(ctx).WithError(err).Warn("Failed to requeue expired tasks")
			}
			continue
		}
		if n > 0 {
			logger.With(nil).WithCount(n).Warn(ctx, "Requeued expired task deliveries")
		}

		if d, ok := r.queue.(DepthReporter); ok {
			ready, inflight, err := d.Depth(ctx)
			if err == nil {
				r.metrics.QueueDepth.WithLabelValues("ready").Set(float64(ready))
				r.metrics.QueueDepth.WithLabelValues("inflight").Set(float64(inflight))
			}
		}
	}
}
