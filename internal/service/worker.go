package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/imaging"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/metrics"
	"github.com/timmy/embedr/internal/storage"
)

// ItemFinalizer reconciles an item once all its tasks in a batch are terminal.
type ItemFinalizer interface {
	Finalize(ctx context.Context, batchID, itemID string, expected int) error
}

// WorkerConfig holds configuration for the task worker
type WorkerConfig struct {
	MaxTaskRepeat  int
	RetryBaseDelay time.Duration
	Folder         string
	ChunkSize      int64
	WorkDir        string
	Profile        imaging.Profile
}

// Worker executes single tasks: the add pipeline, derivative deletion, or metadata-only completion.
type Worker struct {
	ledger    Ledger
	counter   CompletionCounter
	queue     TaskQueue
	storage   ObjectStore
	toolchain Toolchain
	fetcher   Fetcher
	finalizer ItemFinalizer
	metrics   *metrics.Metrics
	logger    *logger.Logger
	backoff   Backoff
	cfg       WorkerConfig
}

// NewWorker creates a new task worker
func NewWorker(
	ledger Ledger,
	counter CompletionCounter,
	queue TaskQueue,
	objectStore ObjectStore,
	toolchain Toolchain,
	fetcher Fetcher,
	finalizer ItemFinalizer,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg WorkerConfig,
) *Worker {
	if cfg.MaxTaskRepeat < 1 {
		cfg.MaxTaskRepeat = 1
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Worker{
		ledger:    ledger,
		counter:   counter,
		queue:     queue,
		storage:   objectStore,
		toolchain: toolchain,
		fetcher:   fetcher,
		finalizer: finalizer,
		metrics:   m,
		logger:    log,
		backoff:   NewBackoff(cfg.RetryBaseDelay),
		cfg:       cfg,
	}
}

func (w *Worker) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return w.logger
}

// ProcessTask runs one delivery of a task.
// A task that cannot be loaded fails with domain.ErrTaskUnavailable and must not be retried.
// Pipeline failures are absorbed by the retry policy and do not surface as errors.
func (w *Worker) ProcessTask(ctx context.Context, ref domain.TaskRef) error {
	task, err := w.ledger.GetTask(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return fmt.Errorf("%w: %v", domain.ErrTaskUnavailable, err)
		}
		return err
	}
	ctx = logger.SetTask(ctx, task.BatchID, task.ID, task.ItemID)

	if task.Status.Terminal() {
		w.log(ctx).WithField(logger.FieldStatus, task.Status).Info("Task already terminal, re-signalling completion")
		return w.signalCompletion(ctx, task)
	}

	payload, err := task.Payload()
	if err != nil {
		return err
	}

	start := time.Now()
	status, meta, runErr := w.run(ctx, task, payload)
	w.metrics.ObserveTask(string(task.Type), time.Since(start))

	if runErr != nil {
		return w.handleFailure(ctx, task, runErr)
	}
	logger.With(nil).WithDuration(start).WithStatus(status).Debug(ctx, "Task pipeline finished")
	return w.complete(ctx, task, status, meta)
}

func (w *Worker) run(ctx context.Context, task *domain.Task, payload domain.Payload) (domain.TaskStatus, *domain.ImageMeta, error) {
	switch p := payload.(type) {
	case domain.AddPayload:
		meta, err := w.add(ctx, task.ItemID, p)
		if err != nil {
			return "", nil, err
		}
		return domain.TaskStatusOK, meta, nil
	case domain.DeletePayload:
		w.deleteDerivative(ctx, task.ItemID, p)
		return domain.TaskStatusDeleted, nil, nil
	case domain.MetadataPayload:
		return domain.TaskStatusOK, nil, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported payload %T", domain.ErrTaskUnavailable, payload)
	}
}

// add fetches, converts, compresses and uploads one source image.
func (w *Worker) add(ctx context.Context, itemID string, p domain.AddPayload) (*domain.ImageMeta, error) {
	dir, err := os.MkdirTemp(w.cfg.WorkDir, "task-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source")
	if err := w.fetcher.Fetch(ctx, p.URL, src); err != nil {
		return nil, err
	}

	tif, err := w.toolchain.Transcode(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to transcode: %w", err)
	}

	dims, err := w.toolchain.Probe(ctx, tif)
	if err != nil {
		return nil, fmt.Errorf("failed to probe: %w", err)
	}

	jp2, err := w.toolchain.Compress(ctx, tif, w.cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}

	f, err := os.Open(jp2)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	key := storage.DerivativeKey(w.cfg.Folder, itemID, p.Position)
	if err := w.storage.UploadMultipart(ctx, key, f, info.Size(), w.cfg.ChunkSize, storage.DerivativeContentType); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	logger.With(logger.Fields{
		logger.FieldSize: info.Size(),
		"url":            w.storage.GetURL(key),
		"width":          dims.Width,
		"height":         dims.Height,
	}).Info(ctx, "Derivative uploaded")

	return &domain.ImageMeta{Width: dims.Width, Height: dims.Height, Filename: key}, nil
}

// deleteDerivative removes the object at the task's position. Failures are logged only.
func (w *Worker) deleteDerivative(ctx context.Context, itemID string, p domain.DeletePayload) {
	key := storage.DerivativeKey(w.cfg.Folder, itemID, p.Position)
	if err := w.storage.Delete(ctx, key); err != nil {
		w.log(ctx).WithField("key", key).WithError(err).Warn("Failed to delete derivative")
	}
}

// handleFailure counts the failed attempt and either reschedules the task or settles it as error.
func (w *Worker) handleFailure(ctx context.Context, task *domain.Task, cause error) error {
	if errors.Is(cause, domain.ErrTaskUnavailable) {
		return cause
	}

	attempts, err := w.ledger.IncrementAttempts(ctx, task.Ref())
	if err != nil {
		return fmt.Errorf("failed to record attempt after %v: %w", cause, err)
	}

	if attempts < w.cfg.MaxTaskRepeat {
		delay := w.backoff.Delay(attempts)
		if err := w.queue.Enqueue(ctx, task.Ref(), delay); err != nil {
			return fmt.Errorf("failed to reschedule task: %w", err)
		}
		w.metrics.TaskRetries.WithLabelValues(string(task.Type)).Inc()
		logger.With(nil).WithDelay(delay).WithAttempts(attempts).
			Warn(ctx, "Task attempt failed, retrying: %v", cause)
		return nil
	}

	logger.With(nil).WithAttempts(attempts).Error(ctx, "Task failed permanently: %v", cause)
	return w.complete(ctx, task, domain.TaskStatusError, nil)
}

func (w *Worker) complete(ctx context.Context, task *domain.Task, status domain.TaskStatus, meta *domain.ImageMeta) error {
	updated, err := w.ledger.CompleteTask(ctx, task.Ref(), status, meta)
	if err != nil {
		return err
	}
	if updated {
		w.metrics.TasksProcessed.WithLabelValues(string(task.Type), string(status)).Inc()
	} else {
		w.log(ctx).Info("Task was completed by another delivery")
	}
	return w.signalCompletion(ctx, task)
}

// signalCompletion adds the task to the item's finished set and runs the finalizer
// once every sibling task is recorded.
func (w *Worker) signalCompletion(ctx context.Context, task *domain.Task) error {
	finished, added, err := w.counter.MarkFinished(ctx, task.BatchID, task.ItemID, task.ID)
	if err != nil {
		return err
	}

	w.log(ctx).WithFields(logger.Fields{
		"finished": finished,
		"expected": task.ItemTasksCount,
		"first":    added,
	}).Debug("Task completion recorded")

	if finished < int64(task.ItemTasksCount) {
		return nil
	}
	return w.finalizer.Finalize(ctx, task.BatchID, task.ItemID, task.ItemTasksCount)
}
