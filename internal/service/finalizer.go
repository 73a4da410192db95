package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/metrics"
)

// Finalization outcomes, also used as metric labels.
const (
	OutcomeFinalized    = "finalized"
	OutcomeDeleted      = "deleted"
	OutcomeNoop         = "noop"
	OutcomeCleanedUp    = "cleaned_up"
	OutcomeDeleteFailed = "delete_failed"
)

var errMergeFailed = errors.New("image metadata merge failed")

// FinalizerConfig holds configuration for the finalizer
type FinalizerConfig struct {
	// IndexRetries is the number of attempts of a search index call.
	IndexRetries   int
	IndexRetryBase time.Duration
}

// Finalizer merges the tasks of one item in a batch into its durable record.
type Finalizer struct {
	items   ItemStore
	ledger  Ledger
	index   SearchIndex
	cleaner *Cleaner
	metrics *metrics.Metrics
	logger  *logger.Logger
	cfg     FinalizerConfig
	backoff Backoff
	sleep   Sleeper
	now     func() time.Time
}

// NewFinalizer creates a new finalizer
func NewFinalizer(items ItemStore, ledger Ledger, index SearchIndex, cleaner *Cleaner, m *metrics.Metrics, log *logger.Logger, cfg FinalizerConfig) *Finalizer {
	if cfg.IndexRetries < 1 {
		cfg.IndexRetries = 1
	}
	return &Finalizer{
		items:   items,
		ledger:  ledger,
		index:   index,
		cleaner: cleaner,
		metrics: m,
		logger:  log,
		cfg:     cfg,
		backoff: NewBackoff(cfg.IndexRetryBase),
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// SetSleeper replaces the wait used between index retries.
func (f *Finalizer) SetSleeper(s Sleeper) {
	f.sleep = s
}

// SetClock replaces the source of finalization timestamps.
func (f *Finalizer) SetClock(now func() time.Time) {
	f.now = now
}

func (f *Finalizer) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return f.logger
}

// Finalize reconciles the item once all expected tasks of the batch are terminal.
// Running it again for an already finalized item changes nothing.
func (f *Finalizer) Finalize(ctx context.Context, batchID, itemID string, expected int) error {
	ctx = logger.SetBatchID(ctx, batchID)
	ctx = logger.SetItemID(ctx, itemID)

	tasks, err := f.ledger.ListItemTasks(ctx, batchID, itemID)
	if err != nil {
		return err
	}
	if len(tasks) < expected || len(tasks) == 0 {
		return fmt.Errorf("%w: item %s has %d of %d tasks in batch %s",
			domain.ErrTaskUnavailable, itemID, len(tasks), expected, batchID)
	}

	rep := representative(tasks)
	data := rep.ItemData
	now := f.now().UTC()

	current, err := f.items.GetByID(ctx, itemID)
	if err != nil && !errors.Is(err, domain.ErrItemNotFound) {
		return err
	}
	if errors.Is(err, domain.ErrItemNotFound) {
		current = nil
	}

	if data.Deleted() {
		return f.finalizeDeletion(ctx, current, rep)
	}
	return f.reconcile(ctx, current, tasks, rep, now)
}

// representative returns the highest-id task; its item data is authoritative.
func representative(tasks []domain.Task) *domain.Task {
	rep := &tasks[0]
	for i := range tasks {
		if tasks[i].ID > rep.ID {
			rep = &tasks[i]
		}
	}
	return rep
}

func (f *Finalizer) finalizeDeletion(ctx context.Context, current *domain.Item, rep *domain.Task) error {
	if current == nil {
		f.metrics.Finalizations.WithLabelValues(OutcomeNoop).Inc()
		f.log(ctx).Info("Item already deleted")
		return nil
	}

	key := domain.IndexKey(current.ID)
	err := retry(ctx, f.cfg.IndexRetries, f.backoff, f.sleep, func() error {
		return f.index.Delete(ctx, key)
	})
	if err != nil {
		f.metrics.Finalizations.WithLabelValues(OutcomeDeleteFailed).Inc()
		f.log(ctx).WithError(err).Error("Failed to delete item from search index, item stays locked")
		if ferr := f.ledger.FailTask(ctx, rep.Ref()); ferr != nil {
			return fmt.Errorf("failed to mark task %s as error: %w", rep.Ref(), ferr)
		}
		return nil
	}

	if err := f.items.Delete(ctx, current.ID); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", current.ID, err)
	}

	f.metrics.Finalizations.WithLabelValues(OutcomeDeleted).Inc()
	f.log(ctx).Info("Item deleted")
	return nil
}

func (f *Finalizer) reconcile(ctx context.Context, current *domain.Item, tasks []domain.Task, rep *domain.Task, now time.Time) error {
	if current != nil && !current.Lock && current.FinalizedBatchID == rep.BatchID {
		f.metrics.Finalizations.WithLabelValues(OutcomeNoop).Inc()
		f.log(ctx).Info("Item already finalized for this batch")
		return nil
	}

	item := &domain.Item{ID: rep.ItemID}
	if current != nil {
		item.CreatedAt = current.CreatedAt
	}
	item.ApplyData(&rep.ItemData)

	var previous domain.ImageMetaMap
	if current != nil {
		previous = current.ImageMeta
	}
	merged, err := mergeImageMeta(previous, item.URLs, tasks)
	if err != nil {
		f.log(ctx).WithError(err).Warn("Cannot finalize item")
		f.compensate(ctx, item.ID, len(item.URLs), len(merged), len(previous))
		return nil
	}

	item.ImageMeta = merged
	item.Lock = false
	item.Timestamp = &now
	item.FinalizedBatchID = rep.BatchID

	ordered, _ := item.OrderedImageMeta()
	doc, err := domain.NewSearchDocument(item, ordered)
	if err != nil {
		return fmt.Errorf("failed to build search document: %w", err)
	}

	key := domain.IndexKey(item.ID)
	err = retry(ctx, f.cfg.IndexRetries, f.backoff, f.sleep, func() error {
		return f.index.Upsert(ctx, key, doc)
	})
	if err != nil {
		f.log(ctx).WithError(err).Error("Failed to publish item to search index")
		if ferr := f.ledger.FailTask(ctx, rep.Ref()); ferr != nil {
			f.log(ctx).WithError(ferr).Error("Failed to mark representative task as error")
		}
		f.compensate(ctx, item.ID, len(item.URLs), len(merged), len(previous))
		return nil
	}

	if err := f.items.Save(ctx, item); err != nil {
		return fmt.Errorf("failed to save item %s: %w", item.ID, err)
	}

	f.metrics.Finalizations.WithLabelValues(OutcomeFinalized).Inc()
	logger.With(nil).WithCount(len(item.URLs)).Info(ctx, "Item finalized")
	return nil
}

// compensate runs the cleanup over as many positions as the item may have derivatives for.
func (f *Finalizer) compensate(ctx context.Context, itemID string, counts ...int) {
	count := 0
	for _, c := range counts {
		count = max(count, c)
	}
	f.metrics.Finalizations.WithLabelValues(OutcomeCleanedUp).Inc()
	f.cleaner.Clean(ctx, itemID, count)
}

// mergeImageMeta applies the task results of a batch on top of the previous image metadata.
// Entries of URLs outside urls are pruned. The merge fails while a task is pending or failed,
// or when a listed URL is left without metadata.
func mergeImageMeta(previous domain.ImageMetaMap, urls domain.StringArray, tasks []domain.Task) (domain.ImageMetaMap, error) {
	merged := previous.Clone()
	failed := 0

	for i := range tasks {
		t := &tasks[i]
		switch t.Status {
		case domain.TaskStatusPending, domain.TaskStatusError:
			failed++
		case domain.TaskStatusDeleted:
			if !urls.Contains(t.URL) {
				delete(merged, t.URL)
			}
		case domain.TaskStatusOK:
			if t.Type == domain.TaskTypeAdd {
				merged[t.URL] = t.ImageMeta()
			}
		}
	}

	for u := range merged {
		if !urls.Contains(u) {
			delete(merged, u)
		}
	}

	if failed > 0 {
		return merged, fmt.Errorf("%w: %d task(s) not ok", errMergeFailed, failed)
	}
	for _, u := range urls {
		if _, ok := merged[u]; !ok {
			return merged, fmt.Errorf("%w: no metadata for %s", errMergeFailed, u)
		}
	}
	return merged, nil
}
