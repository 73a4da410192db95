package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/metrics"
)

// CoordinatorConfig holds configuration for the ingest coordinator
type CoordinatorConfig struct {
	// DirectMetadataUpdates applies metadata-only changes immediately instead of
	// routing them through a metadata task and the finalizer.
	DirectMetadataUpdates bool
}

// Coordinator validates submissions, plans their tasks and hands them to the queue.
type Coordinator struct {
	items     ItemStore
	ledger    Ledger
	queue     TaskQueue
	index     SearchIndex
	metrics   *metrics.Metrics
	logger    *logger.Logger
	validator *recordValidator
	cfg       CoordinatorConfig
	newID     func() string
}

// NewCoordinator creates a new ingest coordinator
func NewCoordinator(items ItemStore, ledger Ledger, queue TaskQueue, index SearchIndex, m *metrics.Metrics, log *logger.Logger, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		items:     items,
		ledger:    ledger,
		queue:     queue,
		index:     index,
		metrics:   m,
		logger:    log,
		validator: &recordValidator{validate: newRecordValidator()},
		cfg:       cfg,
		newID:     uuid.NewString,
	}
}

func (c *Coordinator) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// Submit validates the records, persists a batch with its tasks and item locks, and enqueues every task.
// A submission with any invalid record is rejected as a whole with *domain.ValidationError.
func (c *Coordinator) Submit(ctx context.Context, records []map[string]any) (*domain.Batch, error) {
	data, err := c.validator.Validate(records)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(data))
	for i := range data {
		ids[i] = data[i].ID
	}
	existing, err := c.items.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var locked []string
	for order, d := range data {
		if item, ok := existing[d.ID]; ok && item.Lock {
			locked = append(locked, fmt.Sprintf("The item num. %d is locked by an ingest in progress", order))
		}
	}
	if len(locked) > 0 {
		return nil, &domain.ValidationError{Errors: locked}
	}

	batch := &domain.Batch{ID: c.newID()}
	ctx = logger.SetBatchID(ctx, batch.ID)

	var (
		tasks   []domain.Task
		lockIDs []string
		direct  []*domain.Item
	)
	for i := range data {
		d := &data[i]
		old := existing[d.ID]
		payloads := planTasks(old, d)

		summary := domain.BatchItem{ID: d.ID, URLs: d.URLs}
		switch {
		case d.Deleted():
			summary.Status = domain.BatchItemDeleted
			summary.URLs = nil
		case len(payloads) > 0:
			summary.Status = domain.BatchItemPending
		case c.cfg.DirectMetadataUpdates:
			summary.Status = domain.BatchItemOK
			item := *old
			item.ApplyData(d)
			direct = append(direct, &item)
		default:
			summary.Status = domain.BatchItemPending
			payloads = []domain.Payload{domain.MetadataPayload{}}
		}
		batch.Items = append(batch.Items, summary)

		if len(payloads) == 0 {
			continue
		}
		lockIDs = append(lockIDs, d.ID)
		for _, p := range payloads {
			t := domain.NewTask(batch.ID, len(tasks)+1, d.ID, p, *d)
			t.ItemTasksCount = len(payloads)
			tasks = append(tasks, t)
			batch.TaskIDs = append(batch.TaskIDs, t.ID)
		}
	}
	batch.TaskCount = len(tasks)
	if batch.TaskIDs == nil {
		batch.TaskIDs = domain.IntArray{}
	}

	if err := c.ledger.CreateBatch(ctx, batch, tasks, lockIDs); err != nil {
		return nil, err
	}

	for _, item := range direct {
		c.applyDirect(ctx, item)
	}

	for i := range tasks {
		if err := c.queue.Enqueue(ctx, tasks[i].Ref(), 0); err != nil {
			return batch, fmt.Errorf("failed to enqueue task %s: %w", tasks[i].Ref(), err)
		}
		c.metrics.TasksCreated.WithLabelValues(string(tasks[i].Type)).Inc()
	}

	c.metrics.BatchesSubmitted.Inc()
	logger.With(logger.Fields{
		logger.FieldCount: len(batch.Items),
		"tasks":           batch.TaskCount,
		"direct_updates":  len(direct),
	}).Info(ctx, "Batch submitted")

	return batch, nil
}

// planTasks diffs the submitted URL list against the stored item position by position.
func planTasks(old *domain.Item, d *domain.ItemData) []domain.Payload {
	var payloads []domain.Payload

	if d.Deleted() {
		if old == nil {
			return nil
		}
		for pos, u := range old.URLs {
			payloads = append(payloads, domain.DeletePayload{URL: u, Position: pos})
		}
		return payloads
	}

	var oldURLs domain.StringArray
	if old != nil {
		oldURLs = old.URLs
	}
	for pos := 0; pos < max(len(d.URLs), len(oldURLs)); pos++ {
		switch {
		case pos < len(d.URLs) && pos < len(oldURLs):
			if d.URLs[pos] != oldURLs[pos] {
				payloads = append(payloads, domain.AddPayload{URL: d.URLs[pos], Position: pos})
			}
		case pos < len(d.URLs):
			payloads = append(payloads, domain.AddPayload{URL: d.URLs[pos], Position: pos})
		default:
			payloads = append(payloads, domain.DeletePayload{URL: oldURLs[pos], Position: pos})
		}
	}
	return payloads
}

// applyDirect saves a metadata-only change and republishes the item. Index errors are logged only.
func (c *Coordinator) applyDirect(ctx context.Context, item *domain.Item) {
	ctx = logger.SetItemID(ctx, item.ID)
	if err := c.items.Save(ctx, item); err != nil {
		c.log(ctx).WithError(err).Error("Failed to apply metadata update")
		return
	}

	ordered, ok := item.OrderedImageMeta()
	if !ok {
		c.log(ctx).Warn("Item has URLs without image metadata, search index not updated")
		return
	}
	doc, err := domain.NewSearchDocument(item, ordered)
	if err == nil {
		err = c.index.Upsert(ctx, domain.IndexKey(item.ID), doc)
	}
	if err != nil {
		c.log(ctx).WithError(err).Warn("Failed to update search index")
	}
}

// URLProgress is the live status of one URL of a batch item.
type URLProgress struct {
	URL    string            `json:"url"`
	Status domain.TaskStatus `json:"status"`
}

// ItemProgress is the live status of one submitted item.
type ItemProgress struct {
	ID     string            `json:"id"`
	Status domain.TaskStatus `json:"status"`
	URLs   []URLProgress     `json:"urls"`
}

// BatchProgress reports the state of every non-deleted item of a batch.
type BatchProgress struct {
	BatchID   string         `json:"batch_id"`
	TaskCount int            `json:"task_count"`
	Items     []ItemProgress `json:"items"`
}

// BatchProgress looks up the live task statuses of a batch.
// URLs the batch did not touch report ok.
func (c *Coordinator) BatchProgress(ctx context.Context, batchID string) (*BatchProgress, error) {
	batch, err := c.ledger.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	tasks, err := c.ledger.ListBatchTasks(ctx, batchID)
	if err != nil {
		return nil, err
	}

	byURL := make(map[string]domain.TaskStatus, len(tasks))
	for _, t := range tasks {
		key := t.ItemID + "@" + t.URL
		if prev, ok := byURL[key]; !ok || prev != domain.TaskStatusOK {
			byURL[key] = t.Status
		}
	}

	progress := &BatchProgress{BatchID: batch.ID, TaskCount: batch.TaskCount, Items: []ItemProgress{}}
	for _, bi := range batch.Items {
		if bi.Status == domain.BatchItemDeleted {
			continue
		}
		ip := ItemProgress{ID: bi.ID, Status: domain.TaskStatusOK, URLs: make([]URLProgress, 0, len(bi.URLs))}
		for _, u := range bi.URLs {
			status, ok := byURL[bi.ID+"@"+u]
			if !ok || status == domain.TaskStatusDeleted {
				status = domain.TaskStatusOK
			}
			ip.URLs = append(ip.URLs, URLProgress{URL: u, Status: status})

			switch {
			case status == domain.TaskStatusError:
				ip.Status = domain.TaskStatusError
			case status == domain.TaskStatusPending && ip.Status != domain.TaskStatusError:
				ip.Status = domain.TaskStatusPending
			}
		}
		progress.Items = append(progress.Items, ip)
	}
	return progress, nil
}

// GetTask returns one task of the ledger.
func (c *Coordinator) GetTask(ctx context.Context, ref domain.TaskRef) (*domain.Task, error) {
	return c.ledger.GetTask(ctx, ref)
}

// GetItem returns a finalized item. Items with an ingest in flight are refused.
func (c *Coordinator) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := c.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Lock {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemLocked, id)
	}
	return item, nil
}

// IsValidation reports whether err rejects a submission.
func IsValidation(err error) bool {
	var v *domain.ValidationError
	return errors.As(err, &v)
}
