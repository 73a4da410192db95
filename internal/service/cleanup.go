package service

import (
	"context"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/metrics"
	"github.com/timmy/embedr/internal/storage"
)

// Cleanup step names, also used as metric labels.
const (
	StepDerivative = "derivative"
	StepIndex      = "index"
	StepItem       = "item"
)

// CleanupReport lists what a cleanup run tried and what did not succeed.
type CleanupReport struct {
	Attempted []string `json:"attempted"`
	Failed    []string `json:"failed"`
}

// OK reports whether every step succeeded.
func (r CleanupReport) OK() bool {
	return len(r.Failed) == 0
}

// Cleaner rolls back the partially applied state of an item that could not be finalized.
type Cleaner struct {
	items   ItemStore
	index   SearchIndex
	storage ObjectStore
	folder  string
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewCleaner creates a new compensating cleaner
func NewCleaner(items ItemStore, index SearchIndex, objectStore ObjectStore, folder string, m *metrics.Metrics, log *logger.Logger) *Cleaner {
	return &Cleaner{
		items:   items,
		index:   index,
		storage: objectStore,
		folder:  folder,
		metrics: m,
		logger:  log,
	}
}

func (c *Cleaner) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// Clean deletes the derivatives at positions 0..count-1, the index entry and the item record.
// Every step is attempted regardless of earlier failures; errors are logged and reported, never returned.
func (c *Cleaner) Clean(ctx context.Context, itemID string, count int) CleanupReport {
	var report CleanupReport

	for pos := 0; pos < count; pos++ {
		key := storage.DerivativeKey(c.folder, itemID, pos)
		c.step(ctx, &report, StepDerivative, key, func() error {
			return c.storage.Delete(ctx, key)
		})
	}

	key := domain.IndexKey(itemID)
	c.step(ctx, &report, StepIndex, key, func() error {
		return c.index.Delete(ctx, key)
	})

	c.step(ctx, &report, StepItem, itemID, func() error {
		return c.items.Delete(ctx, itemID)
	})

	logger.With(logger.Fields{
		logger.FieldCount: len(report.Attempted),
		"failed":          len(report.Failed),
	}).Warn(ctx, "Compensating cleanup finished for item %s", itemID)

	return report
}

func (c *Cleaner) step(ctx context.Context, report *CleanupReport, step, target string, fn func() error) {
	report.Attempted = append(report.Attempted, step+":"+target)
	if err := fn(); err != nil {
		report.Failed = append(report.Failed, step+":"+target)
		c.metrics.Cleanups.WithLabelValues(step, "error").Inc()
		c.log(ctx).WithFields(logger.Fields{
			"step":   step,
			"target": target,
		}).WithError(err).Warn("Cleanup step failed")
		return
	}
	c.metrics.Cleanups.WithLabelValues(step, "ok").Inc()
}
