package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/metrics"
	"github.com/timmy/embedr/internal/repository"
)

func TestCleaner_AttemptsEveryStep(t *testing.T) {
	ctx := context.Background()
	items := repository.NewItemRepository(newTestDB(t))
	require.NoError(t, items.Save(ctx, &domain.Item{ID: "A", URLs: domain.StringArray{"u"}}))

	index := newFakeIndex()
	index.failDelete = true
	store := newFakeStore()
	store.failDelete["img/A/1.jp2"] = true
	m := metrics.New()

	report := NewCleaner(items, index, store, "img/", m, newTestLogger()).Clean(ctx, "A", 4)

	assert.Equal(t, []string{"img/A.jp2", "img/A/1.jp2", "img/A/2.jp2", "img/A/3.jp2"}, store.deleted)
	assert.Equal(t, 1, index.deletes)
	assert.Len(t, report.Attempted, 6)
	assert.Equal(t, []string{
		StepDerivative + ":img/A/1.jp2",
		StepIndex + ":" + domain.IndexKey("A"),
	}, report.Failed)
	assert.False(t, report.OK())

	_, err := items.GetByID(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Cleanups.WithLabelValues(StepDerivative, "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cleanups.WithLabelValues(StepDerivative, "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cleanups.WithLabelValues(StepItem, "ok")))
}

func TestCleaner_ZeroCountStillClearsRecords(t *testing.T) {
	index := newFakeIndex()
	store := newFakeStore()
	items := repository.NewItemRepository(newTestDB(t))

	report := NewCleaner(items, index, store, "", metrics.New(), newTestLogger()).Clean(context.Background(), "A", 0)

	assert.Empty(t, store.deleted)
	assert.Equal(t, 1, index.deletes)
	assert.True(t, report.OK())
}
