package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/embedr/internal/domain"
	"gorm.io/gorm"
)

// taskInsertBatchSize bounds the rows per INSERT when a batch is persisted.
const taskInsertBatchSize = 100

// LedgerRepository stores batches and their tasks.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreateBatch persists a batch, its tasks and the item locks in one transaction.
// Items listed in lockIDs are locked; missing ones get a locked placeholder record.
func (r *LedgerRepository) CreateBatch(ctx context.Context, batch *domain.Batch, tasks []domain.Task, lockIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}
		if len(tasks) > 0 {
			if err := tx.CreateInBatches(tasks, taskInsertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to create tasks: %w", err)
			}
		}
		return lockItems(tx, lockIDs)
	})
}

// GetBatch retrieves a batch by ID.
func (r *LedgerRepository) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}
	return &batch, nil
}

// GetTask retrieves a task by reference.
func (r *LedgerRepository) GetTask(ctx context.Context, ref domain.TaskRef) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND id = ?", ref.BatchID, ref.TaskID).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load task %s: %w", ref, err)
	}
	return &task, nil
}

// ListItemTasks returns the tasks of one item within a batch, ordered by position.
func (r *LedgerRepository) ListItemTasks(ctx context.Context, batchID, itemID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND item_id = ?", batchID, itemID).
		Order("position ASC").Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of %s in batch %s: %w", itemID, batchID, err)
	}
	return tasks, nil
}

// ListBatchTasks returns every task of a batch ordered by ID.
func (r *LedgerRepository) ListBatchTasks(ctx context.Context, batchID string) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks of batch %s: %w", batchID, err)
	}
	return tasks, nil
}

// CompleteTask moves a pending task to a terminal status, recording meta when given.
// It reports false when the task was no longer pending; terminal rows are never rewritten.
func (r *LedgerRepository) CompleteTask(ctx context.Context, ref domain.TaskRef, status domain.TaskStatus, meta *domain.ImageMeta) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	updates := map[string]interface{}{"status": status}
	if meta != nil {
		updates["width"] = meta.Width
		updates["height"] = meta.Height
		updates["filename"] = meta.Filename
	}
	result := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("batch_id = ? AND id = ? AND status = ?", ref.BatchID, ref.TaskID, domain.TaskStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete task %s: %w", ref, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// IncrementAttempts atomically adds one to the attempt counter of a task and returns the new value.
func (r *LedgerRepository) IncrementAttempts(ctx context.Context, ref domain.TaskRef) (int, error) {
	var attempts []int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Task{}).
			Where("batch_id = ? AND id = ?", ref.BatchID, ref.TaskID).
			UpdateColumn("attempts", gorm.Expr("attempts + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrTaskNotFound
		}
		return tx.Model(&domain.Task{}).
			Where("batch_id = ? AND id = ?", ref.BatchID, ref.TaskID).
			Pluck("attempts", &attempts).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts of %s: %w", ref, err)
	}
	if len(attempts) == 0 {
		return 0, domain.ErrTaskNotFound
	}
	return attempts[0], nil
}

// FailTask marks a task as error whatever its current status.
// Used by the finalizer to surface an item that could not be published.
func (r *LedgerRepository) FailTask(ctx context.Context, ref domain.TaskRef) error {
	result := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("batch_id = ? AND id = ?", ref.BatchID, ref.TaskID).
		Update("status", domain.TaskStatusError)
	if result.Error != nil {
		return fmt.Errorf("failed to mark task %s as error: %w", ref, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}
