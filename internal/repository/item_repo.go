package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/embedr/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemRepository handles item record operations.
type ItemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates a new ItemRepository.
func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// GetByID retrieves an item by its ID.
// Returns domain.ErrItemNotFound when no record exists.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}
	return &item, nil
}

// GetByIDs retrieves the existing items among ids, keyed by ID.
func (r *ItemRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Item, error) {
	out := make(map[string]*domain.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var items []domain.Item
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	for i := range items {
		out[items[i].ID] = &items[i]
	}
	return out, nil
}

// Save creates or fully replaces an item record.
func (r *ItemRepository) Save(ctx context.Context, item *domain.Item) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(item).Error
}

// Delete removes an item record. Deleting a missing item is not an error.
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Item{}, "id = ?", id).Error
}

// SetLock sets or clears the ingest lock of an existing item.
func (r *ItemRepository) SetLock(ctx context.Context, id string, locked bool) error {
	result := r.db.WithContext(ctx).Model(&domain.Item{}).Where("id = ?", id).Update("lock", locked)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// lockItems marks every id as locked, inserting locked placeholders for ids with no record.
func lockItems(tx *gorm.DB, ids []string) error {
	for _, id := range ids {
		placeholder := domain.Item{ID: id, Lock: true, URLs: domain.StringArray{}, ImageMeta: domain.ImageMetaMap{}}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"lock", "updated_at"}),
		}).Create(&placeholder).Error
		if err != nil {
			return fmt.Errorf("failed to lock item %s: %w", id, err)
		}
	}
	return nil
}
