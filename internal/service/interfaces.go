package service

import (
	"context"
	"io"
	"time"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/imaging"
)

// ItemStore is the durable item record store.
type ItemStore interface {
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Item, error)
	Save(ctx context.Context, item *domain.Item) error
	Delete(ctx context.Context, id string) error
}

// Ledger stores batches and tasks.
type Ledger interface {
	CreateBatch(ctx context.Context, batch *domain.Batch, tasks []domain.Task, lockIDs []string) error
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	GetTask(ctx context.Context, ref domain.TaskRef) (*domain.Task, error)
	ListItemTasks(ctx context.Context, batchID, itemID string) ([]domain.Task, error)
	ListBatchTasks(ctx context.Context, batchID string) ([]domain.Task, error)
	CompleteTask(ctx context.Context, ref domain.TaskRef, status domain.TaskStatus, meta *domain.ImageMeta) (bool, error)
	IncrementAttempts(ctx context.Context, ref domain.TaskRef) (int, error)
	FailTask(ctx context.Context, ref domain.TaskRef) error
}

// CompletionCounter records finished tasks per item and batch.
type CompletionCounter interface {
	MarkFinished(ctx context.Context, batchID, itemID string, taskID int) (finished int64, added bool, err error)
}

// TaskQueue schedules task deliveries.
type TaskQueue interface {
	Enqueue(ctx context.Context, ref domain.TaskRef, delay time.Duration) error
}

// ClaimQueue is the consumer side of the task queue.
type ClaimQueue interface {
	TaskQueue
	Claim(ctx context.Context) (domain.TaskRef, bool, error)
	Ack(ctx context.Context, ref domain.TaskRef) error
	RequeueExpired(ctx context.Context) (int, error)
}

// SearchIndex is the item search index.
type SearchIndex interface {
	Upsert(ctx context.Context, key string, doc *domain.SearchDocument) error
	Delete(ctx context.Context, key string) error
}

// ObjectStore holds the derivatives.
type ObjectStore interface {
	UploadMultipart(ctx context.Context, key string, r io.ReaderAt, size, partSize int64, contentType string) error
	Delete(ctx context.Context, key string) error
	GetURL(key string) string
}

// Toolchain is the image conversion capability used by the worker.
type Toolchain interface {
	Transcode(ctx context.Context, path string) (string, error)
	Probe(ctx context.Context, path string) (imaging.Dimensions, error)
	Compress(ctx context.Context, path string, profile imaging.Profile) (string, error)
}

// Fetcher downloads a source URL into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}
