package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskType is the kind of work a task performs on one URL.
type TaskType string

const (
	TaskTypeAdd      TaskType = "add"
	TaskTypeDelete   TaskType = "delete"
	TaskTypeMetadata TaskType = "metadata"
)

// TaskStatus represents the processing status of a task.
// Values include TaskStatusPending, TaskStatusOK, TaskStatusError, and TaskStatusDeleted.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusOK      TaskStatus = "ok"
	TaskStatusError   TaskStatus = "error"
	TaskStatusDeleted TaskStatus = "deleted"
)

// Terminal reports whether the status is final. Terminal statuses never revert to pending.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusOK || s == TaskStatusError || s == TaskStatusDeleted
}

// Payload is the tagged union of per-type task arguments.
type Payload interface {
	Type() TaskType
	isPayload()
}

// AddPayload fetches URL and stores its derivative at Position.
type AddPayload struct {
	URL      string
	Position int
}

// DeletePayload removes the derivative of URL stored at Position.
type DeletePayload struct {
	URL      string
	Position int
}

// MetadataPayload carries no image work.
type MetadataPayload struct{}

func (AddPayload) Type() TaskType      { return TaskTypeAdd }
func (DeletePayload) Type() TaskType   { return TaskTypeDelete }
func (MetadataPayload) Type() TaskType { return TaskTypeMetadata }

func (AddPayload) isPayload()      {}
func (DeletePayload) isPayload()   {}
func (MetadataPayload) isPayload() {}

// Task is one URL-level unit of work inside a batch.
// Identity is (BatchID, ID); ID starts at 1 within the batch.
type Task struct {
	BatchID        string     `gorm:"type:text;primaryKey;autoIncrement:false" json:"batch_id"`
	ID             int        `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ItemID         string     `gorm:"type:text;not null;index:idx_tasks_item" json:"item_id"`
	Type           TaskType   `gorm:"type:text;not null" json:"type"`
	URL            string     `gorm:"type:text" json:"url,omitempty"`
	Position       int        `json:"position"`
	Status         TaskStatus `gorm:"type:text;not null;index:idx_tasks_status" json:"status"`
	Attempts       int        `json:"attempts"`
	Width          int        `json:"width,omitempty"`
	Height         int        `json:"height,omitempty"`
	Filename       string     `gorm:"type:text" json:"filename,omitempty"`
	ItemTasksCount int        `json:"item_tasks_count"`
	ItemData       ItemData   `gorm:"type:text" json:"item_data"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// NewTask builds a pending task from its payload.
func NewTask(batchID string, id int, itemID string, p Payload, data ItemData) Task {
	t := Task{
		BatchID:  batchID,
		ID:       id,
		ItemID:   itemID,
		Type:     p.Type(),
		Status:   TaskStatusPending,
		ItemData: data,
	}
	switch v := p.(type) {
	case AddPayload:
		t.URL = v.URL
		t.Position = v.Position
	case DeletePayload:
		t.URL = v.URL
		t.Position = v.Position
	}
	return t
}

// Payload decodes the stored type/url/position triple into its tagged form.
func (t *Task) Payload() (Payload, error) {
	switch t.Type {
	case TaskTypeAdd:
		return AddPayload{URL: t.URL, Position: t.Position}, nil
	case TaskTypeDelete:
		return DeletePayload{URL: t.URL, Position: t.Position}, nil
	case TaskTypeMetadata:
		return MetadataPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown task type %q", ErrTaskUnavailable, t.Type)
	}
}

// Ref returns the queue reference of the task.
func (t *Task) Ref() TaskRef {
	return TaskRef{BatchID: t.BatchID, TaskID: t.ID}
}

// ImageMeta returns the derived metadata recorded by a successful add.
func (t *Task) ImageMeta() ImageMeta {
	return ImageMeta{Width: t.Width, Height: t.Height, Filename: t.Filename}
}

// TaskRef addresses a task globally.
type TaskRef struct {
	BatchID string `json:"batch_id"`
	TaskID  int    `json:"task_id"`
}

// String encodes the reference as "<batch>/<task>".
func (r TaskRef) String() string {
	return r.BatchID + "/" + strconv.Itoa(r.TaskID)
}

// ParseTaskRef decodes a reference produced by TaskRef.String.
func ParseTaskRef(s string) (TaskRef, error) {
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return TaskRef{}, fmt.Errorf("invalid task reference %q", s)
	}
	id, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return TaskRef{}, fmt.Errorf("invalid task id in %q: %w", s, err)
	}
	return TaskRef{BatchID: s[:idx], TaskID: id}, nil
}
