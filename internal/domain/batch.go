package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Batch item statuses as recorded at submission time.
const (
	BatchItemPending = "pending"
	BatchItemOK      = "ok"
	BatchItemDeleted = "deleted"
)

// BatchItem summarizes one submitted record inside a batch.
type BatchItem struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	URLs   []string `json:"url,omitempty"`
}

// BatchItems is stored as a JSON column.
type BatchItems []BatchItem

// Value implements the driver.Valuer interface for database serialization.
func (b BatchItems) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (b *BatchItems) Scan(value interface{}) error {
	if value == nil {
		*b = BatchItems{}
		return nil
	}
	bytes, err := scanBytes(value, "BatchItems")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, b)
}

// IntArray is stored as a JSON column.
type IntArray []int

// Value implements the driver.Valuer interface for database serialization.
func (a IntArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *IntArray) Scan(value interface{}) error {
	if value == nil {
		*a = IntArray{}
		return nil
	}
	bytes, err := scanBytes(value, "IntArray")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, a)
}

// Batch is one ingest submission. It is written once and kept as an audit trail.
type Batch struct {
	ID        string     `gorm:"type:text;primaryKey" json:"id"`
	Items     BatchItems `gorm:"type:text" json:"items"`
	TaskCount int        `json:"task_count"`
	TaskIDs   IntArray   `gorm:"type:text" json:"task_ids"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name for Batch.
func (Batch) TableName() string {
	return "batches"
}
