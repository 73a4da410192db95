package domain

import (
	"database/sql/driver"
	"encoding/json"
)

// ItemStatusDeleted marks a submitted record that asks for the item to be removed.
const ItemStatusDeleted = "deleted"

// ItemData is the submitted, validated form of one ingest record.
// A copy travels on every task created for the item so the finalizer can rebuild the record.
type ItemData struct {
	ID              string      `json:"id"`
	Status          string      `json:"status,omitempty"`
	Title           string      `json:"title,omitempty"`
	Creator         string      `json:"creator,omitempty"`
	Source          string      `json:"source,omitempty"`
	Institution     string      `json:"institution,omitempty"`
	InstitutionLink string      `json:"institution_link,omitempty"`
	License         string      `json:"license,omitempty"`
	Description     string      `json:"description,omitempty"`
	URLs            StringArray `json:"url,omitempty"`
}

// Deleted reports whether the record is a deletion marker.
func (d *ItemData) Deleted() bool {
	return d.Status == ItemStatusDeleted
}

// Value implements the driver.Valuer interface for database serialization.
func (d ItemData) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (d *ItemData) Scan(value interface{}) error {
	if value == nil {
		*d = ItemData{}
		return nil
	}
	bytes, err := scanBytes(value, "ItemData")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, d)
}
