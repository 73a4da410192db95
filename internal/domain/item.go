package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, err := scanBytes(value, "StringArray")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, a)
}

// Contains reports whether s is one of the array's elements.
func (a StringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// ImageMeta describes one processed derivative of an item URL.
type ImageMeta struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Filename string `json:"filename,omitempty"`
}

// ImageMetaMap maps a source URL to the metadata of its derivative.
type ImageMetaMap map[string]ImageMeta

// Value implements the driver.Valuer interface for database serialization.
func (m ImageMetaMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *ImageMetaMap) Scan(value interface{}) error {
	if value == nil {
		*m = ImageMetaMap{}
		return nil
	}
	bytes, err := scanBytes(value, "ImageMetaMap")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, m)
}

// Clone returns a shallow copy that can be mutated independently.
func (m ImageMetaMap) Clone() ImageMetaMap {
	out := make(ImageMetaMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Item is the durable record of one ingested work.
// While Lock is true the item is mid-ingest: it must not be served and must not be resubmitted.
type Item struct {
	ID               string       `gorm:"type:text;primaryKey" json:"id"`
	Title            string       `gorm:"type:text" json:"title"`
	Creator          string       `gorm:"type:text" json:"creator"`
	Source           string       `gorm:"type:text" json:"source"`
	Institution      string       `gorm:"type:text" json:"institution"`
	InstitutionLink  string       `gorm:"type:text" json:"institution_link"`
	License          string       `gorm:"type:text" json:"license"`
	Description      string       `gorm:"type:text" json:"description"`
	URLs             StringArray  `gorm:"column:urls;type:text" json:"url"`
	ImageMeta        ImageMetaMap `gorm:"type:text" json:"image_meta"`
	Lock             bool         `gorm:"index:idx_items_lock" json:"lock"`
	Timestamp        *time.Time   `json:"timestamp,omitempty"`
	FinalizedBatchID string       `gorm:"type:text" json:"-"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Item.
func (Item) TableName() string {
	return "items"
}

// OrderedImageMeta is one entry of the per-URL metadata list in display order.
type OrderedImageMeta struct {
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Filename string `json:"filename,omitempty"`
}

// OrderedImageMeta rebuilds the per-URL metadata list following the URL order.
// The second return value is false when a URL has no metadata entry.
func (i *Item) OrderedImageMeta() ([]OrderedImageMeta, bool) {
	out := make([]OrderedImageMeta, 0, len(i.URLs))
	for _, u := range i.URLs {
		meta, ok := i.ImageMeta[u]
		if !ok {
			return nil, false
		}
		out = append(out, OrderedImageMeta{
			URL:      u,
			Width:    meta.Width,
			Height:   meta.Height,
			Filename: meta.Filename,
		})
	}
	return out, true
}

// ApplyData copies the submitted non-image metadata onto the item.
func (i *Item) ApplyData(d *ItemData) {
	i.Title = d.Title
	i.Creator = d.Creator
	i.Source = d.Source
	i.Institution = d.Institution
	i.InstitutionLink = d.InstitutionLink
	i.License = d.License
	i.Description = d.Description
	i.URLs = append(StringArray{}, d.URLs...)
}

func scanBytes(value interface{}, name string) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("failed to scan " + name)
	}
}
