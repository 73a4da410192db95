package domain

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"time"
)

// indexKeyLength is the number of hex characters kept from the SHA-512 digest.
const indexKeyLength = 128

// IndexKey returns the fixed-length search index key of an item.
func IndexKey(itemID string) string {
	sum := sha512.Sum512([]byte(itemID))
	return hex.EncodeToString(sum[:])[:indexKeyLength]
}

// SearchDocument is the payload published to the search index for one item.
// URL and ImageMeta are JSON-encoded lists, as the index stores flat string fields.
type SearchDocument struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Creator         string `json:"creator"`
	Source          string `json:"source"`
	Institution     string `json:"institution"`
	InstitutionLink string `json:"institution_link"`
	License         string `json:"license"`
	Description     string `json:"description"`
	URL             string `json:"url"`
	Timestamp       string `json:"timestamp"`
	ImageMeta       string `json:"image_meta"`
}

// NewSearchDocument builds the index document of an item from its ordered metadata list.
func NewSearchDocument(item *Item, ordered []OrderedImageMeta) (*SearchDocument, error) {
	urls, err := json.Marshal(item.URLs)
	if err != nil {
		return nil, err
	}
	if ordered == nil {
		ordered = []OrderedImageMeta{}
	}
	meta, err := json.Marshal(ordered)
	if err != nil {
		return nil, err
	}

	doc := &SearchDocument{
		ID:              item.ID,
		Title:           item.Title,
		Creator:         item.Creator,
		Source:          item.Source,
		Institution:     item.Institution,
		InstitutionLink: item.InstitutionLink,
		License:         item.License,
		Description:     item.Description,
		URL:             string(urls),
		ImageMeta:       string(meta),
	}
	if item.Timestamp != nil {
		doc.Timestamp = item.Timestamp.UTC().Format(time.RFC3339)
	}
	return doc, nil
}

// Text returns the free-text content used to build a document embedding.
func (d *SearchDocument) Text() string {
	text := d.Title
	for _, part := range []string{d.Creator, d.Institution, d.Description} {
		if part == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += part
	}
	if text == "" {
		text = d.ID
	}
	return text
}

// Fields returns the document as a flat string map.
func (d *SearchDocument) Fields() map[string]string {
	return map[string]string{
		"id":               d.ID,
		"title":            d.Title,
		"creator":          d.Creator,
		"source":           d.Source,
		"institution":      d.Institution,
		"institution_link": d.InstitutionLink,
		"license":          d.License,
		"description":      d.Description,
		"url":              d.URL,
		"timestamp":        d.Timestamp,
		"image_meta":       d.ImageMeta,
	}
}
