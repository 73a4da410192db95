package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/timmy/embedr/internal/config"
	"github.com/timmy/embedr/internal/domain"
)

// ElasticRepository keeps the item search index in an Elasticsearch index.
type ElasticRepository struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticRepository creates an Elasticsearch-backed search index.
func NewElasticRepository(cfg config.ElasticsearchConfig) (*ElasticRepository, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &ElasticRepository{client: client, index: cfg.Index}, nil
}

// Upsert indexes doc under key with an immediate refresh.
func (r *ElasticRepository) Upsert(ctx context.Context, key string, doc *domain.SearchDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := r.client.Index(
		r.index,
		bytes.NewReader(body),
		r.client.Index.WithContext(ctx),
		r.client.Index.WithDocumentID(key),
		r.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing document: %s", res.String())
	}
	return nil
}

// Delete removes the document of key with an immediate refresh.
// A missing document is not an error.
func (r *ElasticRepository) Delete(ctx context.Context, key string) error {
	res, err := r.client.Delete(
		r.index,
		key,
		r.client.Delete.WithContext(ctx),
		r.client.Delete.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("error deleting document: %s", res.String())
	}
	return nil
}
