package repository

import (
	"context"
	"fmt"

	"github.com/timmy/embedr/internal/config"
	"github.com/timmy/embedr/internal/domain"
)

// SearchIndex is the item search index. Every call is committed before it returns.
type SearchIndex interface {
	Upsert(ctx context.Context, key string, doc *domain.SearchDocument) error
	Delete(ctx context.Context, key string) error
}

// NewSearchIndex creates the search index selected by cfg.Backend.
// The Qdrant backend needs an embedder to vectorize documents.
func NewSearchIndex(ctx context.Context, cfg *config.SearchConfig, embedder Embedder, dimensions int) (SearchIndex, func() error, error) {
	switch cfg.Backend {
	case "elasticsearch":
		repo, err := NewElasticRepository(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { return nil }, nil
	case "qdrant", "":
		repo, err := NewQdrantRepository(&QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: dimensions,
			Embedder:        embedder,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureCollection(ctx); err != nil {
			repo.Close()
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported search backend: %s", cfg.Backend)
	}
}
