package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/embedr/internal/config"
	"github.com/timmy/embedr/internal/domain"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	body   map[string]interface{}
}

func newFakeElasticsearch(t *testing.T, deleteStatus int) (*ElasticRepository, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		requests = append(requests, rec)

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(deleteStatus)
		default:
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	repo, err := NewElasticRepository(config.ElasticsearchConfig{
		Addresses: []string{srv.URL},
		Index:     "items",
	})
	require.NoError(t, err)
	return repo, &requests
}

func TestElasticRepository_UpsertRefreshes(t *testing.T) {
	repo, requests := newFakeElasticsearch(t, http.StatusOK)
	key := domain.IndexKey("A")

	doc := &domain.SearchDocument{ID: "A", Title: "t", URL: `["u1"]`, ImageMeta: "[]"}
	require.NoError(t, repo.Upsert(context.Background(), key, doc))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/items/_doc/"+key, req.path)
	assert.Contains(t, req.query, "refresh=true")
	assert.Equal(t, "A", req.body["id"])
	assert.Equal(t, `["u1"]`, req.body["url"])
}

func TestElasticRepository_DeleteToleratesMissing(t *testing.T) {
	repo, requests := newFakeElasticsearch(t, http.StatusNotFound)

	require.NoError(t, repo.Delete(context.Background(), "k"))
	require.Len(t, *requests, 1)
	assert.Equal(t, http.MethodDelete, (*requests)[0].method)
	assert.Contains(t, (*requests)[0].query, "refresh=true")
}

func TestElasticRepository_DeleteFailure(t *testing.T) {
	repo, _ := newFakeElasticsearch(t, http.StatusInternalServerError)
	assert.Error(t, repo.Delete(context.Background(), "k"))
}
