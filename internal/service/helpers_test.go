package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/imaging"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/metrics"
	"github.com/timmy/embedr/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return db
}

func newTestLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard, ServiceName: "embedr-test"})
}

type queued struct {
	ref   domain.TaskRef
	delay time.Duration
}

type fakeQueue struct {
	mu      sync.Mutex
	entries []queued
	history []queued
}

func (q *fakeQueue) Enqueue(ctx context.Context, ref domain.TaskRef, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, queued{ref: ref, delay: delay})
	q.history = append(q.history, queued{ref: ref, delay: delay})
	return nil
}

func (q *fakeQueue) pop() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return queued{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

func (q *fakeQueue) delays() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []time.Duration
	for _, e := range q.history {
		if e.delay > 0 {
			out = append(out, e.delay)
		}
	}
	return out
}

type fakeIndex struct {
	mu         sync.Mutex
	docs       map[string]*domain.SearchDocument
	upserts    int
	deletes    int
	failUpsert bool
	failDelete bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]*domain.SearchDocument)}
}

func (f *fakeIndex) Upsert(ctx context.Context, key string, doc *domain.SearchDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failUpsert {
		return errors.New("index unavailable")
	}
	f.docs[key] = doc
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.failDelete {
		return errors.New("index unavailable")
	}
	delete(f.docs, key)
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	deleted    []string
	failDelete map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), failDelete: make(map[string]bool)}
}

func (s *fakeStore) UploadMultipart(ctx context.Context, key string, r io.ReaderAt, size, partSize int64, contentType string) error {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = buf
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	if s.failDelete[key] {
		return errors.New("delete refused")
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) GetURL(key string) string {
	return "https://cdn.example.org/" + key
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// fakeFetcher writes the URL itself as the downloaded body.
type fakeFetcher struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{failing: make(map[string]bool), calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, dest string) error {
	f.mu.Lock()
	f.calls[url]++
	fail := f.failing[url]
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("failed to fetch %s: status 503", url)
	}
	return os.WriteFile(dest, []byte(url), 0o644)
}

type fakeToolchain struct {
	dims imaging.Dimensions
}

func (f *fakeToolchain) Transcode(ctx context.Context, path string) (string, error) {
	return path, nil
}

func (f *fakeToolchain) Probe(ctx context.Context, path string) (imaging.Dimensions, error) {
	return f.dims, nil
}

func (f *fakeToolchain) Compress(ctx context.Context, path string, profile imaging.Profile) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	out := path + ".jp2"
	return out, os.WriteFile(out, append([]byte("jp2:"), src...), 0o644)
}

// pipeline wires the real stores with fake collaborators.
type pipeline struct {
	items       *repository.ItemRepository
	ledger      *repository.LedgerRepository
	queue       *fakeQueue
	index       *fakeIndex
	store       *fakeStore
	fetcher     *fakeFetcher
	metrics     *metrics.Metrics
	coordinator *Coordinator
	finalizer   *Finalizer
	worker      *Worker
	sleeps      []time.Duration
}

type pipelineOptions struct {
	maxTaskRepeat int
	direct        bool
}

func newPipeline(t *testing.T, opts pipelineOptions) *pipeline {
	t.Helper()
	if opts.maxTaskRepeat == 0 {
		opts.maxTaskRepeat = 1
	}

	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := newTestLogger()
	p := &pipeline{
		items:   repository.NewItemRepository(db),
		ledger:  repository.NewLedgerRepository(db),
		queue:   &fakeQueue{},
		index:   newFakeIndex(),
		store:   newFakeStore(),
		fetcher: newFakeFetcher(),
		metrics: metrics.New(),
	}

	cleaner := NewCleaner(p.items, p.index, p.store, "", p.metrics, log)
	p.finalizer = NewFinalizer(p.items, p.ledger, p.index, cleaner, p.metrics, log, FinalizerConfig{
		IndexRetries:   3,
		IndexRetryBase: time.Second,
	})
	p.finalizer.SetSleeper(func(ctx context.Context, d time.Duration) error {
		p.sleeps = append(p.sleeps, d)
		return nil
	})

	p.worker = NewWorker(
		p.ledger,
		repository.NewCompletionCounter(client, "test"),
		p.queue,
		p.store,
		&fakeToolchain{dims: imaging.Dimensions{Width: 640, Height: 480}},
		p.fetcher,
		p.finalizer,
		p.metrics,
		log,
		WorkerConfig{
			MaxTaskRepeat:  opts.maxTaskRepeat,
			RetryBaseDelay: time.Minute,
			ChunkSize:      4,
			WorkDir:        t.TempDir(),
			Profile:        imaging.DefaultProfile(),
		},
	)

	p.coordinator = NewCoordinator(p.items, p.ledger, p.queue, p.index, p.metrics, log, CoordinatorConfig{
		DirectMetadataUpdates: opts.direct,
	})
	return p
}

// drain processes queued deliveries in order, ignoring their delays.
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		e, ok := p.queue.pop()
		if !ok {
			return
		}
		require.NoError(t, p.worker.ProcessTask(ctx, e.ref))
	}
	t.Fatal("queue did not drain")
}

func (p *pipeline) submit(t *testing.T, records ...map[string]any) *domain.Batch {
	t.Helper()
	batch, err := p.coordinator.Submit(context.Background(), records)
	require.NoError(t, err)
	return batch
}

func (p *pipeline) item(t *testing.T, id string) *domain.Item {
	t.Helper()
	item, err := p.items.GetByID(context.Background(), id)
	require.NoError(t, err)
	return item
}

func record(id string, urls ...string) map[string]any {
	list := make([]any, len(urls))
	for i, u := range urls {
		list[i] = u
	}
	return map[string]any{"id": id, "title": "Title of " + id, "url": list}
}
