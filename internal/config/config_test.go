package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.Search.Backend)
	assert.Equal(t, int64(52428800), cfg.Storage.ChunkSize)
	assert.Equal(t, time.Minute, cfg.Ingest.RetryBaseDelay)
	assert.True(t, cfg.Ingest.DirectMetadataUpdates)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("MAX_TASK_REPEAT", "4")
	t.Setenv("URL_OPEN_TIMEOUT", "15")
	t.Setenv("S3_DEFAULT_FOLDER", "iiif/")

	cfg, err := Load(writeConfig(t, "ingest:\n  workers: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Ingest.MaxTaskRepeat)
	assert.Equal(t, 15*time.Second, cfg.Ingest.URLOpenTimeout)
	assert.Equal(t, "iiif/", cfg.Storage.Folder)
	assert.Equal(t, 2, cfg.Ingest.Workers)
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, "search:\n  backend: solr\n"))
	assert.ErrorContains(t, err, "unknown search backend")

	_, err = Load(writeConfig(t, "ingest:\n  workers: 0\n"))
	assert.ErrorContains(t, err, "ingest.workers")
}

func TestDatabaseDSN(t *testing.T) {
	sqlite := &DatabaseConfig{Driver: "sqlite", Path: "./data/x.db"}
	assert.Equal(t, "./data/x.db", sqlite.DSN())

	pg := &DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", pg.DSN())
}
