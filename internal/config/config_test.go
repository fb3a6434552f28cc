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

func TestLoadDefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
provider:
  base_url: https://directory.example.com/api
  retry:
    max_attempts: 3
sync:
  history_limit: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://directory.example.com/api", cfg.Provider.BaseURL)
	assert.Equal(t, 3, cfg.Provider.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Provider.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 10, cfg.Sync.HistoryLimit)
	assert.Equal(t, 1000, cfg.Sync.MaxRunErrors)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./data/rostersync.db", cfg.Database.DSN())
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "provider:\n  base_url: https://a.example.com\n")
	t.Setenv("PROVIDER_API_KEY", "from-env")
	t.Setenv("SYNC_PREFETCH_PAGES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.APIKey)
	assert.Equal(t, 7, cfg.Sync.PrefetchPages)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sync:\n  prefetch_pages: 0\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.base_url is required")
	assert.Contains(t, err.Error(), "sync.prefetch_pages must be positive")
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "roster", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=roster sslmode=disable", c.DSN())

	c.URL = "postgres://u:p@db/roster"
	assert.Equal(t, "postgres://u:p@db/roster", c.DSN())
}
