package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	buf.Reset()
	return out
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "svc"})

	log.WithField(FieldRunID, "run-1").Info("run started")

	line := decodeLine(t, &buf)
	assert.Equal(t, "run started", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "svc", line["service"])
	assert.Equal(t, "run-1", line[FieldRunID])
	assert.Contains(t, line, "timestamp")
	assert.Contains(t, line["file"], "logger_test.go:")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Output: &buf})

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Equal(t, "kept", decodeLine(t, &buf)["message"])

	// unknown levels fall back to info
	log = New(&Config{Level: "loud", Output: &buf})
	log.Debug("dropped")
	assert.Zero(t, buf.Len())
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Output: &buf})

	ctx := base.WithContext(context.Background())
	ctx = SetRunID(ctx, "run-7")
	ctx = SetEntityKind(ctx, "people")
	ctx = SetRequestID(ctx, "req-1")

	assert.Equal(t, "run-7", GetRunID(ctx))
	CtxInfo(ctx, "page %d", 3)

	line := decodeLine(t, &buf)
	assert.Equal(t, "page 3", line["message"])
	assert.Equal(t, "run-7", line[FieldRunID])
	assert.Equal(t, "people", line[FieldEntityKind])
	assert.Equal(t, "req-1", line[FieldRequestID])

	assert.Empty(t, GetRunID(context.Background()))
}

func TestEntryMetrics(t *testing.T) {
	var buf bytes.Buffer
	ctx := New(&Config{Output: &buf}).WithContext(context.Background())

	base := With(Fields{FieldCount: 50})
	base.With(Fields{FieldStatus: "ok"}).Since(time.Now().Add(-time.Second)).Info(ctx, "Page reconciled")

	line := decodeLine(t, &buf)
	assert.EqualValues(t, 50, line[FieldCount])
	assert.Equal(t, "ok", line[FieldStatus])
	assert.GreaterOrEqual(t, line[FieldDurationMs], float64(1000))

	// With copies instead of mutating the receiver
	assert.NotContains(t, base.fields, FieldStatus)
}

func TestDefaultLogger(t *testing.T) {
	prev := GetDefault()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	var buf bytes.Buffer
	l := New(&Config{Output: &buf})
	SetDefaultLogger(l)
	SetDefaultLogger(nil)

	assert.Same(t, l, GetDefault())
	assert.Same(t, l, FromContext(context.Background()))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("LOG_MAX_SIZE", "5")
	t.Setenv("LOG_COMPRESS", "false")
	t.Setenv("LOG_MAX_AGE", "not-a-number")

	cfg := ConfigFromEnv("rostersync-cli")
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "rostersync-cli", cfg.ServiceName)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, 5, cfg.Rotation.MaxSizeMB)
	assert.Equal(t, 30, cfg.Rotation.MaxAgeDays)
	assert.False(t, cfg.Rotation.Compress)
}

func TestRotatedFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	log := New(&Config{
		Environment: "prod",
		LogFile:     path,
		FileOnly:    true,
		Rotation:    Rotation{MaxSizeMB: 1},
	})

	log.Info("written to file")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
