package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/rostersync/internal/config"
	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/repository"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// raw builds a RawRecord from alternating field name/value pairs.
func raw(t *testing.T, kind domain.EntityKind, src domain.DataSource, at time.Time, externalID string, kv ...string) *domain.RawRecord {
	t.Helper()
	rec, err := domain.NewRawRecord(kind, src, at)
	require.NoError(t, err)
	rec.ExternalID = externalID
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, rec.Set(kv[i], kv[i+1]))
	}
	return rec
}
