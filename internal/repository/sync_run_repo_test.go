package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/rostersync/internal/domain"
	"gorm.io/datatypes"
)

func finishedRun(id string, started time.Time, status domain.RunStatus) *domain.SyncRun {
	finished := started.Add(time.Minute)
	return &domain.SyncRun{
		ID:         id,
		Mode:       domain.RunModeFull,
		Trigger:    domain.TriggerCLI,
		Status:     status,
		StartedAt:  started,
		FinishedAt: &finished,
		Counts: datatypes.NewJSONType(domain.RunCounts{
			domain.EntityPerson: {Fetched: 3, Created: 2, Unchanged: 1},
		}),
		Errors: datatypes.NewJSONType([]domain.RunError{
			{EntityKind: domain.EntityCourse, Ref: "c-1", Reason: "missing required field: title"},
		}),
	}
}

func TestSyncRunRecordAndLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncRunRepository(newTestDB(t), 10)

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Record(ctx, finishedRun("r1", base, domain.RunStatusSucceeded)))
	require.NoError(t, repo.Record(ctx, finishedRun("r2", base.Add(time.Hour), domain.RunStatusPartiallySucceeded)))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)
	assert.Equal(t, 2, latest.CountsFor(domain.EntityPerson).Created)
	require.Len(t, latest.ErrorList(), 1)
	assert.Equal(t, "c-1", latest.ErrorList()[0].Ref)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, got.Status)
}

func TestSyncRunRejectsUnfinished(t *testing.T) {
	repo := NewSyncRunRepository(newTestDB(t), 10)
	run := finishedRun("r1", time.Now(), domain.RunStatusRunning)
	assert.Error(t, repo.Record(context.Background(), run))
}

func TestSyncRunHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncRunRepository(newTestDB(t), 3)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, repo.Record(ctx, finishedRun(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Hour), domain.RunStatusSucceeded)))
	}

	runs, err := repo.History(ctx, 100)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r4", runs[0].ID)
	assert.Equal(t, "r2", runs[2].ID)

	runs, err = repo.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = repo.GetByID(ctx, "r0")
	assert.ErrorIs(t, err, ErrNotFound)
}
