package repository

import (
	"context"
	"fmt"

	"github.com/timmy/rostersync/internal/domain"
	"gorm.io/gorm"
)

// DefaultHistoryLimit bounds stored run history when none is configured.
const DefaultHistoryLimit = 50

// SyncRunRepository stores finished sync runs. Runs are append-only.
type SyncRunRepository struct {
	db           *gorm.DB
	historyLimit int
}

// NewSyncRunRepository creates a new SyncRunRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - historyLimit: number of runs kept; non-positive uses DefaultHistoryLimit.
//
// Returns:
//   - *SyncRunRepository: repository instance bound to db.
func NewSyncRunRepository(db *gorm.DB, historyLimit int) *SyncRunRepository {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &SyncRunRepository{db: db, historyLimit: historyLimit}
}

// HistoryLimit returns the number of runs kept.
func (r *SyncRunRepository) HistoryLimit() int {
	return r.historyLimit
}

// Record inserts a finished run and prunes history beyond the limit.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - run: finished run.
//
// Returns:
//   - error: non-nil if the run is not terminal or the write fails.
func (r *SyncRunRepository) Record(ctx context.Context, run *domain.SyncRun) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("record run %s: status %q is not terminal", run.ID, run.Status)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		var ids []string
		if err := tx.Model(&domain.SyncRun{}).
			Order("started_at DESC").Order("created_at DESC").
			Pluck("run_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) <= r.historyLimit {
			return nil
		}
		return tx.Where("run_id IN ?", ids[r.historyLimit:]).Delete(&domain.SyncRun{}).Error
	})
}

// Latest returns the most recently started finished run.
// Returns:
//   - *domain.SyncRun: latest run.
//   - error: ErrNotFound when no run has been recorded.
func (r *SyncRunRepository) Latest(ctx context.Context) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").Order("created_at DESC").
		Take(&run).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// History returns up to limit runs, newest first. limit is clamped to 1..HistoryLimit.
func (r *SyncRunRepository) History(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}
	var runs []domain.SyncRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// GetByID retrieves a run by id.
func (r *SyncRunRepository) GetByID(ctx context.Context, id string) (*domain.SyncRun, error) {
	var run domain.SyncRun
	if err := r.db.WithContext(ctx).Where("run_id = ?", id).Take(&run).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}
