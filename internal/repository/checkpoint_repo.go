package repository

import (
	"context"
	"time"

	"github.com/timmy/rostersync/internal/domain"
	"gorm.io/gorm"
)

// CheckpointRepository tracks per-kind provider progress.
type CheckpointRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db, now: time.Now}
}

// Get returns the checkpoint for kind, or an empty one if none is stored.
func (r *CheckpointRepository) Get(ctx context.Context, kind domain.EntityKind) (*domain.SyncCheckpoint, error) {
	var cp domain.SyncCheckpoint
	err := r.db.WithContext(ctx).Where("entity_kind = ?", kind).Take(&cp).Error
	if err != nil {
		if notFound(err) == ErrNotFound {
			return &domain.SyncCheckpoint{EntityKind: kind}, nil
		}
		return nil, err
	}
	return &cp, nil
}

// List returns all stored checkpoints.
func (r *CheckpointRepository) List(ctx context.Context) ([]domain.SyncCheckpoint, error) {
	var cps []domain.SyncCheckpoint
	err := r.db.WithContext(ctx).Order("entity_kind").Find(&cps).Error
	return cps, err
}

// SaveCursor records the next page cursor still to reconcile for kind.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: entity kind.
//   - runID: run owning the cursor.
//   - mode: run mode the cursor belongs to.
//   - cursor: next page cursor; empty restarts the kind from the first page.
//   - chainStartedAt: start of the run that fetched the chain's first page; zero if unknown.
//
// Returns:
//   - error: non-nil if the write fails.
func (r *CheckpointRepository) SaveCursor(ctx context.Context, kind domain.EntityKind, runID string, mode domain.RunMode, cursor string, chainStartedAt time.Time) error {
	return r.update(ctx, kind, func(cp *domain.SyncCheckpoint) {
		cp.Cursor = cursor
		cp.RunID = runID
		cp.Mode = mode
		cp.CursorStartedAt = nil
		if cursor != "" && !chainStartedAt.IsZero() {
			at := chainStartedAt.UTC()
			cp.CursorStartedAt = &at
		}
	})
}

// MarkCompleted clears the cursor and sets the watermark for kind.
// A nil watermark keeps the stored one.
func (r *CheckpointRepository) MarkCompleted(ctx context.Context, kind domain.EntityKind, runID string, watermark *time.Time) error {
	return r.update(ctx, kind, func(cp *domain.SyncCheckpoint) {
		now := r.now().UTC()
		cp.Cursor = ""
		cp.CursorStartedAt = nil
		cp.RunID = runID
		if watermark != nil {
			wm := watermark.UTC()
			cp.Watermark = &wm
		}
		cp.LastSuccessAt = &now
		cp.LastError = ""
	})
}

// MarkFailed records the error that stopped kind. The cursor is kept for resume.
func (r *CheckpointRepository) MarkFailed(ctx context.Context, kind domain.EntityKind, runID, reason string) error {
	return r.update(ctx, kind, func(cp *domain.SyncCheckpoint) {
		cp.RunID = runID
		cp.LastError = reason
	})
}

func (r *CheckpointRepository) update(ctx context.Context, kind domain.EntityKind, mutate func(cp *domain.SyncCheckpoint)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cp domain.SyncCheckpoint
		err := tx.Where("entity_kind = ?", kind).Take(&cp).Error
		if err != nil && notFound(err) != ErrNotFound {
			return err
		}
		cp.EntityKind = kind
		mutate(&cp)
		cp.UpdatedAt = r.now().UTC()
		return tx.Save(&cp).Error
	})
}
