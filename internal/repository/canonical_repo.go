package repository

import (
	"context"
	"fmt"

	"github.com/timmy/rostersync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CanonicalRepository reads and writes canonical records of every kind.
type CanonicalRepository struct {
	db   *gorm.DB
	lock bool
}

// NewCanonicalRepository creates a new CanonicalRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *CanonicalRepository: repository instance bound to db.
func NewCanonicalRepository(db *gorm.DB) *CanonicalRepository {
	return &CanonicalRepository{db: db}
}

// WithTx runs fn inside one transaction. Lookups made through the repository
// passed to fn lock the selected rows where the dialect supports it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fn: work to run; returning an error rolls back.
//
// Returns:
//   - error: fn's error or a commit failure.
func (r *CanonicalRepository) WithTx(ctx context.Context, fn func(tx *CanonicalRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CanonicalRepository{db: tx, lock: supportsRowLocks(tx)})
	})
}

func (r *CanonicalRepository) query(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// FindByExternalID retrieves a record by its provider-assigned id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: entity kind to search.
//   - externalID: provider id.
//
// Returns:
//   - domain.Canonical: the record if found.
//   - error: ErrNotFound if no record matches.
func (r *CanonicalRepository) FindByExternalID(ctx context.Context, kind domain.EntityKind, externalID string) (domain.Canonical, error) {
	return r.findBy(ctx, kind, "external_id = ?", externalID)
}

// FindByNaturalKey retrieves a record by the kind's natural key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: entity kind to search.
//   - key: natural key as built by domain.KindSchema.NaturalKeyOf.
//
// Returns:
//   - domain.Canonical: the record if found.
//   - error: ErrNotFound if no record matches.
func (r *CanonicalRepository) FindByNaturalKey(ctx context.Context, kind domain.EntityKind, key string) (domain.Canonical, error) {
	return r.findBy(ctx, kind, "natural_key = ?", key)
}

// GetByInternalID retrieves a record by its internal id.
func (r *CanonicalRepository) GetByInternalID(ctx context.Context, kind domain.EntityKind, id string) (domain.Canonical, error) {
	return r.findBy(ctx, kind, "internal_id = ?", id)
}

func (r *CanonicalRepository) findBy(ctx context.Context, kind domain.EntityKind, cond string, arg string) (domain.Canonical, error) {
	rec, err := domain.NewRecord(kind)
	if err != nil {
		return nil, err
	}
	if err := r.query(ctx).Where(cond, arg).Order("created_at").Take(rec).Error; err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

// ResolveExternalID maps an external id of kind to its internal id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: referenced entity kind.
//   - externalID: provider id to resolve.
//
// Returns:
//   - string: internal id.
//   - error: ErrNotFound if the reference does not resolve.
func (r *CanonicalRepository) ResolveExternalID(ctx context.Context, kind domain.EntityKind, externalID string) (string, error) {
	model, err := domain.NewRecord(kind)
	if err != nil {
		return "", err
	}
	var ids []string
	if err := r.db.WithContext(ctx).Model(model).Where("external_id = ?", externalID).Limit(1).Pluck("internal_id", &ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

// Upsert inserts rec, or updates it when a row with its internal id exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record with InternalID set.
//
// Returns:
//   - string: payload hash stored before the write, empty on insert.
//   - error: non-nil if the write fails.
func (r *CanonicalRepository) Upsert(ctx context.Context, rec domain.Canonical) (string, error) {
	meta := rec.Meta()
	if meta.InternalID == "" {
		return "", fmt.Errorf("upsert %s: internal id is required", rec.Kind())
	}
	model, err := domain.NewRecord(rec.Kind())
	if err != nil {
		return "", err
	}

	db := r.db.WithContext(ctx)
	var hashes []string
	if err := db.Model(model).Where("internal_id = ?", meta.InternalID).Limit(1).Pluck("payload_hash", &hashes).Error; err != nil {
		return "", err
	}
	if len(hashes) == 0 {
		if err := db.Create(rec).Error; err != nil {
			return "", fmt.Errorf("insert %s: %w", rec.Kind(), err)
		}
		return "", nil
	}
	if err := db.Save(rec).Error; err != nil {
		return hashes[0], fmt.Errorf("update %s: %w", rec.Kind(), err)
	}
	return hashes[0], nil
}

// Count returns the number of records of kind.
func (r *CanonicalRepository) Count(ctx context.Context, kind domain.EntityKind) (int64, error) {
	model, err := domain.NewRecord(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.db.WithContext(ctx).Model(model).Count(&n).Error
	return n, err
}
