package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/rostersync/internal/domain"
)

func newPerson(externalID, email string) *domain.Person {
	p := &domain.Person{Email: email, Status: "active"}
	p.InternalID = uuid.NewString()
	if externalID != "" {
		p.ExternalID = &externalID
	}
	p.NaturalKey = email
	p.DataSource = domain.DataSourceProvider
	p.PayloadHash = "h1"
	p.FieldSources = domain.FieldSources{domain.FieldEmail: domain.DataSourceProvider}
	return p
}

func TestCanonicalUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewCanonicalRepository(newTestDB(t))

	p := newPerson("p-1", "ada@example.com")
	prior, err := repo.Upsert(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, prior)

	got, err := repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Equal(t, p.InternalID, got.Meta().InternalID)
	assert.Equal(t, "ada@example.com", got.Field(domain.FieldEmail))
	assert.Equal(t, domain.DataSourceProvider, got.Meta().FieldSources[domain.FieldEmail])

	got.Meta().PayloadHash = "h2"
	require.NoError(t, got.SetField(domain.FieldGivenName, "Ada"))
	prior, err = repo.Upsert(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "h1", prior)

	byKey, err := repo.FindByNaturalKey(ctx, domain.EntityPerson, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", byKey.Field(domain.FieldGivenName))
	assert.Equal(t, "h2", byKey.Meta().PayloadHash)

	n, err := repo.Count(ctx, domain.EntityPerson)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCanonicalFindNotFound(t *testing.T) {
	repo := NewCanonicalRepository(newTestDB(t))
	_, err := repo.FindByExternalID(context.Background(), domain.EntityCourse, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.ResolveExternalID(context.Background(), domain.EntityCourse, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCanonicalExternalIDUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewCanonicalRepository(newTestDB(t))

	_, err := repo.Upsert(ctx, newPerson("p-1", "a@example.com"))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, newPerson("p-1", "b@example.com"))
	assert.Error(t, err)

	// records without an external id do not collide
	_, err = repo.Upsert(ctx, newPerson("", "c@example.com"))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, newPerson("", "d@example.com"))
	require.NoError(t, err)
}

func TestCanonicalWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewCanonicalRepository(newTestDB(t))

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx *CanonicalRepository) error {
		if _, err := tx.Upsert(ctx, newPerson("p-9", "z@example.com")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.FindByExternalID(ctx, domain.EntityPerson, "p-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCanonicalStoresReferencesAndDates(t *testing.T) {
	ctx := context.Background()
	repo := NewCanonicalRepository(newTestDB(t))

	e := &domain.Enrollment{PersonExternalID: "p-1", CourseExternalID: "c-1", PersonID: "int-p", CourseID: "int-c"}
	e.InternalID = uuid.NewString()
	ext := "e-1"
	e.ExternalID = &ext
	e.NaturalKey = "p-1/c-1"
	e.DataSource = domain.DataSourceBulk
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	e.EnrolledAt = &at
	e.PayloadHash = "x"
	_, err := repo.Upsert(ctx, e)
	require.NoError(t, err)

	got, err := repo.FindByNaturalKey(ctx, domain.EntityEnrollment, "p-1/c-1")
	require.NoError(t, err)
	stored := got.(*domain.Enrollment)
	assert.Equal(t, "int-p", stored.PersonID)
	assert.Equal(t, "2025-02-03T04:05:06Z", stored.Field(domain.FieldEnrolledAt))

	id, err := repo.ResolveExternalID(ctx, domain.EntityEnrollment, "e-1")
	require.NoError(t, err)
	assert.Equal(t, e.InternalID, id)
}
