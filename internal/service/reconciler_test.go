package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/repository"
)

var (
	t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func newTestReconciler(t *testing.T) (*Reconciler, *repository.CanonicalRepository) {
	repo := repository.NewCanonicalRepository(newTestDB(t))
	return NewReconciler(repo), repo
}

func TestReconcileCreateThenUnchanged(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	in := raw(t, domain.EntityPerson, domain.DataSourceProvider, t0, "p-1",
		domain.FieldEmail, "Ada@Example.com", domain.FieldGivenName, "Ada", domain.FieldStatus, "active")
	out, err := rec.Reconcile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)
	assert.NotEmpty(t, out.InternalID)

	again := raw(t, domain.EntityPerson, domain.DataSourceProvider, t1, "p-1",
		domain.FieldEmail, "ada@example.com", domain.FieldGivenName, "Ada", domain.FieldStatus, "active")
	out2, err := rec.Reconcile(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out2.Kind)
	assert.Equal(t, out.InternalID, out2.InternalID)

	stored, err := repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	meta := stored.Meta()
	assert.Equal(t, "ada@example.com", meta.NaturalKey)
	require.NotNil(t, meta.ProviderSyncedAt)
	assert.True(t, meta.ProviderSyncedAt.Equal(t1))
	assert.Nil(t, meta.BulkLoadedAt)

	n, err := repo.Count(ctx, domain.EntityPerson)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcileProviderOverridesBulk(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	out, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, t0, "p-1",
		domain.FieldEmail, "ada@example.com", domain.FieldGivenName, "Ada", domain.FieldRole, "learner"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out.Kind)

	out, err = rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceProvider, t1, "p-1",
		domain.FieldEmail, "ada@example.com", domain.FieldGivenName, "Augusta"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out.Kind)

	stored, err := repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Augusta", stored.Field(domain.FieldGivenName))
	assert.Equal(t, "learner", stored.Field(domain.FieldRole))
	assert.Equal(t, domain.DataSourceProvider, stored.Meta().FieldSources[domain.FieldGivenName])
	assert.Equal(t, domain.DataSourceBulk, stored.Meta().FieldSources[domain.FieldRole])
	assert.Equal(t, domain.DataSourceProvider, stored.Meta().DataSource)
}

func TestReconcileBulkRespectsProviderTimestamp(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	_, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceProvider, t1, "p-1",
		domain.FieldEmail, "ada@example.com", domain.FieldGivenName, "Ada"))
	require.NoError(t, err)

	// older bulk data leaves a provider-owned record alone, gaps included
	out, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, t0, "p-1",
		domain.FieldEmail, "ada@example.com", domain.FieldGivenName, "Stale", domain.FieldRole, "instructor"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	stored, err := repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.Field(domain.FieldGivenName))
	assert.Empty(t, stored.Field(domain.FieldRole))
	assert.Equal(t, domain.DataSourceProvider, stored.Meta().DataSource)
	assert.NotContains(t, stored.Meta().FieldSources, domain.FieldRole)

	// newer bulk data wins
	out, err = rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, t2, "p-1",
		domain.FieldGivenName, "Fresh", domain.FieldRole, "instructor"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out.Kind)

	stored, err = repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", stored.Field(domain.FieldGivenName))
	assert.Equal(t, "instructor", stored.Field(domain.FieldRole))
	assert.Equal(t, domain.DataSourceBulk, stored.Meta().FieldSources[domain.FieldGivenName])
	assert.Equal(t, domain.DataSourceBulk, stored.Meta().DataSource)
}

func TestReconcileOlderBulkOnlyFieldIsBlocked(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	_, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceProvider, t1, "p-1",
		domain.FieldEmail, "ada@example.com", domain.FieldGivenName, "Ada"))
	require.NoError(t, err)

	out, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, t0, "p-1",
		domain.FieldRole, "instructor"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	stored, err := repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Empty(t, stored.Field(domain.FieldRole))
	assert.Equal(t, domain.DataSourceProvider, stored.Meta().DataSource)
	require.NotNil(t, stored.Meta().ProviderSyncedAt)
	assert.True(t, stored.Meta().ProviderSyncedAt.Equal(t1))
}

func TestReconcileBlockedBulkIsUnchanged(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	_, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceProvider, t1, "p-1",
		domain.FieldEmail, "ada@example.com", domain.FieldGivenName, "Ada"))
	require.NoError(t, err)

	out, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, t0, "p-1",
		domain.FieldGivenName, "Stale"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	stored, err := repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.Field(domain.FieldGivenName))
	require.NotNil(t, stored.Meta().BulkLoadedAt)
	assert.True(t, stored.Meta().BulkLoadedAt.Equal(t0))

	// a blocked record observed earlier still leaves bulk_loaded_at where it was
	earlier := t0.Add(-time.Hour)
	out, err = rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, earlier, "p-1",
		domain.FieldGivenName, "Older"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	stored, err = repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.True(t, stored.Meta().BulkLoadedAt.Equal(t0))
}

func TestReconcileNaturalKeyAdoption(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	created, err := rec.Reconcile(ctx, raw(t, domain.EntityCourse, domain.DataSourceBulk, t0, "",
		domain.FieldCode, "GO101", domain.FieldTitle, "Intro to Go"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, created.Kind)

	adopted, err := rec.Reconcile(ctx, raw(t, domain.EntityCourse, domain.DataSourceProvider, t1, "c-1",
		domain.FieldCode, "GO101", domain.FieldTitle, "Intro to Go"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, adopted.Kind)
	assert.Equal(t, created.InternalID, adopted.InternalID)

	stored, err := repo.FindByExternalID(ctx, domain.EntityCourse, "c-1")
	require.NoError(t, err)
	assert.Equal(t, created.InternalID, stored.Meta().InternalID)

	conflict, err := rec.Reconcile(ctx, raw(t, domain.EntityCourse, domain.DataSourceProvider, t1, "c-2",
		domain.FieldCode, "GO101", domain.FieldTitle, "Duplicate"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, conflict.Kind)
	assert.Contains(t, conflict.Reason, "external id conflict")

	n, err := repo.Count(ctx, domain.EntityCourse)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcileReferences(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	enrollment := func() *domain.RawRecord {
		return raw(t, domain.EntityEnrollment, domain.DataSourceProvider, t1, "e-1",
			domain.FieldPersonExternalID, "p-1", domain.FieldCourseExternalID, "c-1", domain.FieldStatus, "active")
	}

	out, err := rec.Reconcile(ctx, enrollment())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Contains(t, out.Reason, "unresolved reference")

	n, err := repo.Count(ctx, domain.EntityEnrollment)
	require.NoError(t, err)
	assert.Zero(t, n)

	person, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceProvider, t0, "p-1",
		domain.FieldEmail, "ada@example.com"))
	require.NoError(t, err)
	course, err := rec.Reconcile(ctx, raw(t, domain.EntityCourse, domain.DataSourceProvider, t0, "c-1",
		domain.FieldCode, "GO101", domain.FieldTitle, "Intro"))
	require.NoError(t, err)

	out, err = rec.Reconcile(ctx, enrollment())
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out.Kind)

	stored, err := repo.FindByExternalID(ctx, domain.EntityEnrollment, "e-1")
	require.NoError(t, err)
	e, ok := stored.(*domain.Enrollment)
	require.True(t, ok)
	assert.Equal(t, person.InternalID, e.PersonID)
	assert.Equal(t, course.InternalID, e.CourseID)
	assert.Equal(t, "p-1/c-1", e.NaturalKey)
}

func TestReconcileRejections(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	cases := []struct {
		name   string
		in     *domain.RawRecord
		reason string
	}{
		{
			name:   "manual source",
			in:     raw(t, domain.EntityPerson, domain.DataSourceManual, t0, "p-1", domain.FieldEmail, "a@example.com"),
			reason: "unsupported source",
		},
		{
			name:   "missing required field",
			in:     raw(t, domain.EntityCourse, domain.DataSourceProvider, t0, "c-1", domain.FieldCode, "GO101"),
			reason: "missing required field: title",
		},
		{
			name:   "no identity",
			in:     raw(t, domain.EntityPerson, domain.DataSourceBulk, t0, "", domain.FieldGivenName, "Ada"),
			reason: "missing required field: email",
		},
		{
			name:   "bad status",
			in:     raw(t, domain.EntityPerson, domain.DataSourceProvider, t0, "p-1", domain.FieldEmail, "a@example.com", domain.FieldStatus, "retired"),
			reason: "malformed value",
		},
		{
			name:   "bad email",
			in:     raw(t, domain.EntityPerson, domain.DataSourceProvider, t0, "p-1", domain.FieldEmail, "not-an-email"),
			reason: "malformed value",
		},
	}
	invalid := raw(t, domain.EntityPerson, domain.DataSourceProvider, t0, "p-2", domain.FieldEmail, "b@example.com")
	invalid.MarkInvalid("score: not a number")
	cases = append(cases, struct {
		name   string
		in     *domain.RawRecord
		reason string
	}{name: "invalid payload", in: invalid, reason: "malformed value: score"})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := rec.Reconcile(ctx, tc.in)
			require.NoError(t, err)
			assert.Equal(t, OutcomeRejected, out.Kind)
			assert.Contains(t, out.Reason, tc.reason)
		})
	}

	for _, kind := range domain.SyncOrder {
		n, err := repo.Count(ctx, kind)
		require.NoError(t, err)
		assert.Zero(t, n, kind)
	}
}

func TestReconcileBulkFillsFieldNeverFromProvider(t *testing.T) {
	ctx := context.Background()
	rec, repo := newTestReconciler(t)

	_, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceProvider, t0, "p-1",
		domain.FieldEmail, "ada@example.com"))
	require.NoError(t, err)

	out, err := rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, t1, "p-1",
		domain.FieldDisplayName, "Countess", domain.FieldEmail, "countess@example.com"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out.Kind)

	// once bulk owns the record, bulk data not newer than the provider sync
	// still edits its own fields but not provider-sourced ones
	out, err = rec.Reconcile(ctx, raw(t, domain.EntityPerson, domain.DataSourceBulk, t0, "p-1",
		domain.FieldDisplayName, "Lady Lovelace"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out.Kind)

	stored, err := repo.FindByExternalID(ctx, domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Lady Lovelace", stored.Field(domain.FieldDisplayName))
	assert.Equal(t, "countess@example.com", stored.Field(domain.FieldEmail))
	assert.Equal(t, domain.DataSourceBulk, stored.Meta().FieldSources[domain.FieldDisplayName])
}

func TestPayloadHashIgnoresMetadata(t *testing.T) {
	a := &domain.Person{Email: "a@example.com", GivenName: "Ada"}
	b := &domain.Person{Email: "a@example.com", GivenName: "Ada"}
	b.InternalID = "other"
	b.DataSource = domain.DataSourceBulk
	assert.Equal(t, PayloadHash(a), PayloadHash(b))

	b.GivenName = "Grace"
	assert.NotEqual(t, PayloadHash(a), PayloadHash(b))
}
