package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawRecordSetAndValues(t *testing.T) {
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", -7200))
	r, err := NewRawRecord(EntityPerson, DataSourceBulk, observed)
	require.NoError(t, err)
	assert.Equal(t, observed.UTC(), r.ObservedAt)

	require.NoError(t, r.Set(FieldEmail, "  Ada@Example.COM "))
	require.NoError(t, r.Set(FieldGivenName, " Ada "))
	require.NoError(t, r.Set(FieldStatus, "ACTIVE"))

	assert.Equal(t, map[string]string{
		FieldEmail:     "ada@example.com",
		FieldGivenName: "Ada",
		FieldStatus:    "active",
	}, r.Values())

	assert.Error(t, r.Set(FieldCode, "CS101"))
}

func TestRawRecordTypedFields(t *testing.T) {
	r, err := NewRawRecord(EntityContentCompletion, DataSourceProvider, time.Now())
	require.NoError(t, err)

	require.NoError(t, r.Set(FieldScore, "88.5"))
	require.NoError(t, r.Set(FieldCompletedAt, "2024-05-01T09:00:00+01:00"))
	require.NoError(t, r.Set(FieldContentID, ""))

	vals := r.Values()
	assert.Equal(t, "88.5", vals[FieldScore])
	assert.Equal(t, "2024-05-01T08:00:00Z", vals[FieldCompletedAt])
	// supplied but empty
	v, ok := vals[FieldContentID]
	assert.True(t, ok)
	assert.Empty(t, v)

	err = r.Set(FieldScore, "120")
	require.Error(t, err)
	assert.Contains(t, err.Error(), FieldScore)

	c, err := NewRawRecord(EntityCourse, DataSourceBulk, time.Now())
	require.NoError(t, err)
	require.NoError(t, c.Set(FieldStartsOn, "2024-09-01"))
	assert.Equal(t, "2024-09-01", c.Values()[FieldStartsOn])
	assert.Error(t, c.Set(FieldEndsOn, "31/12/2024"))
}

func TestNewRawRecordUnknownKind(t *testing.T) {
	_, err := NewRawRecord(EntityKind("teams"), DataSourceBulk, time.Now())
	assert.Error(t, err)
}

func TestRawRecordRef(t *testing.T) {
	r, err := NewRawRecord(EntityEnrollment, DataSourceBulk, time.Now())
	require.NoError(t, err)
	r.Row = 7
	assert.Equal(t, "row 7", r.Ref())

	require.NoError(t, r.Set(FieldPersonExternalID, "p-1"))
	require.NoError(t, r.Set(FieldCourseExternalID, "c-1"))
	assert.Equal(t, "p-1/c-1", r.Ref())

	r.ExternalID = "e-1"
	assert.Equal(t, "e-1", r.Ref())

	r.Row = 0
	r.ExternalID = ""
	r.Enrollment = &EnrollmentPayload{}
	assert.Empty(t, r.Ref())
}

func TestRawRecordMarkInvalid(t *testing.T) {
	r, err := NewRawRecord(EntityPerson, DataSourceProvider, time.Now())
	require.NoError(t, err)

	r.MarkInvalid("score: bad value")
	r.MarkInvalid("second reason")
	assert.Equal(t, "score: bad value", r.Invalid)
}

func TestFieldSourcesValueScan(t *testing.T) {
	var nilSources FieldSources
	v, err := nilSources.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	src := FieldSources{FieldEmail: DataSourceProvider, FieldRole: DataSourceBulk}
	v, err = src.Value()
	require.NoError(t, err)

	var fromString FieldSources
	require.NoError(t, fromString.Scan(v))
	assert.Equal(t, src, fromString)

	var fromBytes FieldSources
	require.NoError(t, fromBytes.Scan([]byte(v.(string))))
	assert.Equal(t, src, fromBytes)

	var fromNil FieldSources
	require.NoError(t, fromNil.Scan(nil))
	assert.NotNil(t, fromNil)
	assert.Empty(t, fromNil)

	assert.Error(t, fromNil.Scan(42))
	assert.Error(t, fromNil.Scan("not json"))

	clone := src.Clone()
	clone[FieldEmail] = DataSourceManual
	assert.Equal(t, DataSourceProvider, src[FieldEmail])
}

func TestRunStatusAndDataSource(t *testing.T) {
	assert.True(t, RunStatusSucceeded.Terminal())
	assert.True(t, RunStatusPartiallySucceeded.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.False(t, RunStatusIdle.Terminal())

	assert.True(t, DataSourceManual.Valid())
	assert.False(t, DataSource("csv").Valid())
}

func TestRecordMetaStamp(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	var m RecordMeta

	m.Stamp(DataSourceBulk, at)
	require.NotNil(t, m.BulkLoadedAt)
	assert.Nil(t, m.ProviderSyncedAt)
	assert.Equal(t, at.UTC(), *m.BulkLoadedAt)

	m.Stamp(DataSourceProvider, at)
	require.NotNil(t, m.ProviderSyncedAt)

	// older observations never move a timestamp back
	m.Stamp(DataSourceBulk, at.Add(-time.Hour))
	assert.Equal(t, at.UTC(), *m.BulkLoadedAt)
	m.Stamp(DataSourceBulk, at.Add(time.Hour))
	assert.Equal(t, at.Add(time.Hour).UTC(), *m.BulkLoadedAt)

	assert.Empty(t, m.GetExternalID())
	id := "p-1"
	m.ExternalID = &id
	assert.Equal(t, "p-1", m.GetExternalID())
}
