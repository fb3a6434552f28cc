package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind names one canonical record type.
type EntityKind string

const (
	EntityPerson            EntityKind = "people"
	EntityCourse            EntityKind = "courses"
	EntityEnrollment        EntityKind = "enrollments"
	EntityContentCompletion EntityKind = "content_completions"
)

// SyncOrder is the dependency order in which kinds are reconciled.
// Later kinds reference earlier ones by external id.
var SyncOrder = []EntityKind{
	EntityPerson,
	EntityCourse,
	EntityEnrollment,
	EntityContentCompletion,
}

// ParseEntityKind accepts the canonical kind names plus a few singular aliases.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "people", "person", "persons", "members":
		return EntityPerson, nil
	case "courses", "course":
		return EntityCourse, nil
	case "enrollments", "enrollment":
		return EntityEnrollment, nil
	case "content_completions", "content_completion", "completions", "completion":
		return EntityContentCompletion, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// RecordMeta holds identity and provenance columns shared by every canonical table.
type RecordMeta struct {
	InternalID       string       `gorm:"column:internal_id;type:text;primaryKey" json:"internal_id"`
	ExternalID       *string      `gorm:"column:external_id;type:text;uniqueIndex" json:"external_id,omitempty"`
	NaturalKey       string       `gorm:"column:natural_key;type:text;index" json:"natural_key"`
	DataSource       DataSource   `gorm:"column:data_source;type:text;not null" json:"data_source"`
	ProviderSyncedAt *time.Time   `gorm:"column:provider_synced_at" json:"provider_synced_at,omitempty"`
	BulkLoadedAt     *time.Time   `gorm:"column:bulk_loaded_at" json:"bulk_loaded_at,omitempty"`
	PayloadHash      string       `gorm:"column:payload_hash;type:text;not null" json:"payload_hash"`
	FieldSources     FieldSources `gorm:"column:field_sources;type:text" json:"field_sources"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// GetExternalID returns the external id or an empty string.
func (m *RecordMeta) GetExternalID() string {
	if m.ExternalID == nil {
		return ""
	}
	return *m.ExternalID
}

// Stamp advances the timestamp that belongs to src. It never moves backwards.
func (m *RecordMeta) Stamp(src DataSource, at time.Time) {
	at = at.UTC()
	switch src {
	case DataSourceProvider:
		m.ProviderSyncedAt = later(m.ProviderSyncedAt, at)
	case DataSourceBulk:
		m.BulkLoadedAt = later(m.BulkLoadedAt, at)
	}
}

func later(cur *time.Time, at time.Time) *time.Time {
	if cur != nil && !at.After(*cur) {
		return cur
	}
	return &at
}

// Canonical is implemented by every canonical record model.
// Business fields are exchanged in their canonical string encoding.
type Canonical interface {
	Kind() EntityKind
	Meta() *RecordMeta
	Field(name string) string
	SetField(name, value string) error
}

// NewRecord returns an empty canonical record for kind.
func NewRecord(kind EntityKind) (Canonical, error) {
	switch kind {
	case EntityPerson:
		return &Person{}, nil
	case EntityCourse:
		return &Course{}, nil
	case EntityEnrollment:
		return &Enrollment{}, nil
	case EntityContentCompletion:
		return &ContentCompletion{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// KindSchema describes the business fields of a kind.
type KindSchema struct {
	Kind       EntityKind
	Fields     []string
	Required   []string
	NaturalKey []string
	// References maps a field to the kind whose external id it must resolve to.
	References map[string]EntityKind
}

var schemas = map[EntityKind]*KindSchema{
	EntityPerson: {
		Kind:       EntityPerson,
		Fields:     []string{FieldEmail, FieldGivenName, FieldFamilyName, FieldDisplayName, FieldRole, FieldStatus},
		Required:   []string{FieldEmail},
		NaturalKey: []string{FieldEmail},
	},
	EntityCourse: {
		Kind:       EntityCourse,
		Fields:     []string{FieldCode, FieldTitle, FieldDescription, FieldStartsOn, FieldEndsOn, FieldStatus},
		Required:   []string{FieldCode, FieldTitle},
		NaturalKey: []string{FieldCode},
	},
	EntityEnrollment: {
		Kind:       EntityEnrollment,
		Fields:     []string{FieldPersonExternalID, FieldCourseExternalID, FieldRole, FieldStatus, FieldEnrolledAt},
		Required:   []string{FieldPersonExternalID, FieldCourseExternalID},
		NaturalKey: []string{FieldPersonExternalID, FieldCourseExternalID},
		References: map[string]EntityKind{
			FieldPersonExternalID: EntityPerson,
			FieldCourseExternalID: EntityCourse,
		},
	},
	EntityContentCompletion: {
		Kind:       EntityContentCompletion,
		Fields:     []string{FieldPersonExternalID, FieldCourseExternalID, FieldContentID, FieldStatus, FieldScore, FieldCompletedAt},
		Required:   []string{FieldPersonExternalID, FieldCourseExternalID, FieldContentID},
		NaturalKey: []string{FieldPersonExternalID, FieldContentID},
		References: map[string]EntityKind{
			FieldPersonExternalID: EntityPerson,
			FieldCourseExternalID: EntityCourse,
		},
	},
}

// Schema returns the schema for kind, or nil for an unknown kind.
func Schema(kind EntityKind) *KindSchema {
	return schemas[kind]
}

// NaturalKeyOf builds the natural key from a field getter.
// It returns an empty string when any component is empty.
func (s *KindSchema) NaturalKeyOf(get func(string) string) string {
	parts := make([]string, 0, len(s.NaturalKey))
	for _, name := range s.NaturalKey {
		v := strings.TrimSpace(get(name))
		if v == "" {
			return ""
		}
		if name == FieldEmail {
			v = strings.ToLower(v)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "/")
}

// HasField reports whether name is a business field of the kind.
func (s *KindSchema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f == name {
			return true
		}
	}
	return false
}
