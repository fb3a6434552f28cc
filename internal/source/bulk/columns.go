package bulk

import (
	"strings"

	"github.com/timmy/rostersync/internal/domain"
)

const (
	columnExternalID = "external_id"
	columnUpdatedAt  = "updated_at"
)

// columnAliases maps alternative header names to canonical field names.
var columnAliases = map[domain.EntityKind]map[string]string{
	domain.EntityPerson: {
		"first_name": domain.FieldGivenName,
		"last_name":  domain.FieldFamilyName,
		"name":       domain.FieldDisplayName,
	},
	domain.EntityCourse: {
		"course_code": domain.FieldCode,
		"name":        domain.FieldTitle,
		"start_date":  domain.FieldStartsOn,
		"end_date":    domain.FieldEndsOn,
	},
	domain.EntityEnrollment: {
		"person_id": domain.FieldPersonExternalID,
		"user_id":   domain.FieldPersonExternalID,
		"course_id": domain.FieldCourseExternalID,
	},
	domain.EntityContentCompletion: {
		"person_id": domain.FieldPersonExternalID,
		"user_id":   domain.FieldPersonExternalID,
		"course_id": domain.FieldCourseExternalID,
	},
}

// normalizeHeader trims, lower-cases and replaces spaces and dashes with underscores.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// canonicalColumn resolves a normalized header to a canonical field name,
// columnExternalID, columnUpdatedAt, or "" for an ignored column.
func canonicalColumn(kind domain.EntityKind, header string) string {
	switch header {
	case columnExternalID, "id":
		return columnExternalID
	case columnUpdatedAt:
		return columnUpdatedAt
	}
	if domain.Schema(kind).HasField(header) {
		return header
	}
	return columnAliases[kind][header]
}
