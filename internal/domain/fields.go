package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Business field names. These double as bulk file column names and
// provider JSON keys after mapping.
const (
	FieldEmail            = "email"
	FieldGivenName        = "given_name"
	FieldFamilyName       = "family_name"
	FieldDisplayName      = "display_name"
	FieldRole             = "role"
	FieldStatus           = "status"
	FieldCode             = "code"
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldStartsOn         = "starts_on"
	FieldEndsOn           = "ends_on"
	FieldPersonExternalID = "person_external_id"
	FieldCourseExternalID = "course_external_id"
	FieldEnrolledAt       = "enrolled_at"
	FieldContentID        = "content_id"
	FieldScore            = "score"
	FieldCompletedAt      = "completed_at"
)

const dateLayout = "2006-01-02"

var allowedStatuses = map[EntityKind][]string{
	EntityPerson:            {"active", "inactive", "suspended"},
	EntityCourse:            {"draft", "active", "archived"},
	EntityEnrollment:        {"active", "dropped", "completed"},
	EntityContentCompletion: {"completed", "in_progress"},
}

// ParseDate accepts YYYY-MM-DD or an RFC3339 timestamp and returns the date at UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// ParseTimestamp accepts RFC3339 or YYYY-MM-DD (midnight UTC).
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return t, nil
}

// ParseScore parses a percentage score in [0, 100].
func ParseScore(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q", raw)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("score %v out of range 0..100", v)
	}
	return v, nil
}

// FormatDate encodes a date column canonically.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// FormatTimestamp encodes a timestamp column canonically.
func FormatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FormatScore encodes a score column canonically.
func FormatScore(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func optionalDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalTimestamp(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalScore(value string) (*float64, error) {
	if value == "" {
		return nil, nil
	}
	v, err := ParseScore(value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ValidateValue checks a canonical field value for kind.
// Empty values are accepted here; required-ness is checked separately.
func ValidateValue(kind EntityKind, name, value string) error {
	if value == "" {
		return nil
	}
	switch name {
	case FieldEmail:
		at := strings.Index(value, "@")
		if at <= 0 || at == len(value)-1 || strings.ContainsAny(value, " \t") {
			return fmt.Errorf("invalid email %q", value)
		}
	case FieldStatus:
		for _, s := range allowedStatuses[kind] {
			if s == value {
				return nil
			}
		}
		return fmt.Errorf("invalid %s status %q", kind, value)
	case FieldStartsOn, FieldEndsOn:
		if _, err := ParseDate(value); err != nil {
			return err
		}
	case FieldEnrolledAt, FieldCompletedAt:
		if _, err := ParseTimestamp(value); err != nil {
			return err
		}
	case FieldScore:
		if _, err := ParseScore(value); err != nil {
			return err
		}
	}
	return nil
}
