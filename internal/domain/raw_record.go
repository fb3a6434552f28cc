package domain

import (
	"fmt"
	"strings"
	"time"
)

// PersonPayload carries the person fields a source supplied. Nil means not supplied.
type PersonPayload struct {
	Email       *string
	GivenName   *string
	FamilyName  *string
	DisplayName *string
	Role        *string
	Status      *string
}

// CoursePayload carries the course fields a source supplied.
type CoursePayload struct {
	Code        *string
	Title       *string
	Description *string
	StartsOn    *time.Time
	EndsOn      *time.Time
	Status      *string
}

// EnrollmentPayload carries the enrollment fields a source supplied.
type EnrollmentPayload struct {
	PersonExternalID *string
	CourseExternalID *string
	Role             *string
	Status           *string
	EnrolledAt       *time.Time
}

// CompletionPayload carries the content completion fields a source supplied.
type CompletionPayload struct {
	PersonExternalID *string
	CourseExternalID *string
	ContentID        *string
	Status           *string
	Score            *float64
	CompletedAt      *time.Time
}

// RawRecord is the tagged union handed from a source adapter to the reconciler.
// Exactly one payload matching Kind is set.
type RawRecord struct {
	Kind       EntityKind
	ExternalID string
	Source     DataSource
	ObservedAt time.Time
	// Row is the 1-based file line for bulk records, zero for provider records.
	Row int
	// Invalid is set by an adapter that could not decode a field value.
	Invalid string

	Person     *PersonPayload
	Course     *CoursePayload
	Enrollment *EnrollmentPayload
	Completion *CompletionPayload
}

// NewRawRecord returns a record with an empty payload for kind.
func NewRawRecord(kind EntityKind, src DataSource, observedAt time.Time) (*RawRecord, error) {
	r := &RawRecord{Kind: kind, Source: src, ObservedAt: observedAt.UTC()}
	switch kind {
	case EntityPerson:
		r.Person = &PersonPayload{}
	case EntityCourse:
		r.Course = &CoursePayload{}
	case EntityEnrollment:
		r.Enrollment = &EnrollmentPayload{}
	case EntityContentCompletion:
		r.Completion = &CompletionPayload{}
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return r, nil
}

// Ref identifies the record in run error lists: external id, else natural key, else row.
func (r *RawRecord) Ref() string {
	if r.ExternalID != "" {
		return r.ExternalID
	}
	if s := Schema(r.Kind); s != nil {
		vals := r.Values()
		if key := s.NaturalKeyOf(func(n string) string { return vals[n] }); key != "" {
			return key
		}
	}
	if r.Row > 0 {
		return fmt.Sprintf("row %d", r.Row)
	}
	return ""
}

// MarkInvalid records why the record cannot be reconciled. The first reason wins.
func (r *RawRecord) MarkInvalid(reason string) {
	if r.Invalid == "" {
		r.Invalid = reason
	}
}

// Set decodes a raw string into the named payload field.
func (r *RawRecord) Set(name, raw string) error {
	value := strings.TrimSpace(raw)
	str := func() *string { v := value; return &v }
	lower := func() *string { v := strings.ToLower(value); return &v }

	switch r.Kind {
	case EntityPerson:
		p := r.Person
		switch name {
		case FieldEmail:
			p.Email = lower()
		case FieldGivenName:
			p.GivenName = str()
		case FieldFamilyName:
			p.FamilyName = str()
		case FieldDisplayName:
			p.DisplayName = str()
		case FieldRole:
			p.Role = lower()
		case FieldStatus:
			p.Status = lower()
		default:
			return fmt.Errorf("unknown field %q for %s", name, r.Kind)
		}
	case EntityCourse:
		c := r.Course
		switch name {
		case FieldCode:
			c.Code = str()
		case FieldTitle:
			c.Title = str()
		case FieldDescription:
			c.Description = str()
		case FieldStartsOn, FieldEndsOn:
			t, err := optionalDate(value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if name == FieldStartsOn {
				c.StartsOn = t
			} else {
				c.EndsOn = t
			}
		case FieldStatus:
			c.Status = lower()
		default:
			return fmt.Errorf("unknown field %q for %s", name, r.Kind)
		}
	case EntityEnrollment:
		e := r.Enrollment
		switch name {
		case FieldPersonExternalID:
			e.PersonExternalID = str()
		case FieldCourseExternalID:
			e.CourseExternalID = str()
		case FieldRole:
			e.Role = lower()
		case FieldStatus:
			e.Status = lower()
		case FieldEnrolledAt:
			t, err := optionalTimestamp(value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			e.EnrolledAt = t
		default:
			return fmt.Errorf("unknown field %q for %s", name, r.Kind)
		}
	case EntityContentCompletion:
		c := r.Completion
		switch name {
		case FieldPersonExternalID:
			c.PersonExternalID = str()
		case FieldCourseExternalID:
			c.CourseExternalID = str()
		case FieldContentID:
			c.ContentID = str()
		case FieldStatus:
			c.Status = lower()
		case FieldScore:
			v, err := optionalScore(value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			c.Score = v
		case FieldCompletedAt:
			t, err := optionalTimestamp(value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			c.CompletedAt = t
		default:
			return fmt.Errorf("unknown field %q for %s", name, r.Kind)
		}
	default:
		return fmt.Errorf("unknown entity kind %q", r.Kind)
	}
	return nil
}

// Values returns the supplied fields in canonical string encoding.
// Fields the source did not supply are absent from the map.
func (r *RawRecord) Values() map[string]string {
	out := map[string]string{}
	putStr := func(name string, v *string) {
		if v != nil {
			out[name] = *v
		}
	}
	switch r.Kind {
	case EntityPerson:
		if p := r.Person; p != nil {
			putStr(FieldEmail, p.Email)
			putStr(FieldGivenName, p.GivenName)
			putStr(FieldFamilyName, p.FamilyName)
			putStr(FieldDisplayName, p.DisplayName)
			putStr(FieldRole, p.Role)
			putStr(FieldStatus, p.Status)
		}
	case EntityCourse:
		if c := r.Course; c != nil {
			putStr(FieldCode, c.Code)
			putStr(FieldTitle, c.Title)
			putStr(FieldDescription, c.Description)
			if c.StartsOn != nil {
				out[FieldStartsOn] = FormatDate(c.StartsOn)
			}
			if c.EndsOn != nil {
				out[FieldEndsOn] = FormatDate(c.EndsOn)
			}
			putStr(FieldStatus, c.Status)
		}
	case EntityEnrollment:
		if e := r.Enrollment; e != nil {
			putStr(FieldPersonExternalID, e.PersonExternalID)
			putStr(FieldCourseExternalID, e.CourseExternalID)
			putStr(FieldRole, e.Role)
			putStr(FieldStatus, e.Status)
			if e.EnrolledAt != nil {
				out[FieldEnrolledAt] = FormatTimestamp(e.EnrolledAt)
			}
		}
	case EntityContentCompletion:
		if c := r.Completion; c != nil {
			putStr(FieldPersonExternalID, c.PersonExternalID)
			putStr(FieldCourseExternalID, c.CourseExternalID)
			putStr(FieldContentID, c.ContentID)
			putStr(FieldStatus, c.Status)
			if c.Score != nil {
				out[FieldScore] = FormatScore(c.Score)
			}
			if c.CompletedAt != nil {
				out[FieldCompletedAt] = FormatTimestamp(c.CompletedAt)
			}
		}
	}
	return out
}
