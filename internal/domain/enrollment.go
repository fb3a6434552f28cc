package domain

import (
	"fmt"
	"time"
)

// Referencing is implemented by records that point at other canonical records.
// The reconciler stores the resolved internal id alongside the external reference.
type Referencing interface {
	SetReference(field, internalID string)
}

// Enrollment links a person to a course.
type Enrollment struct {
	RecordMeta
	PersonExternalID string     `gorm:"type:text;not null" json:"person_external_id"`
	CourseExternalID string     `gorm:"type:text;not null" json:"course_external_id"`
	PersonID         string     `gorm:"type:text;index:idx_enrollments_person" json:"person_id"`
	CourseID         string     `gorm:"type:text;index:idx_enrollments_course" json:"course_id"`
	Role             string     `gorm:"type:text" json:"role"`
	Status           string     `gorm:"type:text" json:"status"`
	EnrolledAt       *time.Time `json:"enrolled_at,omitempty"`
}

// TableName returns the database table name for Enrollment.
func (Enrollment) TableName() string {
	return "enrollments"
}

func (e *Enrollment) Kind() EntityKind  { return EntityEnrollment }
func (e *Enrollment) Meta() *RecordMeta { return &e.RecordMeta }

func (e *Enrollment) Field(name string) string {
	switch name {
	case FieldPersonExternalID:
		return e.PersonExternalID
	case FieldCourseExternalID:
		return e.CourseExternalID
	case FieldRole:
		return e.Role
	case FieldStatus:
		return e.Status
	case FieldEnrolledAt:
		return FormatTimestamp(e.EnrolledAt)
	}
	return ""
}

func (e *Enrollment) SetField(name, value string) error {
	var err error
	switch name {
	case FieldPersonExternalID:
		e.PersonExternalID = value
	case FieldCourseExternalID:
		e.CourseExternalID = value
	case FieldRole:
		e.Role = value
	case FieldStatus:
		e.Status = value
	case FieldEnrolledAt:
		e.EnrolledAt, err = optionalTimestamp(value)
	default:
		return fmt.Errorf("unknown field %q for %s", name, EntityEnrollment)
	}
	return err
}

func (e *Enrollment) SetReference(field, internalID string) {
	switch field {
	case FieldPersonExternalID:
		e.PersonID = internalID
	case FieldCourseExternalID:
		e.CourseID = internalID
	}
}
