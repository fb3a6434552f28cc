package domain

import (
	"fmt"
	"time"
)

// ContentCompletion records a person's progress on one piece of course content.
type ContentCompletion struct {
	RecordMeta
	PersonExternalID string     `gorm:"type:text;not null" json:"person_external_id"`
	CourseExternalID string     `gorm:"type:text;not null" json:"course_external_id"`
	PersonID         string     `gorm:"type:text;index:idx_completions_person" json:"person_id"`
	CourseID         string     `gorm:"type:text;index:idx_completions_course" json:"course_id"`
	ContentID        string     `gorm:"type:text;not null" json:"content_id"`
	Status           string     `gorm:"type:text" json:"status"`
	Score            *float64   `json:"score,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the database table name for ContentCompletion.
func (ContentCompletion) TableName() string {
	return "content_completions"
}

func (c *ContentCompletion) Kind() EntityKind  { return EntityContentCompletion }
func (c *ContentCompletion) Meta() *RecordMeta { return &c.RecordMeta }

func (c *ContentCompletion) Field(name string) string {
	switch name {
	case FieldPersonExternalID:
		return c.PersonExternalID
	case FieldCourseExternalID:
		return c.CourseExternalID
	case FieldContentID:
		return c.ContentID
	case FieldStatus:
		return c.Status
	case FieldScore:
		return FormatScore(c.Score)
	case FieldCompletedAt:
		return FormatTimestamp(c.CompletedAt)
	}
	return ""
}

func (c *ContentCompletion) SetField(name, value string) error {
	var err error
	switch name {
	case FieldPersonExternalID:
		c.PersonExternalID = value
	case FieldCourseExternalID:
		c.CourseExternalID = value
	case FieldContentID:
		c.ContentID = value
	case FieldStatus:
		c.Status = value
	case FieldScore:
		c.Score, err = optionalScore(value)
	case FieldCompletedAt:
		c.CompletedAt, err = optionalTimestamp(value)
	default:
		return fmt.Errorf("unknown field %q for %s", name, EntityContentCompletion)
	}
	return err
}

func (c *ContentCompletion) SetReference(field, internalID string) {
	switch field {
	case FieldPersonExternalID:
		c.PersonID = internalID
	case FieldCourseExternalID:
		c.CourseID = internalID
	}
}
