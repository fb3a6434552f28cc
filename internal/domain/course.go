package domain

import (
	"fmt"
	"time"
)

// Course is a canonical course record.
type Course struct {
	RecordMeta
	Code        string     `gorm:"type:text;not null;index:idx_courses_code" json:"code"`
	Title       string     `gorm:"type:text;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	StartsOn    *time.Time `json:"starts_on,omitempty"`
	EndsOn      *time.Time `json:"ends_on,omitempty"`
	Status      string     `gorm:"type:text" json:"status"`
}

// TableName returns the database table name for Course.
func (Course) TableName() string {
	return "courses"
}

func (c *Course) Kind() EntityKind  { return EntityCourse }
func (c *Course) Meta() *RecordMeta { return &c.RecordMeta }

func (c *Course) Field(name string) string {
	switch name {
	case FieldCode:
		return c.Code
	case FieldTitle:
		return c.Title
	case FieldDescription:
		return c.Description
	case FieldStartsOn:
		return FormatDate(c.StartsOn)
	case FieldEndsOn:
		return FormatDate(c.EndsOn)
	case FieldStatus:
		return c.Status
	}
	return ""
}

func (c *Course) SetField(name, value string) error {
	var err error
	switch name {
	case FieldCode:
		c.Code = value
	case FieldTitle:
		c.Title = value
	case FieldDescription:
		c.Description = value
	case FieldStartsOn:
		c.StartsOn, err = optionalDate(value)
	case FieldEndsOn:
		c.EndsOn, err = optionalDate(value)
	case FieldStatus:
		c.Status = value
	default:
		return fmt.Errorf("unknown field %q for %s", name, EntityCourse)
	}
	return err
}
