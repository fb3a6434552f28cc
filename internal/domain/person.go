package domain

import "fmt"

// Person is a canonical member record.
type Person struct {
	RecordMeta
	Email       string `gorm:"type:text;not null;index:idx_people_email" json:"email"`
	GivenName   string `gorm:"type:text" json:"given_name"`
	FamilyName  string `gorm:"type:text" json:"family_name"`
	DisplayName string `gorm:"type:text" json:"display_name"`
	Role        string `gorm:"type:text" json:"role"`
	Status      string `gorm:"type:text;index:idx_people_status" json:"status"`
}

// TableName returns the database table name for Person.
func (Person) TableName() string {
	return "people"
}

func (p *Person) Kind() EntityKind  { return EntityPerson }
func (p *Person) Meta() *RecordMeta { return &p.RecordMeta }

func (p *Person) Field(name string) string {
	switch name {
	case FieldEmail:
		return p.Email
	case FieldGivenName:
		return p.GivenName
	case FieldFamilyName:
		return p.FamilyName
	case FieldDisplayName:
		return p.DisplayName
	case FieldRole:
		return p.Role
	case FieldStatus:
		return p.Status
	}
	return ""
}

func (p *Person) SetField(name, value string) error {
	switch name {
	case FieldEmail:
		p.Email = value
	case FieldGivenName:
		p.GivenName = value
	case FieldFamilyName:
		p.FamilyName = value
	case FieldDisplayName:
		p.DisplayName = value
	case FieldRole:
		p.Role = value
	case FieldStatus:
		p.Status = value
	default:
		return fmt.Errorf("unknown field %q for %s", name, EntityPerson)
	}
	return nil
}
