package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// DataSource identifies which ingestion path wrote a record or field.
// Values include DataSourceProvider, DataSourceBulk, and DataSourceManual.
type DataSource string

const (
	DataSourceProvider DataSource = "provider"
	DataSourceBulk     DataSource = "bulk"
	DataSourceManual   DataSource = "manual"
)

// Valid reports whether s is one of the known data sources.
func (s DataSource) Valid() bool {
	switch s {
	case DataSourceProvider, DataSourceBulk, DataSourceManual:
		return true
	}
	return false
}

// FieldSources maps a business field name to the source that last
// authoritatively wrote it. Stored as JSON.
type FieldSources map[string]DataSource

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the map.
//   - error: non-nil if marshaling fails.
func (f FieldSources) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (f *FieldSources) Scan(value interface{}) error {
	if value == nil {
		*f = FieldSources{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan FieldSources")
		}
		bytes = []byte(str)
	}
	decoded := FieldSources{}
	if err := json.Unmarshal(bytes, &decoded); err != nil {
		return err
	}
	*f = decoded
	return nil
}

// Clone returns an independent copy of the map.
func (f FieldSources) Clone() FieldSources {
	out := make(FieldSources, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
