package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Context fields, carried through the call chain by ContextWithFields.
const (
	FieldRequestID  = "request_id"
	FieldRunID      = "run_id"
	FieldEntityKind = "entity_kind"
	FieldComponent  = "component"
	FieldSource     = "source"
	// FieldExternalID is the provider-assigned record id.
	FieldExternalID = "external_id"
)

// Metric fields, attached per log line through Entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size" // bytes
	FieldStatus     = "status"
	FieldAttempt    = "attempt"
)
