package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldRole      = "role"
	FieldURL       = "url"
	FieldAttempt   = "attempt"
	FieldKind      = "kind"
	FieldType      = "type"
	FieldSource    = "source"
	FieldAction    = "action"
	FieldStatus    = "status"
	FieldEventID   = "evento_id"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldDedupKey  = "dedup_key"
	FieldTopic     = "topic"
)
