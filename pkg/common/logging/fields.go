// Package logging defines standardized logging field names and correlation helpers for mailslot components.
package logging

// StandardFields defines common logging field names.
const (
	// Service identification.
	FieldService   = "service"
	FieldComponent = "component"
	FieldVersion   = "version"

	// Channel state.
	FieldChannelID      = "channel_id"
	FieldCapacity       = "capacity_bytes"
	FieldFree           = "free_bytes"
	FieldQueued         = "queued_messages"
	FieldMaxMessageSize = "max_message_size"
	FieldMode           = "blocking_mode"
	FieldSide           = "side"
	FieldWaiters        = "waiters"

	// Operations.
	FieldOperation     = "operation"
	FieldCorrelationID = "correlation_id"
	FieldTraceID       = "trace_id"
	FieldLength        = "length"
	FieldBufferSize    = "buffer_size"
	FieldDuration      = "duration_ms"

	// Sessions.
	FieldHandleID = "handle_id"

	// Error handling.
	FieldError     = "error"
	FieldErrorKind = "error_kind"
	FieldErrorCode = "error_code"
)

// ServiceMailslot identifies the mailslot daemon in log output.
const ServiceMailslot = "mailslotd"
