package constants

// Standard log field names
const (
	LogFieldTenant     = "tenant"
	LogFieldComponent  = "component"
	LogFieldOperation  = "operation"
	LogFieldEvent      = "event"
	LogFieldMessageID  = "message_id"
	LogFieldJID        = "jid"
	LogFieldMediaType  = "media_type"
	LogFieldCount      = "count"
	LogFieldDuration   = "duration_ms"
	LogFieldSize       = "size_bytes"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldAttempt    = "attempt"
	LogFieldPayload    = "payload"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldPhase      = "connection"
)
