package llm

// StopReason constants normalize provider-specific completion reasons.
const (
	StopReasonStop   = "stop"   // normal completion
	StopReasonLength = "length" // output truncated at the token limit
)

// StructuredOutputMode constants name the downgrade ladder's rungs.
const (
	StructuredModeJSONSchema = "json_schema"
	StructuredModeJSONObject = "json_object"
	StructuredModeNone       = ""
)
