package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through a call chain.
const (
	FieldRequestID = "request_id"
	FieldComponent = "component"

	// FieldMemeID identifies the item a log line is about.
	FieldMemeID = "meme_id"

	// FieldScanID identifies one directory scan run.
	FieldScanID = "scan_id"

	// FieldBatchID identifies one batch generation run.
	FieldBatchID = "batch_id"

	FieldRoot = "root"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
