package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Tracing fields, carried on the context through the call chain.
const (
	FieldRequestID = "request_id"
	FieldBatchID   = "batch_id"
	FieldTaskID    = "task_id"
	FieldItemID    = "item_id"
	FieldComponent = "component"
	// FieldWorker is the runner slot processing a task.
	FieldWorker = "worker"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldDelayMs    = "delay_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldAttempts   = "attempts"
)
