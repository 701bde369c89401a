package logging

import (
	"context"
	"log/slog"
	"strconv"

	"vinscan/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType names the event a log line reports (e.g. preview_started).
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should take after a warning.
	FieldErrorHint = "error_hint"
	// FieldSessionID is the standardized structured logging key for capture session identifiers.
	FieldSessionID = "session_id"
	// FieldTaskID is the standardized structured logging key for decode task identifiers.
	FieldTaskID = "task_id"
	// FieldDeviceID is the standardized structured logging key for capture device identifiers.
	FieldDeviceID = "device_id"
	// FieldState is the standardized structured logging key for session states.
	FieldState = "state"
	// FieldInFlight is the standardized structured logging key for the in-flight task count.
	FieldInFlight = "in_flight"
	// FieldBarcode is the standardized structured logging key for decoded barcode text.
	FieldBarcode = "barcode"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := services.TaskIDFromContext(ctx); ok {
		fields = append(fields, slog.Uint64(FieldTaskID, id))
	}
	if id, ok := services.DeviceIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldDeviceID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}

// TaskLabel renders a task identifier for console subjects.
func TaskLabel(id uint64) string {
	if id == 0 {
		return ""
	}
	return "Task #" + strconv.FormatUint(id, 10)
}
