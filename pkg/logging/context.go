package logging

import "context"

type contextKey string

const LogFieldsContextKey = contextKey("log_fields")

// Field keys shared by packages that log through context.
const (
	BranchIDFieldKey     = "branch_id"     // int32
	CommitTimeFieldKey   = "commit_time"   // int64, ms
	PreviousTimeFieldKey = "previous_time" // int64, ms
	CommitIDFieldKey     = "commit_id"
	LockAreaFieldKey     = "area_id"
	UserFieldKey         = "user"
	ProcessorFieldKey    = "processor"
	AccessorFieldKey     = "accessor" // ex: reader-3
	ServiceNameFieldKey  = "service_name"
	PhaseFieldKey        = "phase" // ex: startup
)

func contextFields(ctx context.Context) Fields {
	fields, _ := ctx.Value(LogFieldsContextKey).(Fields)
	return fields
}

// FromContext returns the default Logger carrying the fields stored on ctx.
func FromContext(ctx context.Context) Logger {
	return Default().WithContext(ctx)
}

// AddFields returns a child context whose log fields are the ones of ctx
// merged with fields. ctx itself is left untouched.
func AddFields(ctx context.Context, fields Fields) context.Context {
	parent := contextFields(ctx)
	merged := make(Fields, len(parent)+len(fields))
	for k, v := range parent {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, LogFieldsContextKey, merged)
}
