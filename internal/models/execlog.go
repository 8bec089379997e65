package models

import "time"

// LogLevel represents the severity of an execution log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// ExecutionLogEntry is an append-only audit record attached to an
// insight. Entries are never updated once written.
type ExecutionLogEntry struct {
	ID        string
	InsightID string
	Level     LogLevel
	Message   string
	StepName  string
	Metadata  map[string]any
	CreatedAt time.Time
}
