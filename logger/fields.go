package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across the engine.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldOwnerID     = "owner_id"
	FieldChatID      = "chat_id"
	FieldSearchID    = "search_id"
	FieldExecutionID = "execution_id"

	// Components
	FieldComponent = "component"
	FieldWorkflow  = "workflow"
	FieldState     = "state"

	// Operations
	FieldTrigger = "trigger"
	FieldCommand = "command"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRunAt  = "next_run_at"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount         = "count"
	FieldPostingsFound = "postings_found"
	FieldPostingsNew   = "postings_new"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Engine struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewEngine() *Engine {
//	    return &Engine{
//	        logger: logger.ComponentLogger("schedule"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
// Use for sub-operations that need extra context fields.
//
// Example:
//
//	runLogger := logger.ChildLogger(baseLogger, "execution_id", exec.ID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
