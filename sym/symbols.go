// Package sym defines canonical symbols for engine subsystems and system markers.
// These symbols are stable across log output, CLI, and documentation.
package sym

// Glyph string constants, one per subsystem, used as log and CLI markers.
const (
	Alert  = "⚑" // alert: saved searches and their lifecycle
	Clock  = "⧖" // clock: scheduler timers and recurrence
	Search = "⌕" // search: pipeline executions against the scraper
	Send   = "➳" // send: outbound deliveries to the chat transport
	Flow   = "⇶" // flow: conversational workflow agents
	DB     = "⛁" // db: storage operations
	Net    = "⇌" // net: webhook and WebSocket surfaces
)

// Open/close markers for long-running operations, paired in logs:
// open when a run starts, close when it finishes.
const (
	RunOpen  = "▶"
	RunClose = "■"
)

// Name returns the subsystem name for a glyph, or "" if unknown.
func Name(glyph string) string {
	switch glyph {
	case Alert:
		return "alert"
	case Clock:
		return "schedule"
	case Search:
		return "pipeline"
	case Send:
		return "notify"
	case Flow:
		return "flow"
	case DB:
		return "db"
	case Net:
		return "server"
	default:
		return ""
	}
}
