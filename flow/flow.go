// Package flow drives the multi-step conversational workflows: create,
// edit and delete alerts plus one-time searches. Each workflow is a small
// state machine over the session store; the Router feeds it inbound chat
// events in per-user order.
package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
)

// Command names as they arrive from the chat transport (without the
// leading slash).
const (
	CmdStart       = "start"
	CmdCancel      = "cancel"
	CmdCreateAlert = "create_alert"
	CmdEditAlert   = "edit_alert"
	CmdDeleteAlert = "delete_alert"
	CmdSearchNow   = "search_now"
	CmdMyAlerts    = "my_alerts"
	CmdHelp        = "help"
)

// Parser is the external language-understanding collaborator: free text in,
// structured draft out. A failed parse returns a *ParseError.
type Parser interface {
	Parse(ctx context.Context, text string) (*alert.Draft, error)
}

// ParseError carries what the parser could not determine, so the re-prompt
// can name the missing fields instead of echoing an internal error.
type ParseError struct {
	Message       string
	MissingFields []string
}

func (e *ParseError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("parse failure: %s (missing: %s)", e.Message, strings.Join(e.MissingFields, ", "))
	}
	return "parse failure: " + e.Message
}

// Timers is the scheduler surface the workflows mutate on completion.
type Timers interface {
	AddOrReplace(search *alert.SavedSearch)
	Remove(id string)
}

// Submitter runs one-time searches through the pipeline.
type Submitter interface {
	SubmitOneTime(search *alert.SavedSearch) error
}

// isYes and isNo interpret confirmation replies loosely: users answer in
// their own words more often than with a bare yes/no.
func isYes(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "yes!", "yep", "yeah", "sure", "ok", "okay", "confirm", "👍":
		return true
	}
	return false
}

func isNo(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "no", "n", "no!", "nope", "nah", "wrong", "change", "👎":
		return true
	}
	return false
}
