package flow

import (
	"fmt"
	"strings"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/session"
)

// Every user-visible string lives here. Internal error detail never leaks
// into these: failures get a plain-language line and the detail goes to
// the log.

const (
	msgWelcome = "Hi! I watch job boards for you and send new postings that match your saved alerts.\n\n" +
		"/create_alert — save a recurring search\n" +
		"/search_now — run a one-time search\n" +
		"/my_alerts — list your alerts\n" +
		"/edit_alert — change an alert\n" +
		"/delete_alert — remove alerts\n" +
		"/cancel — abort the current step"

	msgDescribeSearch = "Describe the job search in one message, e.g. \"Senior Kotlin Developer in Berlin, remote, every 1 day\"."

	msgDescribeOneTime = "Describe what to search for, e.g. \"Go backend engineer in Amsterdam, hybrid\"."

	msgDescribeAgain = "No problem. Describe the search again."

	msgMaxAttempts = "That didn't work out after several attempts, so I've stopped this operation. Start over whenever you're ready."

	msgCancelled = "Okay, cancelled. Nothing was changed."

	msgNothingToCancel = "There's nothing in progress to cancel."

	msgNoAlertsForEdit = "You don't have any alerts yet, so there's nothing to edit. Create one with /create_alert."

	msgNoAlertsForDelete = "You don't have any alerts yet, so there's nothing to delete. Create one with /create_alert."

	msgNoAlerts = "You don't have any alerts yet. Create one with /create_alert."

	msgQuotaExceeded = "You've used up today's one-time searches. Your saved alerts keep running — try /search_now again tomorrow."

	msgCreateFailed = "I couldn't save the alert just now. Please try again in a few minutes."

	msgUpdateFailed = "I couldn't apply the change just now. Reply \"yes\" to try again, or /cancel to keep the alert as it was."

	msgDeleteFailed = "I couldn't delete just now. Please try again in a few minutes."

	msgSearchStartFailed = "I couldn't start the search just now. Please try again in a few minutes."

	msgSearchStarted = "Search started. I'll send anything I find in a moment."

	msgNoWorkflow = "I'm not sure what that refers to. Use /create_alert, /search_now or /my_alerts to get going."

	msgUnknownCommand = "I don't know that command. Try /help."

	msgSessionRestart = "That step expired while you were away. Please start over."
)

func msgConfirmDraft(draft *alert.Draft) string {
	return fmt.Sprintf("Here's what I understood:\n\n%s\n\nShall I save it? (yes/no)", draft.Summary())
}

func msgConfirmOneTime(draft *alert.Draft) string {
	return fmt.Sprintf("Here's what I understood:\n\n%s\n\nRun the search? (yes/no)", draft.Filters.Summary())
}

func msgConfirmDelete(searches []*alert.SavedSearch) string {
	var b strings.Builder
	if len(searches) == 1 {
		b.WriteString("Delete this alert?\n")
	} else {
		fmt.Fprintf(&b, "Delete these %d alerts?\n", len(searches))
	}
	for _, s := range searches {
		fmt.Fprintf(&b, "\n• %s", s.Filters.Summary())
	}
	b.WriteString("\n\n(yes/no)")
	return b.String()
}

func msgParseRetry(parseErr *ParseError, attemptsLeft int) string {
	var b strings.Builder
	b.WriteString("I couldn't make sense of that.")
	if len(parseErr.MissingFields) > 0 {
		fmt.Fprintf(&b, " I still need: %s.", strings.Join(parseErr.MissingFields, ", "))
	}
	fmt.Fprintf(&b, " Please try again (%d attempt(s) left).", attemptsLeft)
	return b.String()
}

func msgAlertCreated(search *alert.SavedSearch) string {
	return fmt.Sprintf("Alert saved: %s\n\nI'll message you when new postings appear.", search.Filters.Summary())
}

func msgAlertUpdated(search *alert.SavedSearch) string {
	return fmt.Sprintf("Alert updated: %s", search.Filters.Summary())
}

func msgAlertsDeleted(count int) string {
	if count == 1 {
		return "Alert deleted."
	}
	return fmt.Sprintf("%d alerts deleted.", count)
}

func msgAlertList(header string, searches []*alert.SavedSearch) string {
	var b strings.Builder
	b.WriteString(header)
	for _, s := range searches {
		state := ""
		if !s.Active {
			state = " (paused)"
		}
		fmt.Fprintf(&b, "\n\n%s%s\nid: %s", s.Filters.Summary(), state, s.ID)
	}
	return b.String()
}

func msgSelectForEdit(searches []*alert.SavedSearch) string {
	return msgAlertList("Which alert do you want to edit? Reply with its id (the first 8 characters are enough).", searches)
}

func msgSelectForDelete(searches []*alert.SavedSearch) string {
	return msgAlertList("Which alerts do you want to delete? Reply with one or more ids, separated by commas.", searches)
}

func msgInvalidSelection(valid, invalid []string, attemptsLeft int) string {
	var b strings.Builder
	if len(valid) > 0 {
		fmt.Fprintf(&b, "These ids check out: %s.\n", strings.Join(valid, ", "))
	}
	fmt.Fprintf(&b, "These don't match any of your alerts: %s.", strings.Join(invalid, ", "))
	fmt.Fprintf(&b, "\nPlease correct the list and try again (%d attempt(s) left).", attemptsLeft)
	return b.String()
}

func msgStepState(sess *session.Session) string {
	// Fallback when a reply makes no sense for the current step.
	switch sess.Step {
	case session.StepAwaitingConfirmation:
		return "Please answer \"yes\" or \"no\", or /cancel."
	case session.StepAwaitingSelection:
		return "Please reply with an alert id from the list, or /cancel."
	default:
		return msgDescribeSearch
	}
}
