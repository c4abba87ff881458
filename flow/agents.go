package flow

import (
	"context"
	"strings"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/session"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// ---- create ----

func (r *Router) startCreate(ev bus.InboundEvent) {
	r.beginSession(ev, session.WorkflowCreate, session.StepAwaitingInput)
	r.send(ev.ChatID, bus.OutboundPrompt, msgDescribeSearch)
}

func (r *Router) continueCreate(sess *session.Session, ev bus.InboundEvent) {
	switch sess.Step {
	case session.StepAwaitingInput:
		r.parseIntoConfirmation(sess, ev, msgConfirmDraft)

	case session.StepAwaitingConfirmation:
		switch {
		case isYes(ev.Text):
			r.completeCreate(sess, ev)
		case isNo(ev.Text):
			next := sess.WithStep(session.StepAwaitingInput)
			next.Draft = nil
			r.sessions.Set(ev.UserID, next)
			r.send(ev.ChatID, bus.OutboundPrompt, msgDescribeAgain)
		default:
			r.failStep(sess, ev, func(int) string { return msgStepState(sess) })
		}

	default:
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
	}
}

func (r *Router) completeCreate(sess *session.Session, ev bus.InboundEvent) {
	draft := sess.Draft
	if draft == nil {
		r.logger.Errorw("Confirmation reached without a draft", "user_id", ev.UserID)
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
		return
	}

	search := &alert.SavedSearch{
		OwnerID:    ev.UserID,
		ChatID:     ev.ChatID,
		Filters:    draft.Filters,
		Recurrence: draft.Recurrence,
		Active:     true,
	}
	if search.Recurrence == "" {
		search.Recurrence = alert.RecurrenceDaily
	}

	if err := r.searches.Create(search); err != nil {
		// Transient repository failure cancels the create; the user is
		// told to retry, never shown the raw error.
		r.logger.Errorw("Alert creation failed",
			"user_id", ev.UserID,
			"error", err,
		)
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgCreateFailed)
		return
	}

	r.timers.AddOrReplace(search)
	r.sessions.Clear(ev.UserID)
	r.logger.Infow("Alert created",
		"symbol", sym.Alert,
		"owner_id", search.OwnerID,
		"search_id", search.ID,
	)
	r.send(ev.ChatID, bus.OutboundAck, msgAlertCreated(search))
}

// ---- edit ----

func (r *Router) startEdit(ev bus.InboundEvent) {
	searches, err := r.searches.ListByOwner(ev.UserID)
	if err != nil {
		r.logger.Errorw("Failed to list alerts for edit", "user_id", ev.UserID, "error", err)
		r.send(ev.ChatID, bus.OutboundPrompt, msgUpdateFailed)
		return
	}
	if len(searches) == 0 {
		// Short-circuit: no session is created, nothing to clean up.
		r.send(ev.ChatID, bus.OutboundAck, msgNoAlertsForEdit)
		return
	}

	r.beginSession(ev, session.WorkflowEdit, session.StepAwaitingSelection)
	r.send(ev.ChatID, bus.OutboundPrompt, msgSelectForEdit(searches))
}

func (r *Router) continueEdit(sess *session.Session, ev bus.InboundEvent) {
	switch sess.Step {
	case session.StepAwaitingSelection:
		selected, invalid := r.resolveSelection(ev.UserID, ev.Text)
		if len(invalid) > 0 || len(selected) != 1 {
			validIDs := make([]string, len(selected))
			for i, s := range selected {
				validIDs[i] = shortID(s.ID)
			}
			r.failStep(sess, ev, func(left int) string {
				return msgInvalidSelection(validIDs, invalid, left)
			})
			return
		}

		next := sess.WithStep(session.StepAwaitingInput)
		next.SelectedIDs = []string{selected[0].ID}
		r.sessions.Set(ev.UserID, next)
		r.send(ev.ChatID, bus.OutboundPrompt, msgDescribeSearch)

	case session.StepAwaitingInput:
		r.parseIntoConfirmation(sess, ev, msgConfirmDraft)

	case session.StepAwaitingConfirmation:
		switch {
		case isYes(ev.Text):
			r.completeEdit(sess, ev)
		case isNo(ev.Text):
			next := sess.WithStep(session.StepAwaitingInput)
			next.Draft = nil
			r.sessions.Set(ev.UserID, next)
			r.send(ev.ChatID, bus.OutboundPrompt, msgDescribeAgain)
		default:
			r.failStep(sess, ev, func(int) string { return msgStepState(sess) })
		}

	default:
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
	}
}

func (r *Router) completeEdit(sess *session.Session, ev bus.InboundEvent) {
	if sess.Draft == nil || len(sess.SelectedIDs) != 1 {
		r.logger.Errorw("Edit confirmation without draft or selection", "user_id", ev.UserID)
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
		return
	}

	search, err := r.searches.Get(sess.SelectedIDs[0])
	if err != nil {
		r.logger.Errorw("Edited alert vanished",
			"user_id", ev.UserID,
			"search_id", sess.SelectedIDs[0],
			"error", err,
		)
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
		return
	}

	// Filters are replaced wholesale; id, owner and active flag stay.
	search.Filters = sess.Draft.Filters
	if sess.Draft.Recurrence != "" && sess.Draft.Recurrence != alert.RecurrenceNone {
		search.Recurrence = sess.Draft.Recurrence
	}

	if err := r.searches.Update(search); err != nil {
		// Transient failure: the session stays at confirmation so a
		// second "yes" retries, and the stored alert is untouched.
		r.logger.Errorw("Alert update failed",
			"user_id", ev.UserID,
			"search_id", search.ID,
			"error", err,
		)
		r.send(ev.ChatID, bus.OutboundPrompt, msgUpdateFailed)
		return
	}

	r.timers.AddOrReplace(search)
	r.sessions.Clear(ev.UserID)
	r.logger.Infow("Alert updated",
		"symbol", sym.Alert,
		"owner_id", search.OwnerID,
		"search_id", search.ID,
	)
	r.send(ev.ChatID, bus.OutboundAck, msgAlertUpdated(search))
}

// ---- delete ----

func (r *Router) startDelete(ev bus.InboundEvent) {
	searches, err := r.searches.ListByOwner(ev.UserID)
	if err != nil {
		r.logger.Errorw("Failed to list alerts for delete", "user_id", ev.UserID, "error", err)
		r.send(ev.ChatID, bus.OutboundPrompt, msgDeleteFailed)
		return
	}
	if len(searches) == 0 {
		r.send(ev.ChatID, bus.OutboundAck, msgNoAlertsForDelete)
		return
	}

	r.beginSession(ev, session.WorkflowDelete, session.StepAwaitingSelection)
	r.send(ev.ChatID, bus.OutboundPrompt, msgSelectForDelete(searches))
}

func (r *Router) continueDelete(sess *session.Session, ev bus.InboundEvent) {
	switch sess.Step {
	case session.StepAwaitingSelection:
		selected, invalid := r.resolveSelection(ev.UserID, ev.Text)
		if len(invalid) > 0 || len(selected) == 0 {
			validIDs := make([]string, len(selected))
			for i, s := range selected {
				validIDs[i] = shortID(s.ID)
			}
			r.failStep(sess, ev, func(left int) string {
				return msgInvalidSelection(validIDs, invalid, left)
			})
			return
		}

		// Ids are structured input already; delete skips the free-text
		// step and goes straight to confirmation.
		ids := make([]string, len(selected))
		for i, s := range selected {
			ids[i] = s.ID
		}
		next := sess.WithStep(session.StepAwaitingConfirmation)
		next.SelectedIDs = ids
		r.sessions.Set(ev.UserID, next)
		r.send(ev.ChatID, bus.OutboundPrompt, msgConfirmDelete(selected))

	case session.StepAwaitingConfirmation:
		switch {
		case isYes(ev.Text):
			r.completeDelete(sess, ev)
		case isNo(ev.Text):
			searches, err := r.searches.ListByOwner(ev.UserID)
			if err != nil || len(searches) == 0 {
				r.sessions.Clear(ev.UserID)
				r.send(ev.ChatID, bus.OutboundAck, msgCancelled)
				return
			}
			next := sess.WithStep(session.StepAwaitingSelection)
			next.SelectedIDs = nil
			r.sessions.Set(ev.UserID, next)
			r.send(ev.ChatID, bus.OutboundPrompt, msgSelectForDelete(searches))
		default:
			r.failStep(sess, ev, func(int) string { return msgStepState(sess) })
		}

	default:
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
	}
}

func (r *Router) completeDelete(sess *session.Session, ev bus.InboundEvent) {
	deleted := 0
	for _, id := range sess.SelectedIDs {
		if err := r.searches.Delete(id); err != nil {
			if errors.IsNotFound(err) {
				// Already gone; removing the timer below is still right.
				r.timers.Remove(id)
				continue
			}
			r.logger.Errorw("Alert deletion failed",
				"user_id", ev.UserID,
				"search_id", id,
				"error", err,
			)
			r.sessions.Clear(ev.UserID)
			r.send(ev.ChatID, bus.OutboundPrompt, msgDeleteFailed)
			return
		}
		r.timers.Remove(id)
		deleted++
	}

	r.sessions.Clear(ev.UserID)
	r.logger.Infow("Alerts deleted",
		"symbol", sym.Alert,
		"owner_id", ev.UserID,
		"count", deleted,
	)
	r.send(ev.ChatID, bus.OutboundAck, msgAlertsDeleted(deleted))
}

// ---- one-time search ----

func (r *Router) startOneTime(ev bus.InboundEvent) {
	if err := r.quota.Check(ev.UserID); err != nil {
		if errors.IsQuotaExceeded(err) {
			r.send(ev.ChatID, bus.OutboundAck, msgQuotaExceeded)
			return
		}
		r.logger.Errorw("Quota check failed", "user_id", ev.UserID, "error", err)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSearchStartFailed)
		return
	}

	r.beginSession(ev, session.WorkflowOneTime, session.StepAwaitingInput)
	r.send(ev.ChatID, bus.OutboundPrompt, msgDescribeOneTime)
}

func (r *Router) continueOneTime(sess *session.Session, ev bus.InboundEvent) {
	switch sess.Step {
	case session.StepAwaitingInput:
		r.parseIntoConfirmation(sess, ev, msgConfirmOneTime)

	case session.StepAwaitingConfirmation:
		switch {
		case isYes(ev.Text):
			r.completeOneTime(sess, ev)
		case isNo(ev.Text):
			next := sess.WithStep(session.StepAwaitingInput)
			next.Draft = nil
			r.sessions.Set(ev.UserID, next)
			r.send(ev.ChatID, bus.OutboundPrompt, msgDescribeAgain)
		default:
			r.failStep(sess, ev, func(int) string { return msgStepState(sess) })
		}

	default:
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
	}
}

func (r *Router) completeOneTime(sess *session.Session, ev bus.InboundEvent) {
	if sess.Draft == nil {
		r.logger.Errorw("One-time confirmation without a draft", "user_id", ev.UserID)
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
		return
	}

	search := &alert.SavedSearch{
		OwnerID:    ev.UserID,
		ChatID:     ev.ChatID,
		Filters:    sess.Draft.Filters,
		Recurrence: alert.RecurrenceNone,
	}

	if err := r.runner.SubmitOneTime(search); err != nil {
		r.logger.Errorw("One-time search submission failed",
			"user_id", ev.UserID,
			"error", err,
		)
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSearchStartFailed)
		return
	}

	if err := r.quota.Consume(ev.UserID); err != nil {
		// The search is already running; losing one usage record is the
		// lesser failure. Log and move on.
		r.logger.Errorw("Quota consume failed", "user_id", ev.UserID, "error", err)
	}

	r.sessions.Clear(ev.UserID)
	r.logger.Infow("One-time search started",
		"symbol", sym.Search,
		"owner_id", ev.UserID,
	)
	r.send(ev.ChatID, bus.OutboundAck, msgSearchStarted)
}

// ---- shared steps ----

// parseIntoConfirmation runs the free-text parser and moves the workflow
// to the confirmation step, or burns a retry on parse failure.
func (r *Router) parseIntoConfirmation(sess *session.Session, ev bus.InboundEvent, confirm func(*alert.Draft) string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.parseTimeout)
	defer cancel()

	draft, err := r.parser.Parse(ctx, ev.Text)
	if err != nil {
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			// Parser infrastructure trouble, not user input. One retry
			// message, no internal detail.
			r.logger.Errorw("Parser call failed", "user_id", ev.UserID, "error", err)
			parseErr = &ParseError{Message: "could not process the description"}
		}
		r.failStep(sess, ev, func(left int) string {
			return msgParseRetry(parseErr, left)
		})
		return
	}

	next := sess.WithStep(session.StepAwaitingConfirmation).WithDraft(draft)
	r.sessions.Set(ev.UserID, next)
	r.send(ev.ChatID, bus.OutboundPrompt, confirm(draft))
}

// resolveSelection matches comma-separated alert ids (full or 8+ char
// prefixes) against the owner's alerts. Foreign and unknown ids come back
// in invalid, each resolvable id in selected.
func (r *Router) resolveSelection(ownerID, input string) (selected []*alert.SavedSearch, invalid []string) {
	owned, err := r.searches.ListByOwner(ownerID)
	if err != nil {
		r.logger.Errorw("Failed to load alerts for selection", "owner_id", ownerID, "error", err)
		return nil, []string{strings.TrimSpace(input)}
	}

	seen := make(map[string]bool)
	for _, token := range strings.Split(input, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		match := matchSearch(owned, token)
		if match == nil {
			invalid = append(invalid, token)
			continue
		}
		if !seen[match.ID] {
			seen[match.ID] = true
			selected = append(selected, match)
		}
	}
	return selected, invalid
}

// matchSearch resolves a token to exactly one owned search: an exact id
// match, or an unambiguous prefix of at least 8 characters.
func matchSearch(owned []*alert.SavedSearch, token string) *alert.SavedSearch {
	token = strings.ToLower(token)
	var prefixMatch *alert.SavedSearch
	for _, s := range owned {
		id := strings.ToLower(s.ID)
		if id == token {
			return s
		}
		if len(token) >= 8 && strings.HasPrefix(id, token) {
			if prefixMatch != nil {
				return nil // ambiguous
			}
			prefixMatch = s
		}
	}
	return prefixMatch
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
