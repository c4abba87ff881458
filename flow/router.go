package flow

import (
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/quota"
	"github.com/mmazurovsky/jobs-alerts-sub001/session"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// DefaultLanes is how many per-user-ordered processing lanes the router
// runs. Events for one user always land on the same lane, so one user's
// conversation is strictly sequential while different users proceed in
// parallel.
const DefaultLanes = 8

// DefaultParseTimeout bounds one call to the free-text parser.
const DefaultParseTimeout = 30 * time.Second

// Router is the single inbound-bus subscriber. It shards events onto
// lanes by user id and drives the workflow state machines.
type Router struct {
	sessions *session.Store
	searches *alert.SearchStore
	timers   Timers
	runner   Submitter
	parser   Parser
	quota    quota.Quota
	outbound *bus.Bus[bus.OutboundEvent]
	inbound  *bus.Bus[bus.InboundEvent]
	logger   *zap.SugaredLogger

	parseTimeout time.Duration
	lanes        []chan bus.InboundEvent
	laneWG       sync.WaitGroup
	sub          *bus.Subscription[bus.InboundEvent]
	done         chan struct{}
	stopOnce     sync.Once
}

// NewRouter wires the workflow router. laneCount <= 0 falls back to
// DefaultLanes.
func NewRouter(
	sessions *session.Store,
	searches *alert.SearchStore,
	timers Timers,
	runner Submitter,
	parser Parser,
	quotaTracker quota.Quota,
	inbound *bus.Bus[bus.InboundEvent],
	outbound *bus.Bus[bus.OutboundEvent],
	laneCount int,
	log *zap.SugaredLogger,
) *Router {
	if laneCount <= 0 {
		laneCount = DefaultLanes
	}

	lanes := make([]chan bus.InboundEvent, laneCount)
	for i := range lanes {
		lanes[i] = make(chan bus.InboundEvent, 64)
	}

	return &Router{
		sessions:     sessions,
		searches:     searches,
		timers:       timers,
		runner:       runner,
		parser:       parser,
		quota:        quotaTracker,
		outbound:     outbound,
		inbound:      inbound,
		logger:       log.Named("flow"),
		parseTimeout: DefaultParseTimeout,
		lanes:        lanes,
		done:         make(chan struct{}),
	}
}

// Start launches the lanes and subscribes to the inbound bus.
func (r *Router) Start() {
	for i, lane := range r.lanes {
		r.laneWG.Add(1)
		go r.runLane(i, lane)
	}

	r.sub = r.inbound.Subscribe("flow-router", nil, func(ev bus.InboundEvent) error {
		// Blocking send keeps per-user ordering; the bus buffer above us
		// absorbs bursts.
		select {
		case r.lanes[r.laneFor(ev.UserID)] <- ev:
		case <-r.done:
		}
		return nil
	})

	r.logger.Infow("Workflow router started",
		"symbol", sym.Flow,
		"lanes", len(r.lanes),
	)
}

// Stop unsubscribes and drains the lanes.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		if r.sub != nil {
			r.inbound.Unsubscribe(r.sub)
		}
		close(r.done)
		r.laneWG.Wait()
		r.logger.Infow("Workflow router stopped", "symbol", sym.Flow)
	})
}

func (r *Router) laneFor(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(r.lanes)))
}

func (r *Router) runLane(n int, lane chan bus.InboundEvent) {
	defer r.laneWG.Done()

	for {
		select {
		case <-r.done:
			return
		case ev := <-lane:
			r.handleEvent(ev)
		}
	}
}

// handleEvent dispatches one inbound event. A panic here is an invariant
// violation: it is logged with full context and kills only this event,
// never the lane or other users' conversations.
func (r *Router) handleEvent(ev bus.InboundEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorw("Event handling panicked",
				"user_id", ev.UserID,
				"kind", string(ev.Kind),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if ev.Kind == bus.InboundCommand {
		r.handleCommand(ev)
		return
	}
	r.handleMessage(ev)
}

func (r *Router) handleCommand(ev bus.InboundEvent) {
	r.logger.Debugw("Command received",
		"user_id", ev.UserID,
		"command", ev.Command,
	)

	switch ev.Command {
	case CmdStart, CmdHelp:
		r.send(ev.ChatID, bus.OutboundPrompt, msgWelcome)
	case CmdCancel:
		r.cancelWorkflow(ev)
	case CmdCreateAlert:
		r.startCreate(ev)
	case CmdEditAlert:
		r.startEdit(ev)
	case CmdDeleteAlert:
		r.startDelete(ev)
	case CmdSearchNow:
		r.startOneTime(ev)
	case CmdMyAlerts:
		r.listAlerts(ev)
	default:
		r.send(ev.ChatID, bus.OutboundPrompt, msgUnknownCommand)
	}
}

func (r *Router) handleMessage(ev bus.InboundEvent) {
	sess, ok := r.sessions.Get(ev.UserID)
	if !ok || sess.Workflow == session.WorkflowNone {
		r.send(ev.ChatID, bus.OutboundPrompt, msgNoWorkflow)
		return
	}

	switch sess.Workflow {
	case session.WorkflowCreate:
		r.continueCreate(sess, ev)
	case session.WorkflowEdit:
		r.continueEdit(sess, ev)
	case session.WorkflowDelete:
		r.continueDelete(sess, ev)
	case session.WorkflowOneTime:
		r.continueOneTime(sess, ev)
	default:
		// Session names a workflow this router does not know. Treat as an
		// invariant violation scoped to this one event.
		r.logger.Errorw("Session holds unknown workflow",
			"user_id", ev.UserID,
			"workflow", string(sess.Workflow),
		)
		r.sessions.Clear(ev.UserID)
		r.send(ev.ChatID, bus.OutboundPrompt, msgSessionRestart)
	}
}

func (r *Router) cancelWorkflow(ev bus.InboundEvent) {
	sess, ok := r.sessions.Get(ev.UserID)
	if !ok || sess.Workflow == session.WorkflowNone {
		r.send(ev.ChatID, bus.OutboundAck, msgNothingToCancel)
		return
	}

	r.sessions.Clear(ev.UserID)
	r.logger.Infow("Workflow cancelled by user",
		"symbol", sym.Flow,
		"user_id", ev.UserID,
		"workflow", string(sess.Workflow),
	)
	r.send(ev.ChatID, bus.OutboundAck, msgCancelled)
}

func (r *Router) listAlerts(ev bus.InboundEvent) {
	searches, err := r.searches.ListByOwner(ev.UserID)
	if err != nil {
		r.logger.Errorw("Failed to list alerts", "user_id", ev.UserID, "error", err)
		r.send(ev.ChatID, bus.OutboundPrompt, msgCreateFailed)
		return
	}
	if len(searches) == 0 {
		r.send(ev.ChatID, bus.OutboundPrompt, msgNoAlerts)
		return
	}
	r.send(ev.ChatID, bus.OutboundPrompt, msgAlertList("Your alerts:", searches))
}

// send publishes one outbound event. Bus saturation is logged, not
// retried; the transport layer owns delivery persistence.
func (r *Router) send(chatID string, kind bus.OutboundKind, message string) {
	err := r.outbound.Publish(bus.OutboundEvent{
		Kind:    kind,
		ChatID:  chatID,
		Message: message,
		Source:  "flow",
		At:      time.Now(),
	})
	if err != nil {
		r.logger.Warnw("Failed to publish outbound event",
			"chat_id", chatID,
			"error", err,
		)
	}
}

// beginSession installs a fresh session for a workflow, remembering any
// workflow it displaced.
func (r *Router) beginSession(ev bus.InboundEvent, workflow session.Workflow, step session.Step) *session.Session {
	prev := session.WorkflowNone
	if old, ok := r.sessions.Get(ev.UserID); ok {
		prev = old.Workflow
	}

	sess := &session.Session{
		UserID:       ev.UserID,
		ChatID:       ev.ChatID,
		Workflow:     workflow,
		PrevWorkflow: prev,
		Step:         step,
		LastActivity: time.Now(),
	}
	r.sessions.Set(ev.UserID, sess)
	return sess
}

// failStep increments the retry counter and either re-prompts or, once
// the bound is hit, force-cancels the workflow. Returns the updated
// session, or nil when the workflow was cancelled.
func (r *Router) failStep(sess *session.Session, ev bus.InboundEvent, retryMessage func(attemptsLeft int) string) *session.Session {
	next := sess.WithRetry()
	if next.Retries >= session.MaxRetries {
		r.sessions.Clear(ev.UserID)
		r.logger.Infow("Workflow cancelled after max attempts",
			"symbol", sym.Flow,
			"user_id", ev.UserID,
			"workflow", string(sess.Workflow),
		)
		r.send(ev.ChatID, bus.OutboundAck, msgMaxAttempts)
		return nil
	}

	r.sessions.Set(ev.UserID, next)
	r.send(ev.ChatID, bus.OutboundPrompt, retryMessage(session.MaxRetries-next.Retries))
	return next
}
