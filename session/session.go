// Package session tracks per-user conversational workflow state. Sessions
// are ephemeral by design: they live in memory, expire after an idle
// timeout, and are rebuilt from nothing when the user starts over.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
)

// Workflow identifies which multi-step operation a session is driving.
type Workflow string

const (
	WorkflowNone    Workflow = ""
	WorkflowCreate  Workflow = "create"
	WorkflowEdit    Workflow = "edit"
	WorkflowDelete  Workflow = "delete"
	WorkflowOneTime Workflow = "one_time_search"
)

// Step is the current position inside a workflow's state machine.
type Step string

const (
	StepNone                 Step = ""
	StepAwaitingSelection    Step = "awaiting_selection"
	StepAwaitingInput        Step = "awaiting_input"
	StepAwaitingConfirmation Step = "awaiting_confirmation"
)

// MaxRetries bounds how often a user may fail one workflow step before
// the workflow is force-cancelled.
const MaxRetries = 3

// DefaultIdleTimeout is how long a session survives without events.
const DefaultIdleTimeout = 30 * time.Minute

// Session is the immutable per-user workflow state. Transitions replace
// the whole value through the store; nothing mutates a stored session in
// place.
type Session struct {
	UserID       string
	ChatID       string
	Workflow     Workflow
	PrevWorkflow Workflow
	Step         Step
	SelectedIDs  []string // alert ids chosen in the edit/delete selection step
	Draft        *alert.Draft
	Retries      int
	LastActivity time.Time
}

// WithStep returns a copy of the session at a new step with the retry
// counter reset, per the one-counter-per-step rule.
func (s *Session) WithStep(step Step) *Session {
	next := *s
	next.Step = step
	next.Retries = 0
	next.LastActivity = time.Now()
	return &next
}

// WithRetry returns a copy with the retry counter incremented.
func (s *Session) WithRetry() *Session {
	next := *s
	next.Retries++
	next.LastActivity = time.Now()
	return &next
}

// WithDraft returns a copy holding the parsed draft.
func (s *Session) WithDraft(draft *alert.Draft) *Session {
	next := *s
	next.Draft = draft
	next.LastActivity = time.Now()
	return &next
}

// Store is a concurrency-safe keyed store of sessions with idle expiry.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	logger      *zap.SugaredLogger

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewStore creates a session store. A non-positive idleTimeout falls back
// to DefaultIdleTimeout.
func NewStore(idleTimeout time.Duration, logger *zap.SugaredLogger) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Store{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		logger:      logger,
		janitorStop: make(chan struct{}),
	}
}

// Get returns the user's session. Sessions idle past the timeout are
// discarded on read and reported as absent, so a stale workflow can never
// resume.
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Since(sess.LastActivity) > s.idleTimeout {
		s.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the session in the meantime.
		if cur, still := s.sessions[userID]; still && cur == sess {
			delete(s.sessions, userID)
			s.logger.Debugw("Session expired on read",
				"user_id", userID,
				"workflow", string(sess.Workflow),
			)
		}
		s.mu.Unlock()
		return nil, false
	}

	return sess, true
}

// Set replaces the user's session wholesale.
func (s *Store) Set(userID string, sess *Session) {
	s.mu.Lock()
	s.sessions[userID] = sess
	s.mu.Unlock()
}

// Clear removes the user's session.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// Count returns the number of live (unexpired) sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if time.Since(sess.LastActivity) <= s.idleTimeout {
			count++
		}
	}
	return count
}

// StartJanitor begins a background sweep of expired sessions so Count
// stays honest even for users who never return. Stop with StopJanitor.
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.janitorStop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// StopJanitor stops the background sweep. Safe to call more than once.
func (s *Store) StopJanitor() {
	s.janitorOnce.Do(func() {
		close(s.janitorStop)
	})
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for userID, sess := range s.sessions {
		if time.Since(sess.LastActivity) > s.idleTimeout {
			delete(s.sessions, userID)
			swept++
		}
	}
	if swept > 0 {
		s.logger.Debugw("Swept expired sessions", "count", swept)
	}
}
