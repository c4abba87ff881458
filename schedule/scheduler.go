// Package schedule guarantees one live timer per active saved search.
// The timer set is derived state: the repository is the sole source of
// truth, and Start rebuilds every timer from it.
package schedule

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// Runner receives a saved search when its timer fires. Implemented by the
// pipeline; an interface here keeps schedule free of pipeline internals
// and lets tests substitute a recorder.
type Runner interface {
	SubmitScheduled(search *alert.SavedSearch) error
}

// entry is one installed timer. Owned exclusively by the scheduler under
// its mutex.
type entry struct {
	search   *alert.SavedSearch
	timer    *time.Timer
	nextFire time.Time
}

// Scheduler maintains the id → timer mapping for all active saved
// searches and reschedules each search after every fire.
type Scheduler struct {
	searches *alert.SearchStore
	runner   Runner
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
	wg      sync.WaitGroup

	// intervalFor computes the gap between fires from the recurrence.
	// Tests shrink it to milliseconds.
	intervalFor func(alert.Recurrence) time.Duration
}

// NewScheduler creates a scheduler. Call Start to rebuild timers from the
// repository.
func NewScheduler(searches *alert.SearchStore, runner Runner, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		searches:    searches,
		runner:      runner,
		logger:      log.Named("schedule"),
		entries:     make(map[string]*entry),
		intervalFor: alert.Recurrence.Interval,
	}
}

// Start loads every active saved search and installs its timer. Safe
// restart depends on this: runtime timer state is always reconstructable
// from durable rows.
func (s *Scheduler) Start() error {
	searches, err := s.searches.ListActive()
	if err != nil {
		return errors.Wrap(err, "load active searches for scheduling")
	}

	for _, search := range searches {
		s.AddOrReplace(search)
	}

	s.logger.Infow("Scheduler started",
		"symbol", sym.Clock,
		"active_alerts", len(searches),
	)
	return nil
}

// AddOrReplace installs the timer for a saved search, cancelling any
// previous timer for the same id first. Idempotent. Inactive searches and
// one-time recurrences install no timer; any existing one is removed.
func (s *Scheduler) AddOrReplace(search *alert.SavedSearch) {
	interval := s.intervalFor(search.Recurrence)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if existing, ok := s.entries[search.ID]; ok {
		existing.timer.Stop()
		delete(s.entries, search.ID)
	}

	if !search.Active || interval <= 0 {
		return
	}

	s.installLocked(search, interval)
}

// Remove cancels the timer for an id if one exists. A fire already in
// flight completes; the pipeline's existence re-check discards its result.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[id]; ok {
		existing.timer.Stop()
		delete(s.entries, id)
		s.logger.Debugw("Timer removed", "search_id", id)
	}
}

// Active returns the id → next-fire mapping for health checks and tests.
func (s *Scheduler) Active() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]time.Time, len(s.entries))
	for id, e := range s.entries {
		active[id] = e.nextFire
	}
	return active
}

// Count returns the number of live timers.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every timer and waits for in-flight fires to hand off to
// the runner. No new timers can be installed afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Infow("Scheduler stopped", "symbol", sym.Clock)
}

// installLocked creates the timer entry. Caller holds s.mu.
func (s *Scheduler) installLocked(search *alert.SavedSearch, interval time.Duration) {
	e := &entry{
		search:   search,
		nextFire: time.Now().Add(interval),
	}
	e.timer = time.AfterFunc(interval, func() {
		s.fire(search.ID)
	})
	s.entries[search.ID] = e

	s.logger.Debugw("Timer installed",
		"search_id", search.ID,
		"recurrence", string(search.Recurrence),
		"next_run_at", e.nextFire.Format(time.RFC3339),
	)
}

// fire hands the search to the runner and immediately reschedules, so a
// slow or failing run never delays this or any other alert's next fire.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	e, ok := s.entries[id]
	if !ok {
		// Removed between fire and lock acquisition.
		s.mu.Unlock()
		return
	}
	search := e.search

	// Reschedule before submitting: the next fire must not depend on the
	// outcome of this run.
	interval := s.intervalFor(search.Recurrence)
	s.installLocked(search, interval)

	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.runner.SubmitScheduled(search); err != nil {
			// The timer stays intact; the next cycle gets a fresh chance.
			s.logger.Errorw("Scheduled run submission failed",
				"symbol", sym.Clock,
				"search_id", search.ID,
				"error", err,
			)
		}
	}()
}
