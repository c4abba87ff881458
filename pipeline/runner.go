// Package pipeline executes saved searches: scrape, dedup against the
// delivered-item ledger, notify, record. Runs are independent units of
// work over a worker pool so one slow scrape never delays another alert.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/ledger"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// MaxScrapeRetries is how many times a retryable scrape failure is retried
// before the run is marked failed.
const MaxScrapeRetries = 2

// DefaultScrapeTimeout bounds one call to the scraping engine.
const DefaultScrapeTimeout = 3 * time.Minute

// Scraper is the external scraping collaborator.
type Scraper interface {
	Search(ctx context.Context, filters alert.Filters) ([]alert.Posting, error)
}

// Broadcaster receives execution lifecycle notices for the operator
// console. Optional; a nil broadcaster disables notices. This mirrors the
// schedule/server decoupling: the interface lives with the producer.
type Broadcaster interface {
	ExecutionStarted(executionID, searchID string)
	ExecutionCompleted(executionID, searchID string, postingsNew int)
	ExecutionFailed(executionID, searchID, errorMsg string)
}

// Request is one unit of pipeline work.
type Request struct {
	Search  *alert.SavedSearch
	Trigger Trigger
}

// Config tunes the runner.
type Config struct {
	Workers       int
	QueueSize     int
	ScrapeTimeout time.Duration
	RetryBackoff  time.Duration // base backoff between scrape retries
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		QueueSize:     64,
		ScrapeTimeout: DefaultScrapeTimeout,
		RetryBackoff:  5 * time.Second,
	}
}

// Runner owns the execution worker pool.
type Runner struct {
	scraper     Scraper
	searches    *alert.SearchStore
	ledger      *ledger.Store
	executions  *ExecutionStore
	outbound    *bus.Bus[bus.OutboundEvent]
	broadcaster Broadcaster
	cfg         Config
	logger      *zap.SugaredLogger

	queue  chan Request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a pipeline runner. broadcaster may be nil.
func NewRunner(
	scraper Scraper,
	searches *alert.SearchStore,
	ledgerStore *ledger.Store,
	executions *ExecutionStore,
	outbound *bus.Bus[bus.OutboundEvent],
	broadcaster Broadcaster,
	cfg Config,
	log *zap.SugaredLogger,
) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = DefaultScrapeTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		scraper:     scraper,
		searches:    searches,
		ledger:      ledgerStore,
		executions:  executions,
		outbound:    outbound,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      log.Named("pipeline"),
		queue:       make(chan Request, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetBroadcaster installs the execution notice sink. Call before Start;
// the ops server is constructed after the runner it reports on.
func (r *Runner) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

// Start launches the worker pool.
func (r *Runner) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Infow("Pipeline started",
		"symbol", sym.Search,
		"workers", r.cfg.Workers,
	)
}

// Stop drains in-flight executions and shuts the pool down. Queued but
// unstarted requests are dropped; scheduled searches get a fresh run on
// the next timer fire after restart.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Infow("Pipeline stopped", "symbol", sym.Search)
}

// Submit enqueues a run without blocking. A full queue is surfaced as an
// error rather than stalling the caller.
func (r *Runner) Submit(req Request) error {
	if req.Search == nil {
		return errors.New("pipeline request requires a search")
	}
	select {
	case r.queue <- req:
		return nil
	default:
		return errors.Wrap(errors.ErrBusSaturated, "pipeline queue full")
	}
}

// SubmitScheduled satisfies the scheduler's Runner contract.
func (r *Runner) SubmitScheduled(search *alert.SavedSearch) error {
	return r.Submit(Request{Search: search, Trigger: TriggerSchedule})
}

// SubmitOneTime enqueues an ad-hoc run for a search that is not persisted.
func (r *Runner) SubmitOneTime(search *alert.SavedSearch) error {
	return r.Submit(Request{Search: search, Trigger: TriggerManual})
}

func (r *Runner) worker(n int) {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case req := <-r.queue:
			r.execute(req)
		}
	}
}

// execute runs one search end to end. Failures are contained here: they
// are logged and recorded in history, never propagated to other runs.
func (r *Runner) execute(req Request) {
	search := req.Search
	exec := NewExecution(persistedID(search, req.Trigger), search.OwnerID, req.Trigger)

	runLog := r.logger.With(
		"execution_id", exec.ID,
		"search_id", search.ID,
		"owner_id", search.OwnerID,
		"trigger", string(req.Trigger),
	)
	runLog.Infow(sym.RunOpen+" Run started", "query", search.Filters.Query)

	if err := r.executions.Create(exec); err != nil {
		// History is diagnostics, not correctness. Keep going.
		runLog.Errorw("Failed to create execution record", "error", err)
	}
	if r.broadcaster != nil {
		r.broadcaster.ExecutionStarted(exec.ID, search.ID)
	}

	postings, err := r.scrapeWithRetry(search.Filters, runLog)
	if err != nil {
		r.finish(exec, StatusFailed, err, runLog)
		return
	}
	exec.PostingsFound = len(postings)

	newCount, err := r.deliver(search, req.Trigger, postings, runLog)
	if err != nil {
		if errors.IsNotFound(err) {
			// Search deleted or paused mid-flight: discard, don't fail.
			r.finish(exec, StatusDiscarded, nil, runLog)
			return
		}
		r.finish(exec, StatusFailed, err, runLog)
		return
	}

	exec.PostingsNew = newCount
	r.finish(exec, StatusCompleted, nil, runLog)
}

// IngestResults runs the dedup/notify/record stages for results reported
// out-of-band by an asynchronous scraper (webhook path). Returns the
// number of postings actually delivered.
func (r *Runner) IngestResults(searchID, ownerID string, postings []alert.Posting) (int, error) {
	search, err := r.searches.Get(searchID)
	if err != nil {
		return 0, err
	}
	if search.OwnerID != ownerID {
		return 0, errors.NewInvalidInputf("search %s does not belong to owner %s", searchID, ownerID)
	}

	exec := NewExecution(searchID, ownerID, TriggerWebhook)
	exec.PostingsFound = len(postings)
	runLog := r.logger.With(
		"execution_id", exec.ID,
		"search_id", searchID,
		"owner_id", ownerID,
		"trigger", string(TriggerWebhook),
	)
	if err := r.executions.Create(exec); err != nil {
		runLog.Errorw("Failed to create execution record", "error", err)
	}

	newCount, err := r.deliver(search, TriggerWebhook, postings, runLog)
	if err != nil {
		if errors.IsNotFound(err) {
			r.finish(exec, StatusDiscarded, nil, runLog)
			return 0, nil
		}
		r.finish(exec, StatusFailed, err, runLog)
		return 0, err
	}

	exec.PostingsNew = newCount
	r.finish(exec, StatusCompleted, nil, runLog)
	return newCount, nil
}

// deliver runs stages 3-6: re-check, dedup, notify, record. Returns
// ErrNotFound (wrapped) when the search vanished or was paused mid-flight.
func (r *Runner) deliver(search *alert.SavedSearch, trigger Trigger, postings []alert.Posting, runLog *zap.SugaredLogger) (int, error) {
	// One-time runs own no persisted search; everything else re-checks so
	// a mid-flight delete discards results instead of delivering them.
	if trigger != TriggerManual {
		current, err := r.searches.Get(search.ID)
		if err != nil {
			return 0, err
		}
		if !current.Active {
			return 0, errors.NewNotFoundf("search %s paused mid-flight", search.ID)
		}
	}

	fresh := make([]alert.Posting, 0, len(postings))
	keys := make([]string, 0, len(postings))
	for _, posting := range postings {
		key := ledger.PostingKey(posting.Link)
		delivered, err := r.ledger.IsDelivered(search.OwnerID, key)
		if err != nil {
			return 0, errors.Wrap(err, "ledger lookup")
		}
		if delivered {
			continue
		}
		fresh = append(fresh, posting)
		keys = append(keys, key)
	}

	// Silence is the expected outcome for "nothing new".
	if len(fresh) == 0 {
		runLog.Infow(sym.RunClose+" Run complete, nothing new", "postings_found", len(postings))
		return 0, nil
	}

	event := bus.OutboundEvent{
		Kind:    bus.OutboundNotification,
		ChatID:  search.ChatID,
		Message: FormatNotification(search, fresh),
		Source:  "pipeline",
		At:      time.Now(),
	}
	if err := r.outbound.Publish(event); err != nil {
		return 0, errors.Wrap(err, "publish notification")
	}

	// Notify-then-record: a crash between the publish above and the loop
	// below can duplicate a notification on restart. At-least-once is the
	// accepted tradeoff; record-then-notify would silently drop instead.
	for _, key := range keys {
		if err := r.ledger.MarkDelivered(search.OwnerID, key); err != nil {
			return 0, errors.Wrap(err, "record delivered item")
		}
	}

	runLog.Infow(sym.RunClose+" Run complete",
		"postings_found", len(postings),
		"postings_new", len(fresh),
	)
	return len(fresh), nil
}

// scrapeWithRetry calls the scraper with a per-call deadline, retrying
// transient failures up to MaxScrapeRetries with exponential backoff.
func (r *Runner) scrapeWithRetry(filters alert.Filters, runLog *zap.SugaredLogger) ([]alert.Posting, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxScrapeRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.RetryBackoff << (attempt - 1)
			runLog.Warnw("Retrying scrape",
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-r.ctx.Done():
				return nil, errors.Wrap(r.ctx.Err(), "pipeline shutting down")
			case <-time.After(backoff):
			}
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.ScrapeTimeout)
		postings, err := r.scraper.Search(ctx, filters)
		cancel()
		if err == nil {
			return postings, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrap(errors.ErrTimeout, "scrape exceeded deadline")
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			break
		}
	}
	return nil, errors.Wrap(lastErr, "scrape failed")
}

func (r *Runner) finish(exec *Execution, status Status, cause error, runLog *zap.SugaredLogger) {
	now := time.Now().UTC()
	duration := int(now.Sub(exec.StartedAt).Milliseconds())
	exec.Status = status
	exec.CompletedAt = &now
	exec.DurationMs = &duration
	if cause != nil {
		msg := cause.Error()
		exec.ErrorMessage = &msg
	}

	if err := r.executions.Update(exec); err != nil {
		runLog.Errorw("Failed to update execution record", "error", err)
	}

	switch status {
	case StatusFailed:
		runLog.Errorw(sym.RunClose+" Run failed",
			"duration_ms", duration,
			"error", cause,
		)
		if r.broadcaster != nil {
			r.broadcaster.ExecutionFailed(exec.ID, exec.SearchID, cause.Error())
		}
	case StatusDiscarded:
		runLog.Infow(sym.RunClose+" Run discarded, search gone mid-flight",
			"duration_ms", duration,
		)
		if r.broadcaster != nil {
			r.broadcaster.ExecutionCompleted(exec.ID, exec.SearchID, 0)
		}
	default:
		if r.broadcaster != nil {
			r.broadcaster.ExecutionCompleted(exec.ID, exec.SearchID, exec.PostingsNew)
		}
	}
}

// persistedID returns the search id to record on the execution: one-time
// searches are never persisted, so their runs carry no search id.
func persistedID(search *alert.SavedSearch, trigger Trigger) string {
	if trigger == TriggerManual {
		return ""
	}
	return search.ID
}
