package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	enginetest "github.com/mmazurovsky/jobs-alerts-sub001/internal/testing"
	"github.com/mmazurovsky/jobs-alerts-sub001/ledger"
	"github.com/mmazurovsky/jobs-alerts-sub001/pipeline"
)

// fakeScraper returns queued responses in order, repeating the last one.
type fakeScraper struct {
	mu        sync.Mutex
	responses []scrapeResponse
	calls     int
}

type scrapeResponse struct {
	postings []alert.Posting
	err      error
}

func (f *fakeScraper) Search(ctx context.Context, filters alert.Filters) ([]alert.Posting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp.postings, resp.err
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// outboundSink collects published notification events.
type outboundSink struct {
	mu     sync.Mutex
	events []bus.OutboundEvent
}

func (o *outboundSink) attach(t *testing.T, b *bus.Bus[bus.OutboundEvent]) {
	t.Helper()
	b.Subscribe("test-sink", nil, func(ev bus.OutboundEvent) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.events = append(o.events, ev)
		return nil
	})
}

func (o *outboundSink) snapshot() []bus.OutboundEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]bus.OutboundEvent, len(o.events))
	copy(out, o.events)
	return out
}

type runnerFixture struct {
	runner   *pipeline.Runner
	searches *alert.SearchStore
	ledger   *ledger.Store
	execs    *pipeline.ExecutionStore
	sink     *outboundSink
}

// newBareFixture creates the stores without a runner, for tests whose
// scraper needs access to the stores before the runner starts.
func newBareFixture(t *testing.T) *runnerFixture {
	t.Helper()
	db := enginetest.CreateTestDB(t)
	return &runnerFixture{
		searches: alert.NewSearchStore(db),
		ledger:   ledger.NewStore(db),
		execs:    pipeline.NewExecutionStore(db),
	}
}

func newRunnerFixture(t *testing.T, scraper pipeline.Scraper) *runnerFixture {
	t.Helper()
	db := enginetest.CreateTestDB(t)

	f := &runnerFixture{
		searches: alert.NewSearchStore(db),
		ledger:   ledger.NewStore(db),
		execs:    pipeline.NewExecutionStore(db),
	}
	f.startRunner(t, scraper)
	return f
}

// startRunner builds a runner over the fixture's stores with a fresh
// outbound sink. Used directly by tests whose scraper needs the stores.
func (f *runnerFixture) startRunner(t *testing.T, scraper pipeline.Scraper) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	outbound := bus.New[bus.OutboundEvent](log)
	t.Cleanup(outbound.Close)
	f.sink = &outboundSink{}
	f.sink.attach(t, outbound)

	f.runner = pipeline.NewRunner(scraper, f.searches, f.ledger, f.execs, outbound, nil, pipeline.Config{
		Workers:       1,
		QueueSize:     8,
		ScrapeTimeout: time.Second,
		RetryBackoff:  time.Millisecond,
	}, log)
	f.runner.Start()
	t.Cleanup(f.runner.Stop)
}

func (f *runnerFixture) createSearch(t *testing.T) *alert.SavedSearch {
	t.Helper()
	search := &alert.SavedSearch{
		OwnerID:    "user-1",
		ChatID:     "chat-1",
		Filters:    alert.Filters{Query: "golang developer"},
		Recurrence: alert.RecurrenceDaily,
		Active:     true,
	}
	require.NoError(t, f.searches.Create(search))
	return search
}

func (f *runnerFixture) waitForExecutions(t *testing.T, searchID string, n int) []*pipeline.Execution {
	t.Helper()
	var execs []*pipeline.Execution
	require.Eventually(t, func() bool {
		var err error
		execs, err = f.execs.ListForSearch(searchID, 10)
		if err != nil {
			return false
		}
		for _, e := range execs {
			if e.Status == pipeline.StatusRunning {
				return false
			}
		}
		return len(execs) >= n
	}, 3*time.Second, 10*time.Millisecond)
	return execs
}

func posting(link string) alert.Posting {
	return alert.Posting{
		Title:   "Backend Engineer",
		Company: "Acme",
		Link:    link,
	}
}

func TestRunner_DeliversNewPostings(t *testing.T) {
	scraper := &fakeScraper{responses: []scrapeResponse{
		{postings: []alert.Posting{posting("https://example.com/jobs/1"), posting("https://example.com/jobs/2")}},
	}}
	f := newRunnerFixture(t, scraper)
	search := f.createSearch(t)

	require.NoError(t, f.runner.SubmitScheduled(search))

	execs := f.waitForExecutions(t, search.ID, 1)
	assert.Equal(t, pipeline.StatusCompleted, execs[0].Status)
	assert.Equal(t, 2, execs[0].PostingsFound)
	assert.Equal(t, 2, execs[0].PostingsNew)

	events := f.sink.snapshot()
	require.Len(t, events, 1, "one run produces exactly one outbound event")
	assert.Equal(t, bus.OutboundNotification, events[0].Kind)
	assert.Equal(t, "chat-1", events[0].ChatID)
	assert.Contains(t, events[0].Message, "2 new posting")
}

func TestRunner_DedupSilencesRepeatRuns(t *testing.T) {
	same := []alert.Posting{posting("https://example.com/jobs/1")}
	scraper := &fakeScraper{responses: []scrapeResponse{{postings: same}}}
	f := newRunnerFixture(t, scraper)
	search := f.createSearch(t)

	require.NoError(t, f.runner.SubmitScheduled(search))
	f.waitForExecutions(t, search.ID, 1)

	require.NoError(t, f.runner.SubmitScheduled(search))
	execs := f.waitForExecutions(t, search.ID, 2)

	for _, e := range execs {
		assert.Equal(t, pipeline.StatusCompleted, e.Status)
	}
	assert.Len(t, f.sink.snapshot(), 1, "nothing new means no notification")
}

func TestRunner_PartialOverlapDeliversOnlyFresh(t *testing.T) {
	first := []alert.Posting{
		posting("https://example.com/jobs/1"),
		posting("https://example.com/jobs/2"),
	}
	second := []alert.Posting{
		posting("https://example.com/jobs/1"),
		posting("https://example.com/jobs/2"),
		posting("https://example.com/jobs/3"),
		posting("https://example.com/jobs/4"),
		posting("https://example.com/jobs/5"),
	}
	scraper := &fakeScraper{responses: []scrapeResponse{{postings: first}, {postings: second}}}
	f := newRunnerFixture(t, scraper)
	search := f.createSearch(t)

	require.NoError(t, f.runner.SubmitScheduled(search))
	f.waitForExecutions(t, search.ID, 1)

	require.NoError(t, f.runner.SubmitScheduled(search))
	execs := f.waitForExecutions(t, search.ID, 2)

	events := f.sink.snapshot()
	require.Len(t, events, 2, "one notification per productive run")
	assert.Contains(t, events[1].Message, "3 new postings")
	assert.NotContains(t, events[1].Message, "jobs/1")
	assert.Contains(t, events[1].Message, "jobs/3")

	total, err := f.ledger.CountForOwner("user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, total, "ledger grows by exactly the fresh postings")

	for _, e := range execs {
		assert.Equal(t, pipeline.StatusCompleted, e.Status)
	}
}

func TestRunner_MidFlightDeleteDiscardsResults(t *testing.T) {
	f := newBareFixture(t)
	search := f.createSearch(t)

	// The scraper deletes the search while the run is in flight, so the
	// delivery-time existence re-check sees it gone.
	inner := &fakeScraper{responses: []scrapeResponse{
		{postings: []alert.Posting{posting("https://example.com/jobs/1")}},
	}}
	f.startRunner(t, &deletingScraper{inner: inner, searches: f.searches, searchID: search.ID})

	require.NoError(t, f.runner.SubmitScheduled(search))

	execs := f.waitForExecutions(t, search.ID, 1)
	assert.Equal(t, pipeline.StatusDiscarded, execs[0].Status)
	assert.Empty(t, f.sink.snapshot(), "discarded runs must not notify")
}

// deletingScraper removes the search row mid-scrape to exercise the
// delivery-time existence re-check.
type deletingScraper struct {
	inner    *fakeScraper
	searches *alert.SearchStore
	searchID string
	once     sync.Once
}

func (d *deletingScraper) Search(ctx context.Context, filters alert.Filters) ([]alert.Posting, error) {
	d.once.Do(func() {
		_ = d.searches.Delete(d.searchID)
	})
	return d.inner.Search(ctx, filters)
}

func TestRunner_PausedSearchDiscardsResults(t *testing.T) {
	f := newBareFixture(t)
	search := f.createSearch(t)

	inner := &fakeScraper{responses: []scrapeResponse{
		{postings: []alert.Posting{posting("https://example.com/jobs/1")}},
	}}
	f.startRunner(t, &pausingScraper{inner: inner, searches: f.searches, searchID: search.ID})

	require.NoError(t, f.runner.SubmitScheduled(search))

	execs := f.waitForExecutions(t, search.ID, 1)
	assert.Equal(t, pipeline.StatusDiscarded, execs[0].Status)
	assert.Empty(t, f.sink.snapshot())
}

type pausingScraper struct {
	inner    *fakeScraper
	searches *alert.SearchStore
	searchID string
	once     sync.Once
}

func (p *pausingScraper) Search(ctx context.Context, filters alert.Filters) ([]alert.Posting, error) {
	p.once.Do(func() {
		_ = p.searches.SetActive(p.searchID, false)
	})
	return p.inner.Search(ctx, filters)
}

func TestRunner_RetriesTransientScrapeFailures(t *testing.T) {
	scraper := &fakeScraper{responses: []scrapeResponse{
		{err: errors.Wrap(errors.ErrServiceUnavailable, "engine down")},
		{postings: []alert.Posting{posting("https://example.com/jobs/1")}},
	}}
	f := newRunnerFixture(t, scraper)
	search := f.createSearch(t)

	require.NoError(t, f.runner.SubmitScheduled(search))

	execs := f.waitForExecutions(t, search.ID, 1)
	assert.Equal(t, pipeline.StatusCompleted, execs[0].Status)
	assert.Equal(t, 2, scraper.callCount())
}

func TestRunner_NonRetryableFailureFailsFast(t *testing.T) {
	scraper := &fakeScraper{responses: []scrapeResponse{
		{err: errors.NewInvalidInputf("bad filters")},
	}}
	f := newRunnerFixture(t, scraper)
	search := f.createSearch(t)

	require.NoError(t, f.runner.SubmitScheduled(search))

	execs := f.waitForExecutions(t, search.ID, 1)
	assert.Equal(t, pipeline.StatusFailed, execs[0].Status)
	require.NotNil(t, execs[0].ErrorMessage)
	assert.Contains(t, *execs[0].ErrorMessage, "bad filters")
	assert.Equal(t, 1, scraper.callCount(), "non-retryable errors get no retry")
}

func TestRunner_ExhaustedRetriesFail(t *testing.T) {
	scraper := &fakeScraper{responses: []scrapeResponse{
		{err: errors.Wrap(errors.ErrServiceUnavailable, "engine down")},
	}}
	f := newRunnerFixture(t, scraper)
	search := f.createSearch(t)

	require.NoError(t, f.runner.SubmitScheduled(search))

	execs := f.waitForExecutions(t, search.ID, 1)
	assert.Equal(t, pipeline.StatusFailed, execs[0].Status)
	assert.Equal(t, 1+pipeline.MaxScrapeRetries, scraper.callCount())
}

func TestRunner_IngestResults(t *testing.T) {
	f := newRunnerFixture(t, &fakeScraper{})
	search := f.createSearch(t)

	t.Run("delivers fresh postings", func(t *testing.T) {
		delivered, err := f.runner.IngestResults(search.ID, search.OwnerID, []alert.Posting{
			posting("https://example.com/jobs/10"),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, delivered)
		require.Len(t, f.sink.snapshot(), 1)
	})

	t.Run("dedup keeps repeats silent", func(t *testing.T) {
		delivered, err := f.runner.IngestResults(search.ID, search.OwnerID, []alert.Posting{
			posting("https://example.com/jobs/10"),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, delivered)
		assert.Len(t, f.sink.snapshot(), 1, "no second notification")
	})

	t.Run("rejects wrong owner", func(t *testing.T) {
		_, err := f.runner.IngestResults(search.ID, "someone-else", nil)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInput(err))
	})

	t.Run("unknown search id", func(t *testing.T) {
		_, err := f.runner.IngestResults("no-such-id", search.OwnerID, nil)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestRunner_QueueFullSurfacesBackpressure(t *testing.T) {
	// Runner never started: the queue fills and stays full.
	db := enginetest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()
	outbound := bus.New[bus.OutboundEvent](log)
	t.Cleanup(outbound.Close)

	runner := pipeline.NewRunner(&fakeScraper{}, alert.NewSearchStore(db), ledger.NewStore(db),
		pipeline.NewExecutionStore(db), outbound, nil, pipeline.Config{Workers: 1, QueueSize: 1}, log)

	search := &alert.SavedSearch{ID: "s1", OwnerID: "u1", Active: true}
	require.NoError(t, runner.SubmitScheduled(search))
	err := runner.SubmitScheduled(search)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBusSaturated))
}
