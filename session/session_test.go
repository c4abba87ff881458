package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
)

func newTestStore(t *testing.T, timeout time.Duration) *Store {
	t.Helper()
	store := NewStore(timeout, zaptest.NewLogger(t).Sugar())
	t.Cleanup(store.StopJanitor)
	return store
}

func TestStore_SetAndGet(t *testing.T) {
	store := newTestStore(t, time.Minute)

	sess := &Session{
		UserID:       "u1",
		ChatID:       "c1",
		Workflow:     WorkflowCreate,
		Step:         StepAwaitingInput,
		LastActivity: time.Now(),
	}
	store.Set("u1", sess)

	got, ok := store.Get("u1")
	require.True(t, ok)
	assert.Equal(t, WorkflowCreate, got.Workflow)
	assert.Equal(t, StepAwaitingInput, got.Step)

	_, ok = store.Get("u2")
	assert.False(t, ok)
}

func TestStore_ExpiredSessionDiscardedOnRead(t *testing.T) {
	store := newTestStore(t, 10*time.Millisecond)

	store.Set("u1", &Session{
		UserID:       "u1",
		Workflow:     WorkflowEdit,
		LastActivity: time.Now(),
	})

	time.Sleep(25 * time.Millisecond)

	_, ok := store.Get("u1")
	assert.False(t, ok, "stale workflow must not resume")
	assert.Equal(t, 0, store.Count())
}

func TestStore_Clear(t *testing.T) {
	store := newTestStore(t, time.Minute)

	store.Set("u1", &Session{UserID: "u1", LastActivity: time.Now()})
	store.Clear("u1")
	_, ok := store.Get("u1")
	assert.False(t, ok)

	// Clearing an absent session is a no-op.
	store.Clear("u1")
}

func TestStore_CountSkipsExpired(t *testing.T) {
	store := newTestStore(t, 50*time.Millisecond)

	store.Set("fresh", &Session{UserID: "fresh", LastActivity: time.Now()})
	store.Set("stale", &Session{UserID: "stale", LastActivity: time.Now().Add(-time.Minute)})

	assert.Equal(t, 1, store.Count())
}

func TestStore_JanitorSweeps(t *testing.T) {
	store := newTestStore(t, 10*time.Millisecond)
	store.StartJanitor(10 * time.Millisecond)

	store.Set("u1", &Session{UserID: "u1", LastActivity: time.Now()})

	require.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		_, present := store.sessions["u1"]
		return !present
	}, time.Second, 10*time.Millisecond, "janitor should remove the expired session from the map")
}

func TestSession_Transitions(t *testing.T) {
	sess := &Session{
		UserID:   "u1",
		Workflow: WorkflowCreate,
		Step:     StepAwaitingInput,
		Retries:  2,
	}

	t.Run("WithStep resets retries", func(t *testing.T) {
		next := sess.WithStep(StepAwaitingConfirmation)
		assert.Equal(t, StepAwaitingConfirmation, next.Step)
		assert.Equal(t, 0, next.Retries)
		assert.Equal(t, 2, sess.Retries, "original is untouched")
	})

	t.Run("WithRetry increments", func(t *testing.T) {
		next := sess.WithRetry()
		assert.Equal(t, 3, next.Retries)
		assert.Equal(t, StepAwaitingInput, next.Step)
	})

	t.Run("WithDraft attaches the draft", func(t *testing.T) {
		draft := &alert.Draft{
			Filters:    alert.Filters{Query: "golang"},
			Recurrence: alert.RecurrenceDaily,
		}
		next := sess.WithDraft(draft)
		require.NotNil(t, next.Draft)
		assert.Equal(t, "golang", next.Draft.Filters.Query)
		assert.Nil(t, sess.Draft)
	})
}
