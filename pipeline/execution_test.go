package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	enginetest "github.com/mmazurovsky/jobs-alerts-sub001/internal/testing"
	"github.com/mmazurovsky/jobs-alerts-sub001/internal/util"
	"github.com/mmazurovsky/jobs-alerts-sub001/pipeline"
)

func TestExecutionStore_CreateAndGet(t *testing.T) {
	db := enginetest.CreateTestDB(t)
	store := pipeline.NewExecutionStore(db)

	exec := pipeline.NewExecution("search-1", "user-1", pipeline.TriggerSchedule)
	exec.PostingsFound = 5
	require.NoError(t, store.Create(exec))

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "search-1", got.SearchID)
	assert.Equal(t, "user-1", got.OwnerID)
	assert.Equal(t, pipeline.TriggerSchedule, got.Trigger)
	assert.Equal(t, pipeline.StatusRunning, got.Status)
	assert.Equal(t, 5, got.PostingsFound)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorMessage)
}

func TestExecutionStore_GetNotFound(t *testing.T) {
	db := enginetest.CreateTestDB(t)
	store := pipeline.NewExecutionStore(db)

	_, err := store.Get("no-such-id")
	assert.True(t, errors.IsNotFound(err))
}

func TestExecutionStore_Update(t *testing.T) {
	db := enginetest.CreateTestDB(t)
	store := pipeline.NewExecutionStore(db)

	exec := pipeline.NewExecution("search-1", "user-1", pipeline.TriggerManual)
	require.NoError(t, store.Create(exec))

	exec.Status = pipeline.StatusFailed
	exec.CompletedAt = util.Ptr(time.Now().UTC())
	exec.DurationMs = util.Ptr(420)
	exec.ErrorMessage = util.Ptr("scrape failed")
	require.NoError(t, store.Update(exec))

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.DurationMs)
	assert.Equal(t, 420, *got.DurationMs)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "scrape failed", *got.ErrorMessage)
}

func TestExecutionStore_ListForSearch(t *testing.T) {
	db := enginetest.CreateTestDB(t)
	store := pipeline.NewExecutionStore(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(pipeline.NewExecution("search-1", "user-1", pipeline.TriggerSchedule)))
	}
	require.NoError(t, store.Create(pipeline.NewExecution("search-2", "user-1", pipeline.TriggerSchedule)))

	execs, err := store.ListForSearch("search-1", 10)
	require.NoError(t, err)
	assert.Len(t, execs, 3)

	limited, err := store.ListForSearch("search-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestExecutionStore_CountByStatus(t *testing.T) {
	db := enginetest.CreateTestDB(t)
	store := pipeline.NewExecutionStore(db)

	running := pipeline.NewExecution("search-1", "user-1", pipeline.TriggerSchedule)
	require.NoError(t, store.Create(running))

	failed := pipeline.NewExecution("search-1", "user-1", pipeline.TriggerSchedule)
	require.NoError(t, store.Create(failed))
	failed.Status = pipeline.StatusFailed
	require.NoError(t, store.Update(failed))

	counts, err := store.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[pipeline.StatusRunning])
	assert.Equal(t, 1, counts[pipeline.StatusFailed])
	assert.Equal(t, 0, counts[pipeline.StatusCompleted])
}
