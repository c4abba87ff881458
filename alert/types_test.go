package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecurrenceInterval(t *testing.T) {
	tests := []struct {
		recurrence Recurrence
		want       time.Duration
	}{
		{RecurrenceEvery1h, time.Hour},
		{RecurrenceEvery4h, 4 * time.Hour},
		{RecurrenceEvery8h, 8 * time.Hour},
		{RecurrenceDaily, 24 * time.Hour},
		{RecurrenceWeekly, 7 * 24 * time.Hour},
		{RecurrenceNone, 0},
		{Recurrence("bogus"), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.recurrence.Interval(), "recurrence %q", tt.recurrence)
	}
}

func TestRecurrenceValid(t *testing.T) {
	assert.True(t, RecurrenceNone.Valid())
	assert.True(t, RecurrenceDaily.Valid())
	assert.False(t, Recurrence("fortnightly").Valid())
	assert.False(t, Recurrence("").Valid())
}

func TestFiltersSummary(t *testing.T) {
	t.Run("query only", func(t *testing.T) {
		f := Filters{Query: "golang developer"}
		assert.Equal(t, "golang developer", f.Summary())
	})

	t.Run("full filters", func(t *testing.T) {
		f := Filters{
			Query:       "golang developer",
			Location:    "Berlin",
			JobTypes:    []JobType{JobTypeFullTime, JobTypeContract},
			RemoteTypes: []RemoteType{RemoteTypeRemote},
		}
		assert.Equal(t, "golang developer, in Berlin, full-time/contract, remote", f.Summary())
	})
}

func TestDraftSummary(t *testing.T) {
	d := Draft{
		Filters:    Filters{Query: "sre", Location: "London"},
		Recurrence: RecurrenceEvery4h,
	}
	assert.Equal(t, "sre, in London, every 4 hours", d.Summary())

	oneTime := Draft{Filters: Filters{Query: "sre"}, Recurrence: RecurrenceNone}
	assert.Equal(t, "sre", oneTime.Summary())
}
