// Package alert defines the saved-search domain model and its durable store.
package alert

import (
	"fmt"
	"strings"
	"time"
)

// JobType is an enumerated employment-type filter value.
type JobType string

const (
	JobTypeFullTime   JobType = "full_time"
	JobTypePartTime   JobType = "part_time"
	JobTypeContract   JobType = "contract"
	JobTypeInternship JobType = "internship"
)

// RemoteType is an enumerated workplace-arrangement filter value.
type RemoteType string

const (
	RemoteTypeRemote RemoteType = "remote"
	RemoteTypeHybrid RemoteType = "hybrid"
	RemoteTypeOnSite RemoteType = "on_site"
)

// Recurrence is the enumerated repeat interval of a saved search.
// RecurrenceNone marks a one-time search that holds no scheduler timer.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceEvery1h Recurrence = "every_1h"
	RecurrenceEvery4h Recurrence = "every_4h"
	RecurrenceEvery8h Recurrence = "every_8h"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
)

// Interval returns the duration between scheduled runs, or 0 for one-time
// and unknown recurrences.
func (r Recurrence) Interval() time.Duration {
	switch r {
	case RecurrenceEvery1h:
		return time.Hour
	case RecurrenceEvery4h:
		return 4 * time.Hour
	case RecurrenceEvery8h:
		return 8 * time.Hour
	case RecurrenceDaily:
		return 24 * time.Hour
	case RecurrenceWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether r is a known recurrence value.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceEvery1h, RecurrenceEvery4h, RecurrenceEvery8h, RecurrenceDaily, RecurrenceWeekly:
		return true
	default:
		return false
	}
}

// Filters is the structured search criteria sent to the scraping engine.
type Filters struct {
	Query       string       `json:"query"`
	Location    string       `json:"location"`
	JobTypes    []JobType    `json:"job_types,omitempty"`
	RemoteTypes []RemoteType `json:"remote_types,omitempty"`
	Prompt      string       `json:"prompt,omitempty"` // free-text refinement for downstream filtering
}

// Summary renders the filters as a short human-readable line for
// confirmation prompts and alert listings.
func (f Filters) Summary() string {
	parts := []string{f.Query}
	if f.Location != "" {
		parts = append(parts, "in "+f.Location)
	}
	if len(f.JobTypes) > 0 {
		labels := make([]string, len(f.JobTypes))
		for i, jt := range f.JobTypes {
			labels[i] = strings.ReplaceAll(string(jt), "_", "-")
		}
		parts = append(parts, strings.Join(labels, "/"))
	}
	if len(f.RemoteTypes) > 0 {
		labels := make([]string, len(f.RemoteTypes))
		for i, rt := range f.RemoteTypes {
			labels[i] = strings.ReplaceAll(string(rt), "_", "-")
		}
		parts = append(parts, strings.Join(labels, "/"))
	}
	return strings.Join(parts, ", ")
}

// Draft is a partially-assembled search produced by the free-text parser
// and held in a conversation session until the user confirms it.
type Draft struct {
	Filters    Filters    `json:"filters"`
	Recurrence Recurrence `json:"recurrence"`
}

// Summary renders the draft for a confirmation prompt.
func (d Draft) Summary() string {
	s := d.Filters.Summary()
	if d.Recurrence != RecurrenceNone && d.Recurrence != "" {
		s += fmt.Sprintf(", %s", recurrenceLabel(d.Recurrence))
	}
	return s
}

func recurrenceLabel(r Recurrence) string {
	switch r {
	case RecurrenceEvery1h:
		return "every hour"
	case RecurrenceEvery4h:
		return "every 4 hours"
	case RecurrenceEvery8h:
		return "every 8 hours"
	case RecurrenceDaily:
		return "daily"
	case RecurrenceWeekly:
		return "weekly"
	default:
		return string(r)
	}
}

// SavedSearch is one persisted alert definition. ID and OwnerID are assigned
// once at creation and never change; edits replace the filter fields
// wholesale.
type SavedSearch struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	ChatID     string     `json:"chat_id"`
	Filters    Filters    `json:"filters"`
	Recurrence Recurrence `json:"recurrence"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Posting is a single job listing returned by the scraping engine.
type Posting struct {
	Title     string   `json:"title"`
	Company   string   `json:"company"`
	Location  string   `json:"location"`
	Link      string   `json:"link"`
	Recency   string   `json:"recency,omitempty"`
	TechStack []string `json:"tech_stack,omitempty"`

	// Optional downstream-filtering annotations.
	Score     *float64 `json:"score,omitempty"`
	Reasoning *string  `json:"reasoning,omitempty"`
}
