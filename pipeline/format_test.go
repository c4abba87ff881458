package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/internal/util"
)

func TestFormatNotification(t *testing.T) {
	search := &alert.SavedSearch{
		Filters: alert.Filters{Query: "golang developer"},
	}

	t.Run("single posting", func(t *testing.T) {
		msg := FormatNotification(search, []alert.Posting{{
			Title:    "Backend Engineer",
			Company:  "Acme",
			Location: "Berlin",
			Link:     "https://example.com/jobs/1",
			Recency:  "2 days ago",
		}})

		assert.Contains(t, msg, `1 new posting for "golang developer"`)
		assert.Contains(t, msg, "1. Backend Engineer — Acme (Berlin) · 2 days ago")
		assert.Contains(t, msg, "https://example.com/jobs/1")
		assert.NotContains(t, msg, "Stack:")
		assert.NotContains(t, msg, "Match:")
	})

	t.Run("plural with annotations", func(t *testing.T) {
		msg := FormatNotification(search, []alert.Posting{
			{Title: "Go Developer", Link: "https://example.com/jobs/1"},
			{
				Title:     "Platform Engineer",
				Link:      "https://example.com/jobs/2",
				TechStack: []string{"Go", "Kubernetes"},
				Score:     util.Ptr(0.87),
				Reasoning: util.Ptr("strong Go and Kubernetes overlap"),
			},
		})

		assert.Contains(t, msg, "2 new postings")
		assert.Contains(t, msg, "Stack: Go, Kubernetes")
		assert.Contains(t, msg, "Match: 87%")
		assert.Contains(t, msg, "strong Go and Kubernetes overlap")
		assert.Equal(t, 1, strings.Count(msg, "2 new postings"), "header appears once")
	})

	t.Run("sparse posting renders without separators", func(t *testing.T) {
		msg := FormatNotification(search, []alert.Posting{{
			Title: "Go Developer",
			Link:  "https://example.com/jobs/1",
		}})
		assert.Contains(t, msg, "1. Go Developer\nhttps://example.com/jobs/1")
	})
}
