package pipeline

import (
	"fmt"
	"strings"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// FormatNotification renders one outbound chat message for a run's new
// postings. One message per run, never one per posting, so a productive
// search does not flood the transport.
func FormatNotification(search *alert.SavedSearch, postings []alert.Posting) string {
	var b strings.Builder

	noun := "postings"
	if len(postings) == 1 {
		noun = "posting"
	}
	fmt.Fprintf(&b, "%s %d new %s for \"%s\"\n", sym.Alert, len(postings), noun, search.Filters.Query)

	for i, posting := range postings {
		fmt.Fprintf(&b, "\n%d. %s", i+1, posting.Title)
		if posting.Company != "" {
			fmt.Fprintf(&b, " — %s", posting.Company)
		}
		if posting.Location != "" {
			fmt.Fprintf(&b, " (%s)", posting.Location)
		}
		if posting.Recency != "" {
			fmt.Fprintf(&b, " · %s", posting.Recency)
		}
		b.WriteByte('\n')
		b.WriteString(posting.Link)
		b.WriteByte('\n')

		if len(posting.TechStack) > 0 {
			fmt.Fprintf(&b, "Stack: %s\n", strings.Join(posting.TechStack, ", "))
		}
		if posting.Score != nil {
			fmt.Fprintf(&b, "Match: %.0f%%", *posting.Score*100)
			if posting.Reasoning != nil && *posting.Reasoning != "" {
				fmt.Fprintf(&b, " — %s", *posting.Reasoning)
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
