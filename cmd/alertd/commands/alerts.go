package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// AlertsCmd groups saved-alert inspection and seeding.
var AlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: sym.Alert + " Inspect and seed saved alerts",
	Long: sym.Alert + ` alerts — Inspect and seed saved alerts

Examples:
  alertd alerts ls                      # List all saved alerts
  alertd alerts ls --owner user-123     # One user's alerts
  alertd alerts import --file seed.yaml # Bulk-create alerts from a file`,
}

var alertsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List saved alerts",
	RunE:  runAlertsLs,
}

var alertsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-create alerts from a YAML or TOML seed file",
	Long: `Bulk-create saved alerts from a seed file.

The file extension picks the format (.yaml/.yml or .toml). Each entry
needs owner_id, query and recurrence; everything else is optional.
Imported alerts get fresh ids and are picked up by the scheduler the
next time the daemon starts.`,
	RunE: runAlertsImport,
}

var (
	alertsOwnerFlag string
	alertsFileFlag  string
)

func init() {
	alertsLsCmd.Flags().StringVar(&alertsOwnerFlag, "owner", "", "Only list alerts for this owner")
	alertsImportCmd.Flags().StringVar(&alertsFileFlag, "file", "", "Seed file path (required)")
	_ = alertsImportCmd.MarkFlagRequired("file")

	AlertsCmd.AddCommand(alertsLsCmd)
	AlertsCmd.AddCommand(alertsImportCmd)
}

func runAlertsLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := alert.NewSearchStore(database)

	var searches []*alert.SavedSearch
	if alertsOwnerFlag != "" {
		searches, err = store.ListByOwner(alertsOwnerFlag)
	} else {
		searches, err = store.ListAll()
	}
	if err != nil {
		return errors.Wrap(err, "failed to list alerts")
	}

	if len(searches) == 0 {
		fmt.Printf("%s No alerts found\n", sym.Alert)
		return nil
	}

	data := pterm.TableData{{"ID", "OWNER", "SEARCH", "RECURRENCE", "STATE"}}
	for _, s := range searches {
		state := pterm.Green("active")
		if !s.Active {
			state = pterm.Gray("paused")
		}
		data = append(data, []string{
			s.ID[:8],
			s.OwnerID,
			s.Filters.Summary(),
			string(s.Recurrence),
			state,
		})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	fmt.Printf("\n%s %d alert(s)\n", sym.Alert, len(searches))
	return nil
}

// seedEntry is one alert in a seed file.
type seedEntry struct {
	OwnerID     string   `yaml:"owner_id" toml:"owner_id"`
	ChatID      string   `yaml:"chat_id" toml:"chat_id"`
	Query       string   `yaml:"query" toml:"query"`
	Location    string   `yaml:"location" toml:"location"`
	JobTypes    []string `yaml:"job_types" toml:"job_types"`
	RemoteTypes []string `yaml:"remote_types" toml:"remote_types"`
	Prompt      string   `yaml:"prompt" toml:"prompt"`
	Recurrence  string   `yaml:"recurrence" toml:"recurrence"`
	Paused      bool     `yaml:"paused" toml:"paused"`
}

// seedFile is the top-level shape of a seed file.
type seedFile struct {
	Alerts []seedEntry `yaml:"alerts" toml:"alerts"`
}

func runAlertsImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(alertsFileFlag)
	if err != nil {
		return errors.Wrapf(err, "failed to read seed file %s", alertsFileFlag)
	}

	var seed seedFile
	switch ext := strings.ToLower(filepath.Ext(alertsFileFlag)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return errors.Wrap(err, "failed to parse YAML seed file")
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &seed); err != nil {
			return errors.Wrap(err, "failed to parse TOML seed file")
		}
	default:
		return errors.Newf("unsupported seed file extension %q (want .yaml, .yml or .toml)", ext)
	}

	if len(seed.Alerts) == 0 {
		return errors.New("seed file contains no alerts")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := alert.NewSearchStore(database)

	created := 0
	for i, entry := range seed.Alerts {
		search, err := entry.toSavedSearch()
		if err != nil {
			return errors.Wrapf(err, "seed entry %d", i+1)
		}
		if err := store.Create(search); err != nil {
			return errors.Wrapf(err, "seed entry %d", i+1)
		}
		created++
		pterm.Printf("  %s %s (%s, %s)\n",
			pterm.LightGreen("✓ Created:"),
			pterm.White(search.Filters.Summary()),
			search.OwnerID,
			search.Recurrence)
	}

	fmt.Printf("\n%s Imported %d alert(s)\n", sym.Alert, created)
	fmt.Printf("%s Restart the daemon (or wait for its next start) to arm timers\n", sym.Clock)
	return nil
}

func (e seedEntry) toSavedSearch() (*alert.SavedSearch, error) {
	if e.Query == "" {
		return nil, errors.New("query is required")
	}
	recurrence := alert.Recurrence(e.Recurrence)
	if !recurrence.Valid() || recurrence == alert.RecurrenceNone {
		return nil, errors.Newf("invalid recurrence %q", e.Recurrence)
	}

	jobTypes := make([]alert.JobType, 0, len(e.JobTypes))
	for _, jt := range e.JobTypes {
		jobTypes = append(jobTypes, alert.JobType(jt))
	}
	remoteTypes := make([]alert.RemoteType, 0, len(e.RemoteTypes))
	for _, rt := range e.RemoteTypes {
		remoteTypes = append(remoteTypes, alert.RemoteType(rt))
	}

	chatID := e.ChatID
	if chatID == "" {
		chatID = e.OwnerID
	}

	return &alert.SavedSearch{
		OwnerID: e.OwnerID,
		ChatID:  chatID,
		Filters: alert.Filters{
			Query:       e.Query,
			Location:    e.Location,
			JobTypes:    jobTypes,
			RemoteTypes: remoteTypes,
			Prompt:      e.Prompt,
		},
		Recurrence: recurrence,
		Active:     !e.Paused,
	}, nil
}
