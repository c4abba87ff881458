package pipeline

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

// Trigger records what started a pipeline run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerWebhook  Trigger = "webhook"
)

// Status is the lifecycle state of one execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusDiscarded marks a run whose search was deleted or paused
	// mid-flight; results were thrown away rather than delivered.
	StatusDiscarded Status = "discarded"
)

// Execution is one row of pipeline run history.
type Execution struct {
	ID            string
	SearchID      string
	OwnerID       string
	Trigger       Trigger
	Status        Status
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    *int
	PostingsFound int
	PostingsNew   int
	ErrorMessage  *string
}

// NewExecution creates a running execution for a search and owner.
func NewExecution(searchID, ownerID string, trigger Trigger) *Execution {
	return &Execution{
		ID:        uuid.NewString(),
		SearchID:  searchID,
		OwnerID:   ownerID,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// ExecutionStore handles persistence of pipeline run history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates an execution store over an open database.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Create inserts a new execution row.
func (s *ExecutionStore) Create(exec *Execution) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (
			id, search_id, owner_id, trigger, status, started_at,
			completed_at, duration_ms, postings_found, postings_new, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID,
		exec.SearchID,
		exec.OwnerID,
		string(exec.Trigger),
		string(exec.Status),
		exec.StartedAt.Format(time.RFC3339),
		nullTime(exec.CompletedAt),
		nullInt(exec.DurationMs),
		exec.PostingsFound,
		exec.PostingsNew,
		nullString(exec.ErrorMessage),
	)
	if err != nil {
		return errors.Wrapf(err, "insert execution %s", exec.ID)
	}
	return nil
}

// Update writes the final status and counts of an execution.
func (s *ExecutionStore) Update(exec *Execution) error {
	_, err := s.db.Exec(`
		UPDATE executions
		SET status = ?, completed_at = ?, duration_ms = ?,
		    postings_found = ?, postings_new = ?, error_message = ?
		WHERE id = ?
	`,
		string(exec.Status),
		nullTime(exec.CompletedAt),
		nullInt(exec.DurationMs),
		exec.PostingsFound,
		exec.PostingsNew,
		nullString(exec.ErrorMessage),
		exec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update execution %s", exec.ID)
	}
	return nil
}

// Get retrieves one execution by id.
func (s *ExecutionStore) Get(id string) (*Execution, error) {
	row := s.db.QueryRow(`
		SELECT id, search_id, owner_id, trigger, status, started_at,
		       completed_at, duration_ms, postings_found, postings_new, error_message
		FROM executions WHERE id = ?
	`, id)

	exec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundf("execution %s", id)
		}
		return nil, errors.Wrapf(err, "get execution %s", id)
	}
	return exec, nil
}

// ListForSearch returns recent executions for a search, newest first.
func (s *ExecutionStore) ListForSearch(searchID string, limit int) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT id, search_id, owner_id, trigger, status, started_at,
		       completed_at, duration_ms, postings_found, postings_new, error_message
		FROM executions WHERE search_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, searchID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list executions for search %s", searchID)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CountByStatus returns execution counts keyed by status, for health and
// db stats.
func (s *ExecutionStore) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, errors.Wrap(err, "count executions by status")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "scan execution count")
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row scanner) (*Execution, error) {
	var (
		exec                Execution
		trigger, status     string
		startedAt           string
		completedAt, errMsg sql.NullString
		durationMs          sql.NullInt64
	)

	err := row.Scan(
		&exec.ID,
		&exec.SearchID,
		&exec.OwnerID,
		&trigger,
		&status,
		&startedAt,
		&completedAt,
		&durationMs,
		&exec.PostingsFound,
		&exec.PostingsNew,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	exec.Trigger = Trigger(trigger)
	exec.Status = Status(status)
	if exec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, errors.Wrapf(err, "parse started_at for %s", exec.ID)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse completed_at for %s", exec.ID)
		}
		exec.CompletedAt = &t
	}
	if durationMs.Valid {
		d := int(durationMs.Int64)
		exec.DurationMs = &d
	}
	if errMsg.Valid {
		exec.ErrorMessage = &errMsg.String
	}

	return &exec, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
