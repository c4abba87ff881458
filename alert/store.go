package alert

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

// SearchStore handles persistence of saved searches. It is the only
// component that mutates the saved_searches table.
type SearchStore struct {
	db *sql.DB
}

// NewSearchStore creates a search store over an open database.
func NewSearchStore(db *sql.DB) *SearchStore {
	return &SearchStore{db: db}
}

// Create persists a new saved search. The id is generated here and written
// back to the struct; OwnerID must already be set and is immutable from
// this point on.
func (s *SearchStore) Create(search *SavedSearch) error {
	if search.OwnerID == "" {
		return errors.New("saved search requires an owner")
	}
	if !search.Recurrence.Valid() {
		return errors.Newf("invalid recurrence %q", search.Recurrence)
	}

	search.ID = uuid.NewString()
	now := time.Now().UTC()
	search.CreatedAt = now
	search.UpdatedAt = now

	jobTypes, err := json.Marshal(search.Filters.JobTypes)
	if err != nil {
		return errors.Wrap(err, "marshal job types")
	}
	remoteTypes, err := json.Marshal(search.Filters.RemoteTypes)
	if err != nil {
		return errors.Wrap(err, "marshal remote types")
	}

	_, err = s.db.Exec(`
		INSERT INTO saved_searches (
			id, owner_id, chat_id, query, location, job_types, remote_types,
			prompt, recurrence, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		search.ID,
		search.OwnerID,
		search.ChatID,
		search.Filters.Query,
		search.Filters.Location,
		string(jobTypes),
		string(remoteTypes),
		search.Filters.Prompt,
		string(search.Recurrence),
		boolToInt(search.Active),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "insert saved search")
	}

	return nil
}

// Get retrieves a saved search by id. Returns ErrNotFound if no row exists.
func (s *SearchStore) Get(id string) (*SavedSearch, error) {
	row := s.db.QueryRow(selectColumns+" FROM saved_searches WHERE id = ?", id)
	search, err := scanSearch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundf("saved search %s", id)
		}
		return nil, errors.Wrapf(err, "get saved search %s", id)
	}
	return search, nil
}

// ListByOwner returns all saved searches belonging to an owner, newest first.
func (s *SearchStore) ListByOwner(ownerID string) ([]*SavedSearch, error) {
	rows, err := s.db.Query(selectColumns+" FROM saved_searches WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "list saved searches for owner %s", ownerID)
	}
	defer rows.Close()
	return collectSearches(rows)
}

// ListActive returns every saved search with active = true. The scheduler
// rebuilds its timer set from this at startup.
func (s *SearchStore) ListActive() ([]*SavedSearch, error) {
	rows, err := s.db.Query(selectColumns + " FROM saved_searches WHERE active = 1 ORDER BY created_at")
	if err != nil {
		return nil, errors.Wrap(err, "list active saved searches")
	}
	defer rows.Close()
	return collectSearches(rows)
}

// ListAll returns every saved search regardless of state, newest first.
func (s *SearchStore) ListAll() ([]*SavedSearch, error) {
	rows, err := s.db.Query(selectColumns + " FROM saved_searches ORDER BY created_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "list saved searches")
	}
	defer rows.Close()
	return collectSearches(rows)
}

// Update replaces the mutable fields of a saved search: filters, recurrence
// and the active flag. ID, OwnerID and ChatID are never written. Returns
// ErrNotFound if the search does not exist.
func (s *SearchStore) Update(search *SavedSearch) error {
	jobTypes, err := json.Marshal(search.Filters.JobTypes)
	if err != nil {
		return errors.Wrap(err, "marshal job types")
	}
	remoteTypes, err := json.Marshal(search.Filters.RemoteTypes)
	if err != nil {
		return errors.Wrap(err, "marshal remote types")
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE saved_searches
		SET query = ?, location = ?, job_types = ?, remote_types = ?,
		    prompt = ?, recurrence = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		search.Filters.Query,
		search.Filters.Location,
		string(jobTypes),
		string(remoteTypes),
		search.Filters.Prompt,
		string(search.Recurrence),
		boolToInt(search.Active),
		now.Format(time.RFC3339),
		search.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update saved search %s", search.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundf("saved search %s", search.ID)
	}
	search.UpdatedAt = now
	return nil
}

// SetActive flips the active flag without touching the filter fields.
// Used by quota-expiry pausing.
func (s *SearchStore) SetActive(id string, active bool) error {
	res, err := s.db.Exec(
		"UPDATE saved_searches SET active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errors.Wrapf(err, "set active on saved search %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundf("saved search %s", id)
	}
	return nil
}

// Delete removes a saved search. Returns ErrNotFound if no row was deleted.
func (s *SearchStore) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM saved_searches WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete saved search %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundf("saved search %s", id)
	}
	return nil
}

// CountActive returns the number of active saved searches.
func (s *SearchStore) CountActive() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM saved_searches WHERE active = 1").Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count active saved searches")
	}
	return count, nil
}

// Count returns the total number of saved searches.
func (s *SearchStore) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM saved_searches").Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count saved searches")
	}
	return count, nil
}

const selectColumns = `SELECT id, owner_id, chat_id, query, location, job_types, remote_types,
       prompt, recurrence, active, created_at, updated_at`

// scanner abstracts *sql.Row and *sql.Rows for scanSearch.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSearch(row scanner) (*SavedSearch, error) {
	var (
		search                SavedSearch
		jobTypes, remoteTypes string
		active                int
		createdAt, updatedAt  string
		recurrence            string
	)

	err := row.Scan(
		&search.ID,
		&search.OwnerID,
		&search.ChatID,
		&search.Filters.Query,
		&search.Filters.Location,
		&jobTypes,
		&remoteTypes,
		&search.Filters.Prompt,
		&recurrence,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(jobTypes), &search.Filters.JobTypes); err != nil {
		return nil, errors.Wrapf(err, "unmarshal job types for %s", search.ID)
	}
	if err := json.Unmarshal([]byte(remoteTypes), &search.Filters.RemoteTypes); err != nil {
		return nil, errors.Wrapf(err, "unmarshal remote types for %s", search.ID)
	}
	search.Recurrence = Recurrence(recurrence)
	search.Active = active != 0

	if search.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for %s", search.ID)
	}
	if search.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for %s", search.ID)
	}

	return &search, nil
}

func collectSearches(rows *sql.Rows) ([]*SavedSearch, error) {
	var searches []*SavedSearch
	for rows.Next() {
		search, err := scanSearch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan saved search")
		}
		searches = append(searches, search)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate saved searches")
	}
	return searches, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
