// Package quota gates one-time searches behind a per-owner usage limit.
// The engine only ever talks to the Quota interface; the SQLite-backed
// tracker here serves single-node deployments and is replaced wholesale
// when a billing system owns the limits.
package quota

import (
	"database/sql"
	"time"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

// Quota is the check/consume contract consulted before a one-time search.
// Check returns nil when the owner may run another search and
// errors.ErrQuotaExceeded (possibly wrapped) when the limit is reached.
type Quota interface {
	Check(ownerID string) error
	Consume(ownerID string) error
}

// Tracker is a sliding-window quota over the quota_usage table: at most
// Limit one-time searches per owner per 24 hours.
type Tracker struct {
	db    *sql.DB
	limit int
	now   func() time.Time // injectable for tests
}

// NewTracker creates a tracker with the given daily limit. A limit <= 0
// disables enforcement (Check always allows).
func NewTracker(db *sql.DB, limit int) *Tracker {
	return &Tracker{db: db, limit: limit, now: time.Now}
}

// Check reports whether the owner has quota left in the trailing 24 hours.
func (t *Tracker) Check(ownerID string) error {
	if t.limit <= 0 {
		return nil
	}

	windowStart := t.now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	var used int
	err := t.db.QueryRow(
		"SELECT COUNT(*) FROM quota_usage WHERE owner_id = ? AND used_at >= ?",
		ownerID, windowStart,
	).Scan(&used)
	if err != nil {
		return errors.Wrapf(err, "count quota usage for owner %s", ownerID)
	}

	if used >= t.limit {
		return errors.Wrapf(errors.ErrQuotaExceeded, "owner %s used %d of %d daily searches", ownerID, used, t.limit)
	}
	return nil
}

// Consume records one search against the owner's window.
func (t *Tracker) Consume(ownerID string) error {
	_, err := t.db.Exec(
		"INSERT INTO quota_usage (owner_id, used_at) VALUES (?, ?)",
		ownerID, t.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "record quota usage for owner %s", ownerID)
	}
	return nil
}

// SetClock overrides the tracker's time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}
