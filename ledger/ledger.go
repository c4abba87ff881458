// Package ledger records which job postings have already been delivered to
// which owner. It is the dedup backstop for the at-least-once delivery
// model: a posting may be scraped many times but is notified at most once
// per owner under normal operation.
package ledger

import (
	"crypto/sha256"
	"database/sql"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

// PostingKey derives a compact stable key from a posting link. The link is
// normalized (scheme-insensitive, no trailing slash, no query fragment
// noise beyond '?') before hashing so trivially different URLs for the
// same posting collapse to one key.
func PostingKey(link string) string {
	normalized := strings.TrimSpace(link)
	normalized = strings.TrimPrefix(normalized, "https://")
	normalized = strings.TrimPrefix(normalized, "http://")
	normalized = strings.TrimPrefix(normalized, "www.")
	if i := strings.IndexByte(normalized, '#'); i >= 0 {
		normalized = normalized[:i]
	}
	normalized = strings.TrimRight(normalized, "/")
	sum := sha256.Sum256([]byte(normalized))
	return base58.Encode(sum[:])
}

// Store handles persistence of delivered-item records. It is the only
// component that touches the delivered_items table.
type Store struct {
	db *sql.DB
}

// NewStore creates a ledger store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsDelivered reports whether the (owner, posting key) pair is already
// recorded.
func (s *Store) IsDelivered(ownerID, postingKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM delivered_items WHERE owner_id = ? AND posting_key = ?)",
		ownerID, postingKey,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check delivered item for owner %s", ownerID)
	}
	return exists, nil
}

// MarkDelivered records a delivery. INSERT OR IGNORE keeps the operation
// idempotent: recording the same pair twice is a no-op, never an error.
func (s *Store) MarkDelivered(ownerID, postingKey string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO delivered_items (owner_id, posting_key, delivered_at) VALUES (?, ?, ?)",
		ownerID, postingKey, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "mark delivered for owner %s", ownerID)
	}
	return nil
}

// CountForOwner returns the number of delivered items recorded for an owner.
func (s *Store) CountForOwner(ownerID string) (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM delivered_items WHERE owner_id = ?", ownerID).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "count delivered items for owner %s", ownerID)
	}
	return count, nil
}

// Count returns the total number of delivered items.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM delivered_items").Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count delivered items")
	}
	return count, nil
}

// Prune deletes records older than the cutoff and returns how many were
// removed. Retention is an ops concern; dedup correctness never depends
// on pruning.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(
		"DELETE FROM delivered_items WHERE delivered_at < ?",
		olderThan.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.Wrap(err, "prune delivered items")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "count pruned delivered items")
	}
	return n, nil
}
