package store

import (
	"database/sql"
	"time"

	"github.com/construtech/rdosync/internal/models"
	"github.com/construtech/rdosync/internal/uuid"
)

// AppendConflict adds an entry to the durable conflict log. The log is
// append-only; entries leave it only through ResolveConflict.
func (s *Store) AppendConflict(c *models.ConflictRecord) error {
	if c.ID == "" {
		c.ID = uuid.New()
	}
	if c.DetectedAt == 0 {
		c.DetectedAt = time.Now().UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO conflict_log (id, record_id, collection, local_payload, remote_payload,
			local_timestamp, remote_timestamp, strategy, resolution, requires_review,
			conflicting_fields, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, c.RecordID, c.Collection, c.LocalPayload, c.RemotePayload,
		c.LocalTimestamp, c.RemoteTimestamp, string(c.Strategy), c.Resolution,
		c.RequiresReview, c.ConflictingFields, c.DetectedAt)
	return err
}

// UnresolvedConflicts returns log entries still awaiting human review.
func (s *Store) UnresolvedConflicts() ([]*models.ConflictRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, record_id, collection, local_payload, remote_payload,
			local_timestamp, remote_timestamp, strategy, resolution, requires_review,
			conflicting_fields, detected_at, resolved_at
		FROM conflict_log WHERE resolved_at = 0 ORDER BY detected_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*models.ConflictRecord
	for rows.Next() {
		var c models.ConflictRecord
		var strategy string
		if err := rows.Scan(&c.ID, &c.RecordID, &c.Collection, &c.LocalPayload, &c.RemotePayload,
			&c.LocalTimestamp, &c.RemoteTimestamp, &strategy, &c.Resolution, &c.RequiresReview,
			&c.ConflictingFields, &c.DetectedAt, &c.ResolvedAt); err != nil {
			return nil, err
		}
		c.Strategy = models.ResolutionStrategy(strategy)
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

// ResolveConflict marks a log entry as resolved by an explicit human choice
// (keep_local, keep_remote or a custom note).
func (s *Store) ResolveConflict(id, resolution string) error {
	res, err := s.db.Exec(`
		UPDATE conflict_log SET resolution = ?, resolved_at = ? WHERE id = ? AND resolved_at = 0`,
		resolution, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
