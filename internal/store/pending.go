package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/construtech/rdosync/internal/models"
)

// EnqueueOperation appends a pending operation to the queue and returns its
// assigned id. Collection, kind and payload are fixed for the life of the
// operation.
func (s *Store) EnqueueOperation(op *models.PendingOperation) error {
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().UnixMilli()
	}
	res, err := s.db.Exec(`
		INSERT INTO pending_operations (collection, kind, payload, idempotency_key, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.Collection, string(op.Kind), []byte(op.Payload), op.IdempotencyKey,
		op.RetryCount, op.LastError, op.CreatedAt)
	if err != nil {
		return err
	}
	op.ID, err = res.LastInsertId()
	return err
}

// ApplyAndEnqueue persists an optimistic record snapshot together with the
// pending operation that will replay it, in a single transaction. A crash can
// never leave a local record without its queued remote write, or the reverse.
func (s *Store) ApplyAndEnqueue(rec *models.CachedRecord, op *models.PendingOperation) error {
	now := time.Now().UnixMilli()
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = now
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = now
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO cached_records (collection, id, payload, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Collection, rec.ID, rec.Payload, rec.UpdatedAt, rec.Deleted); err != nil {
		return err
	}

	res, err := tx.Exec(`
		INSERT INTO pending_operations (collection, kind, payload, idempotency_key, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.Collection, string(op.Kind), []byte(op.Payload), op.IdempotencyKey,
		op.RetryCount, op.LastError, op.CreatedAt)
	if err != nil {
		return err
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	return tx.Commit()
}

// TombstoneAndEnqueue tombstones a snapshot and queues its remote delete in
// the same transaction.
func (s *Store) TombstoneAndEnqueue(collection, id string, op *models.PendingOperation) error {
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE cached_records SET deleted = 1, updated_at = ? WHERE collection = ? AND id = ?`,
		time.Now().UnixMilli(), collection, id); err != nil {
		return err
	}

	res, err := tx.Exec(`
		INSERT INTO pending_operations (collection, kind, payload, idempotency_key, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.Collection, string(op.Kind), []byte(op.Payload), op.IdempotencyKey,
		op.RetryCount, op.LastError, op.CreatedAt)
	if err != nil {
		return err
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	return tx.Commit()
}

// PendingOperations returns the queue in ascending creation order (FIFO).
// maxRetries >= 0 filters out operations already past the terminal ceiling so
// they stay parked for manual inspection; a negative value returns everything.
func (s *Store) PendingOperations(maxRetries int) ([]*models.PendingOperation, error) {
	query := `
		SELECT id, collection, kind, payload, idempotency_key, retry_count, last_error, created_at
		FROM pending_operations`
	args := []interface{}{}
	if maxRetries >= 0 {
		query += ` WHERE retry_count <= ?`
		args = append(args, maxRetries)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	for rows.Next() {
		var op models.PendingOperation
		var kind string
		var payload []byte
		if err := rows.Scan(&op.ID, &op.Collection, &kind, &payload,
			&op.IdempotencyKey, &op.RetryCount, &op.LastError, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Kind = models.OperationKind(kind)
		op.Payload = json.RawMessage(payload)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// UpdateOperationFailure persists the incremented retry count and last error
// after a failed attempt. These are the only mutable fields of an operation.
func (s *Store) UpdateOperationFailure(id int64, retryCount int, lastError string) error {
	res, err := s.db.Exec(`
		UPDATE pending_operations SET retry_count = ?, last_error = ? WHERE id = ?`,
		retryCount, lastError, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pending operation not found: %d", id)
	}
	return nil
}

// DeleteOperation removes a confirmed operation from the queue. Permanent.
func (s *Store) DeleteOperation(id int64) error {
	_, err := s.db.Exec(`DELETE FROM pending_operations WHERE id = ?`, id)
	return err
}

// CountPendingOperations returns the queue depth.
func (s *Store) CountPendingOperations() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_operations`).Scan(&n)
	return n, err
}

// SavePendingReport stores a submitted report aggregate. The full nested
// payload (header, children, attachments) travels as one JSON blob.
func (s *Store) SavePendingReport(report *models.PendingReport) error {
	if report.CreatedAt == 0 {
		report.CreatedAt = time.Now().UnixMilli()
	}
	if report.Status == "" {
		report.Status = models.ReportStatusPending
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal pending report: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO pending_reports (id, payload, status, last_error, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID, payload, string(report.Status), report.LastError,
		report.RetryCount, report.CreatedAt)
	return err
}

// PendingReports returns report drafts, optionally filtered by status, in
// creation order.
func (s *Store) PendingReports(status models.ReportStatus) ([]*models.PendingReport, error) {
	query := `SELECT payload, status, last_error, retry_count FROM pending_reports`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*models.PendingReport
	for rows.Next() {
		var payload []byte
		var st, lastErr string
		var retries int
		if err := rows.Scan(&payload, &st, &lastErr, &retries); err != nil {
			return nil, err
		}
		var report models.PendingReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending report: %w", err)
		}
		// Row columns are authoritative for mutable state.
		report.Status = models.ReportStatus(st)
		report.LastError = lastErr
		report.RetryCount = retries
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}

// SetReportStatus transitions a pending report and records its error state.
func (s *Store) SetReportStatus(id string, status models.ReportStatus, retryCount int, lastError string) error {
	res, err := s.db.Exec(`
		UPDATE pending_reports SET status = ?, retry_count = ?, last_error = ? WHERE id = ?`,
		string(status), retryCount, lastError, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeletePendingReport removes a fully synchronized report draft.
func (s *Store) DeletePendingReport(id string) error {
	_, err := s.db.Exec(`DELETE FROM pending_reports WHERE id = ?`, id)
	return err
}

// CountPendingReports returns the number of drafts with the given status.
func (s *Store) CountPendingReports(status models.ReportStatus) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_reports WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}
