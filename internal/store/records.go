package store

import (
	"database/sql"
	"time"

	"github.com/construtech/rdosync/internal/models"
)

// PutRecord upserts a cached record snapshot by primary key. Never fails on a
// duplicate key; the newer snapshot always overwrites.
func (s *Store) PutRecord(rec *models.CachedRecord) error {
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cached_records (collection, id, payload, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Collection, rec.ID, rec.Payload, rec.UpdatedAt, rec.Deleted)
	return err
}

// PutRecords upserts a batch of snapshots inside one transaction.
func (s *Store) PutRecords(recs []*models.CachedRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO cached_records (collection, id, payload, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, rec := range recs {
		if rec.UpdatedAt == 0 {
			rec.UpdatedAt = now
		}
		if _, err := stmt.Exec(rec.Collection, rec.ID, rec.Payload, rec.UpdatedAt, rec.Deleted); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRecord returns a cached snapshot, or found=false when absent or
// tombstoned.
func (s *Store) GetRecord(collection, id string) (*models.CachedRecord, bool, error) {
	var rec models.CachedRecord
	err := s.db.QueryRow(`
		SELECT collection, id, payload, updated_at, deleted
		FROM cached_records WHERE collection = ? AND id = ?`, collection, id).
		Scan(&rec.Collection, &rec.ID, &rec.Payload, &rec.UpdatedAt, &rec.Deleted)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec.Deleted {
		return nil, false, nil
	}
	return &rec, true, nil
}

// QueryRecords returns a finite snapshot of a collection, excluding
// tombstoned rows.
func (s *Store) QueryRecords(collection string) ([]*models.CachedRecord, error) {
	rows, err := s.db.Query(`
		SELECT collection, id, payload, updated_at, deleted
		FROM cached_records WHERE collection = ? AND deleted = 0
		ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.CachedRecord
	for rows.Next() {
		var rec models.CachedRecord
		if err := rows.Scan(&rec.Collection, &rec.ID, &rec.Payload, &rec.UpdatedAt, &rec.Deleted); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// SoftDeleteRecord tombstones a cached snapshot so a later full re-cache
// supersedes it without duplicate-insert errors.
func (s *Store) SoftDeleteRecord(collection, id string) error {
	_, err := s.db.Exec(`
		UPDATE cached_records SET deleted = 1, updated_at = ? WHERE collection = ? AND id = ?`,
		time.Now().UnixMilli(), collection, id)
	return err
}

// ReplaceCollection atomically swaps a collection's cached snapshots with a
// fresh remote copy, clearing any tombstones.
func (s *Store) ReplaceCollection(collection string, recs []*models.CachedRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cached_records WHERE collection = ?`, collection); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO cached_records (collection, id, payload, updated_at, deleted)
		VALUES (?, ?, ?, ?, 0)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, rec := range recs {
		if rec.UpdatedAt == 0 {
			rec.UpdatedAt = now
		}
		if _, err := stmt.Exec(collection, rec.ID, rec.Payload, rec.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
