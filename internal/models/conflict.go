// Package models provides data model definitions for the rdosync core.
package models

import "time"

// ResolutionStrategy selects how a detected conflict is reconciled.
type ResolutionStrategy string

const (
	StrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	StrategyMerge         ResolutionStrategy = "merge"
	StrategyManual        ResolutionStrategy = "manual"
)

// ConflictRecord is a persisted entry of the unresolved-conflict log. Entries
// survive process restarts and are removed only by an explicit human
// resolution.
type ConflictRecord struct {
	ID                string             `db:"id" json:"id"`
	RecordID          string             `db:"record_id" json:"record_id"`
	Collection        string             `db:"collection" json:"collection"`
	LocalPayload      []byte             `db:"local_payload" json:"local_payload"`
	RemotePayload     []byte             `db:"remote_payload" json:"remote_payload"`
	LocalTimestamp    int64              `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp   int64              `db:"remote_timestamp" json:"remote_timestamp"`
	Strategy          ResolutionStrategy `db:"strategy" json:"strategy"`
	Resolution        string             `db:"resolution" json:"resolution,omitempty"`
	RequiresReview    bool               `db:"requires_review" json:"requires_review"`
	ConflictingFields string             `db:"conflicting_fields" json:"conflicting_fields,omitempty"` // comma-separated
	DetectedAt        int64              `db:"detected_at" json:"detected_at"`
	ResolvedAt        int64              `db:"resolved_at" json:"resolved_at,omitempty"`
}

// TableName returns the local table name for ConflictRecord.
func (ConflictRecord) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictRecord) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
