// Package models provides data model definitions for the rdosync core.
package models

import (
	"encoding/json"
	"time"
)

// OperationKind is the mutation type carried by a pending operation.
type OperationKind string

const (
	OperationInsert OperationKind = "insert"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// PendingOperation is a queued single-collection mutation awaiting remote
// application. Collection, Kind and Payload are fixed at creation time; only
// RetryCount and LastError change afterwards.
type PendingOperation struct {
	ID             int64           `db:"id" json:"id"`
	Collection     string          `db:"collection" json:"collection"`
	Kind           OperationKind   `db:"kind" json:"kind"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      int64           `db:"created_at" json:"created_at"`
}

// TableName returns the local table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_operations"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (p *PendingOperation) CreatedAtTime() time.Time {
	return time.UnixMilli(p.CreatedAt)
}

// ReportStatus is the lifecycle state of a pending report.
type ReportStatus string

const (
	ReportStatusPending ReportStatus = "pending"
	ReportStatusSyncing ReportStatus = "syncing"
	ReportStatusFailed  ReportStatus = "failed"
)

// PendingReport is a whole submitted report aggregate (header, children and
// attachments) awaiting first remote creation. Status only moves
// pending -> syncing -> failed; success deletes the row. A failed report is
// never retried by a timer, only by an explicit re-trigger.
type PendingReport struct {
	ID          string           `db:"id" json:"id"` // client-generated UUID
	Report      Report           `json:"report"`
	Activities  []ReportActivity `json:"activities,omitempty"`
	Labor       []LaborEntry     `json:"labor,omitempty"`
	Equipment   []EquipmentEntry `json:"equipment,omitempty"`
	Occurrences []Occurrence     `json:"occurrences,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Status      ReportStatus     `db:"status" json:"status"`
	LastError   string           `db:"last_error" json:"last_error,omitempty"`
	RetryCount  int              `db:"retry_count" json:"retry_count"`
	CreatedAt   int64            `db:"created_at" json:"created_at"`
}

// TableName returns the local table name for PendingReport.
func (PendingReport) TableName() string {
	return "pending_reports"
}
