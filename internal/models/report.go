// Package models provides data model definitions for the rdosync core.
package models

import "time"

// Report is the header record of a daily construction-site report (RDO).
type Report struct {
	ID         string `db:"id" json:"id"`
	ProjectID  string `db:"project_id" json:"project_id"`
	ReportDate string `db:"report_date" json:"report_date"` // YYYY-MM-DD
	Weather    string `db:"weather" json:"weather,omitempty"`
	Notes      string `db:"notes" json:"notes,omitempty"`
	AuthorID   string `db:"author_id" json:"author_id"`
	IsDeleted  bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the remote collection name for Report.
func (Report) TableName() string {
	return "reports"
}

// Touch refreshes the modification timestamp.
func (r *Report) Touch() {
	r.UpdatedAt = time.Now().UnixMilli()
}

// ReportActivity is a single activity line of a report.
type ReportActivity struct {
	ID          string  `db:"id" json:"id"`
	ReportID    string  `db:"report_id" json:"report_id"`
	Description string  `db:"description" json:"description"`
	Progress    float64 `db:"progress" json:"progress"` // 0-100
	CreatedAt   int64   `db:"created_at" json:"created_at"`
}

// TableName returns the remote collection name for ReportActivity.
func (ReportActivity) TableName() string {
	return "report_activities"
}

// LaborEntry records a crew headcount for a report.
type LaborEntry struct {
	ID        string  `db:"id" json:"id"`
	ReportID  string  `db:"report_id" json:"report_id"`
	Role      string  `db:"role" json:"role"`
	Quantity  int     `db:"quantity" json:"quantity"`
	Hours     float64 `db:"hours" json:"hours"`
	CreatedAt int64   `db:"created_at" json:"created_at"`
}

// TableName returns the remote collection name for LaborEntry.
func (LaborEntry) TableName() string {
	return "labor_entries"
}

// EquipmentEntry records equipment usage for a report.
type EquipmentEntry struct {
	ID        string  `db:"id" json:"id"`
	ReportID  string  `db:"report_id" json:"report_id"`
	Name      string  `db:"name" json:"name"`
	Quantity  int     `db:"quantity" json:"quantity"`
	Hours     float64 `db:"hours" json:"hours"`
	CreatedAt int64   `db:"created_at" json:"created_at"`
}

// TableName returns the remote collection name for EquipmentEntry.
func (EquipmentEntry) TableName() string {
	return "equipment_entries"
}

// Occurrence records an incident or note worth flagging on a report.
type Occurrence struct {
	ID          string `db:"id" json:"id"`
	ReportID    string `db:"report_id" json:"report_id"`
	Kind        string `db:"kind" json:"kind"` // safety, delay, inspection, other
	Description string `db:"description" json:"description"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
}

// TableName returns the remote collection name for Occurrence.
func (Occurrence) TableName() string {
	return "occurrences"
}

// Attachment is a binary file captured with a report, stored locally until
// the report is synchronized.
type Attachment struct {
	LocalPath   string `json:"local_path"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// AttachmentRef is the remote record pointing at an uploaded attachment.
type AttachmentRef struct {
	ID        string `db:"id" json:"id"`
	ReportID  string `db:"report_id" json:"report_id"`
	FileName  string `db:"file_name" json:"file_name"`
	URL       string `db:"url" json:"url"`
	SizeBytes int64  `db:"size_bytes" json:"size_bytes"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// TableName returns the remote collection name for AttachmentRef.
func (AttachmentRef) TableName() string {
	return "report_attachments"
}
