package dto

import (
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// ExportRequest captures POST /reports/exports.
type ExportRequest struct {
	From   string              `json:"from" validate:"required,datetime=2006-01-02"`
	To     string              `json:"to" validate:"required,datetime=2006-01-02"`
	Format models.ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
	Kind   models.ReportKind   `json:"kind" validate:"omitempty,oneof=grid records"`
}

// ExportResponse links to a rendered report.
type ExportResponse struct {
	ID        string              `json:"id"`
	Format    models.ReportFormat `json:"format"`
	Kind      models.ReportKind   `json:"kind"`
	URL       string              `json:"url"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ManualEditRequest sets or clears a student's presence for a day.
type ManualEditRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StudentID string `json:"student_id" validate:"required"`
	Present   *bool  `json:"present" validate:"required"`
}

// ManualEditResponse echoes the applied change.
type ManualEditResponse struct {
	Date      string `json:"date"`
	StudentID string `json:"student_id"`
	Present   bool   `json:"present"`
	SessionID string `json:"session_id,omitempty"`
	Changed   bool   `json:"changed"`
}

// BackupRequest captures POST /reports/backup.
type BackupRequest struct {
	To   string   `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Days int      `json:"days" validate:"omitempty,gte=1,lte=62"`
	Mail []string `json:"recipients" validate:"omitempty,dive,email"`
}

// BackupJobResponse acknowledges an enqueued backup.
type BackupJobResponse struct {
	JobID string `json:"job_id"`
	From  string `json:"from"`
	To    string `json:"to"`
}
