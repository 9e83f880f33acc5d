package dto

import "github.com/noah-isme/geo-attendance-api/internal/models"

// SubmitAttendanceRequest is a student's check-in.
type SubmitAttendanceRequest struct {
	EnrollmentNo      string   `json:"enrollment_no" validate:"required,max=64"`
	SessionID         string   `json:"session_id" validate:"required"`
	Latitude          *float64 `json:"latitude" validate:"required,latitude"`
	Longitude         *float64 `json:"longitude" validate:"required,longitude"`
	AccuracyMeters    *float64 `json:"accuracy_meters" validate:"omitempty,gte=0"`
	DeviceFingerprint string   `json:"device_fingerprint" validate:"max=256"`
	Tokens            []string `json:"tokens" validate:"max=8,dive,max=256"`
	IPAddress         string   `json:"-"`
}

// AdmissionResult is the tagged outcome of a submission. Rejections are data, not errors.
type AdmissionResult struct {
	Outcome        models.AdmissionOutcome `json:"outcome"`
	Message        string                  `json:"message"`
	SessionID      string                  `json:"session_id,omitempty"`
	StudentID      string                  `json:"student_id,omitempty"`
	StudentName    string                  `json:"student_name,omitempty"`
	RecordID       string                  `json:"record_id,omitempty"`
	DistanceMeters *float64                `json:"distance_meters,omitempty"`
}

// Accepted reports whether the submission produced a record.
func (r *AdmissionResult) Accepted() bool {
	return r != nil && r.Outcome == models.OutcomeAccepted
}

// StudentLookupResponse is returned to the check-in form.
type StudentLookupResponse struct {
	EnrollmentNo string `json:"enrollment_no"`
	Name         string `json:"name"`
}
