package models

import "time"

// AttendanceSource records how a row was created.
type AttendanceSource string

const (
	AttendanceSourceSelf   AttendanceSource = "self"
	AttendanceSourceManual AttendanceSource = "manual"
)

// ManualEditIdentifier is stored as the client identifier of controller-entered records.
const ManualEditIdentifier = "manual_edit"

// AttendanceRecord is a single admitted submission. (session_id, student_id) is unique.
type AttendanceRecord struct {
	ID               string           `db:"id" json:"id"`
	SessionID        string           `db:"session_id" json:"session_id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	MarkedAt         time.Time        `db:"marked_at" json:"marked_at"`
	Latitude         *float64         `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64         `db:"longitude" json:"longitude,omitempty"`
	AccuracyMeters   *float64         `db:"accuracy_m" json:"accuracy_m,omitempty"`
	ClientIdentifier string           `db:"client_identifier" json:"client_identifier"`
	Source           AttendanceSource `db:"source" json:"source"`
}

// TokenClaim binds a client token to the first student who used it in a session.
type TokenClaim struct {
	SessionID string    `db:"session_id" json:"session_id"`
	Token     string    `db:"token" json:"token"`
	StudentID string    `db:"student_id" json:"student_id"`
	ClaimedAt time.Time `db:"claimed_at" json:"claimed_at"`
}

// AdmissionOutcome tags the result of an attendance submission.
type AdmissionOutcome string

const (
	OutcomeAccepted        AdmissionOutcome = "ACCEPTED"
	OutcomeStudentNotFound AdmissionOutcome = "STUDENT_NOT_FOUND"
	OutcomeInvalidSession  AdmissionOutcome = "INVALID_SESSION"
	OutcomeOutOfRange      AdmissionOutcome = "OUT_OF_RANGE"
	OutcomeDeviceReuse     AdmissionOutcome = "DEVICE_REUSE"
	OutcomeAlreadyMarked   AdmissionOutcome = "ALREADY_MARKED"
)

// AllOutcomes lists every outcome, in guard order.
var AllOutcomes = []AdmissionOutcome{
	OutcomeAccepted,
	OutcomeStudentNotFound,
	OutcomeInvalidSession,
	OutcomeOutOfRange,
	OutcomeDeviceReuse,
	OutcomeAlreadyMarked,
}

// AttendanceMark is a (day, student) presence fact used by the report aggregator.
type AttendanceMark struct {
	SessionID string    `db:"session_id"`
	StudentID string    `db:"student_id"`
	StartTime time.Time `db:"start_time"`
}
