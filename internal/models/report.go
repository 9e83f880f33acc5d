package models

import "time"

// DayStatus is the derived attendance status of a student on a calendar day.
type DayStatus string

const (
	DayStatusPresent DayStatus = "Present"
	DayStatusAbsent  DayStatus = "Absent"
	DayStatusHoliday DayStatus = "Holiday"
)

// ReportFormat enumerates export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// Valid reports whether the format can be rendered.
func (f ReportFormat) Valid() bool {
	return f == ReportFormatCSV || f == ReportFormatPDF
}

// ReportKind selects what an export contains.
type ReportKind string

const (
	ReportKindGrid    ReportKind = "grid"
	ReportKindRecords ReportKind = "records"
)

// GridEntry is one cell of the attendance grid.
type GridEntry struct {
	StudentID string    `json:"student_id"`
	Status    DayStatus `json:"status"`
}

// GridDay is one row of the attendance grid.
type GridDay struct {
	Date       string      `json:"date"`
	Weekday    string      `json:"weekday"`
	HasSession bool        `json:"has_session"`
	Entries    []GridEntry `json:"entries"`
}

// AttendanceGrid is the per-student, per-day status matrix for a closed date range.
type AttendanceGrid struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Students    []Student `json:"students"`
	Days        []GridDay `json:"days"`
	GeneratedAt time.Time `json:"generated_at"`
}

// StatusOf returns the status for studentID on the day at index i.
func (g *AttendanceGrid) StatusOf(i int, studentID string) DayStatus {
	if i < 0 || i >= len(g.Days) {
		return ""
	}
	for _, e := range g.Days[i].Entries {
		if e.StudentID == studentID {
			return e.Status
		}
	}
	return ""
}

// RosterEntry is a student's presence flag for the manual edit screen.
type RosterEntry struct {
	Student
	Present bool `json:"is_present"`
}

// AttendanceRecordRow is one attendance record joined with its student and session.
type AttendanceRecordRow struct {
	RecordID         string           `db:"record_id" json:"record_id"`
	EnrollmentNo     string           `db:"enrollment_no" json:"enrollment_no"`
	Name             string           `db:"name" json:"name"`
	Batch            string           `db:"batch" json:"batch"`
	ClassID          string           `db:"class_id" json:"class_id"`
	SessionID        string           `db:"session_id" json:"session_id"`
	SessionStart     time.Time        `db:"session_start" json:"session_start"`
	MarkedAt         time.Time        `db:"marked_at" json:"marked_at"`
	Latitude         *float64         `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64         `db:"longitude" json:"longitude,omitempty"`
	ClientIdentifier string           `db:"client_identifier" json:"client_identifier"`
	Source           AttendanceSource `db:"source" json:"source"`
}

// RecordReport lists every record of sessions starting in a closed date range.
type RecordReport struct {
	From        string                `json:"from"`
	To          string                `json:"to"`
	Records     []AttendanceRecordRow `json:"records"`
	GeneratedAt time.Time             `json:"generated_at"`
}
