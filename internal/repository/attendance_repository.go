package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// AttendanceRepository persists attendance records and token claims.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository creates an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Admit claims every token for the record's student and inserts the record in one transaction.
//
// A token owned by another student rolls the whole transaction back and yields OutcomeDeviceReuse.
// An existing (session, student) record yields OutcomeAlreadyMarked, but the transaction commits
// so the claims made here persist. The unique constraints arbitrate concurrent submissions.
func (r *AttendanceRepository) Admit(ctx context.Context, record *models.AttendanceRecord, tokens []string) (models.AdmissionOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin admission tx: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	const claim = `INSERT INTO session_token_claims (session_id, token, student_id, claimed_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, token) DO NOTHING RETURNING student_id`
	const owner = `SELECT student_id FROM session_token_claims WHERE session_id = $1 AND token = $2`
	for _, token := range tokens {
		var studentID string
		err := tx.GetContext(ctx, &studentID, claim, record.SessionID, token, record.StudentID, record.MarkedAt)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.GetContext(ctx, &studentID, owner, record.SessionID, token)
		}
		if err != nil {
			return "", fmt.Errorf("claim token: %w", err)
		}
		if studentID != record.StudentID {
			return models.OutcomeDeviceReuse, nil
		}
	}

	const insert = `INSERT INTO attendance_records (id, session_id, student_id, marked_at, latitude, longitude, accuracy_m, client_identifier, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, student_id) DO NOTHING RETURNING id`
	outcome := models.OutcomeAccepted
	var id string
	err = tx.GetContext(ctx, &id, insert,
		record.ID, record.SessionID, record.StudentID, record.MarkedAt,
		record.Latitude, record.Longitude, record.AccuracyMeters, record.ClientIdentifier, record.Source)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = models.OutcomeAlreadyMarked
	case err != nil:
		return "", fmt.Errorf("insert attendance record: %w", err)
	default:
		record.ID = id
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit admission tx: %w", err)
	}
	commit = true
	return outcome, nil
}

// InsertManual stores a controller-entered record, ignoring an existing one.
func (r *AttendanceRepository) InsertManual(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	const query = `INSERT INTO attendance_records (id, session_id, student_id, marked_at, client_identifier, source)
VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (session_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, record.ID, record.SessionID, record.StudentID, record.MarkedAt, record.ClientIdentifier, record.Source)
	if err != nil {
		return false, fmt.Errorf("insert manual attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert manual attendance rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteForDay removes a student's records in every class session starting in [dayStart, dayEnd).
func (r *AttendanceRepository) DeleteForDay(ctx context.Context, classID, studentID string, dayStart, dayEnd time.Time) (bool, error) {
	const query = `DELETE FROM attendance_records WHERE student_id = $1 AND session_id IN (
SELECT id FROM attendance_sessions WHERE class_id = $2 AND start_time >= $3 AND start_time < $4)`
	res, err := r.db.ExecContext(ctx, query, studentID, classID, dayStart, dayEnd)
	if err != nil {
		return false, fmt.Errorf("delete attendance for day: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete attendance rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListMarksInRange returns (session, student, session start) for records of class sessions starting in [from, to).
func (r *AttendanceRepository) ListMarksInRange(ctx context.Context, classID string, from, to time.Time) ([]models.AttendanceMark, error) {
	const query = `SELECT r.session_id, r.student_id, s.start_time FROM attendance_records r
JOIN attendance_sessions s ON s.id = r.session_id
WHERE s.class_id = $1 AND s.start_time >= $2 AND s.start_time < $3`
	var marks []models.AttendanceMark
	if err := r.db.SelectContext(ctx, &marks, query, classID, from, to); err != nil {
		return nil, fmt.Errorf("list attendance marks: %w", err)
	}
	return marks, nil
}

// ListRecords returns the cohort's records for class sessions starting in [from, to), oldest session first.
func (r *AttendanceRepository) ListRecords(ctx context.Context, classID, cohort string, from, to time.Time) ([]models.AttendanceRecordRow, error) {
	const query = `SELECT r.id AS record_id, st.enrollment_no, st.name, st.batch, s.class_id, r.session_id,
s.start_time AS session_start, r.marked_at, r.latitude, r.longitude, r.client_identifier, r.source
FROM attendance_records r
JOIN attendance_sessions s ON s.id = r.session_id
JOIN students st ON st.id = r.student_id
WHERE s.class_id = $1 AND st.batch = $2 AND s.start_time >= $3 AND s.start_time < $4
ORDER BY s.start_time, r.marked_at, st.enrollment_no`
	var rows []models.AttendanceRecordRow
	if err := r.db.SelectContext(ctx, &rows, query, classID, cohort, from, to); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return rows, nil
}

// PresentStudentIDs returns the students with a record in any class session starting in [dayStart, dayEnd).
func (r *AttendanceRepository) PresentStudentIDs(ctx context.Context, classID string, dayStart, dayEnd time.Time) ([]string, error) {
	const query = `SELECT DISTINCT r.student_id FROM attendance_records r
JOIN attendance_sessions s ON s.id = r.session_id
WHERE s.class_id = $1 AND s.start_time >= $2 AND s.start_time < $3`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, classID, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("list present students: %w", err)
	}
	return ids, nil
}
