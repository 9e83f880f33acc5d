package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/pkg/database"
)

// ErrActiveSessionExists is returned when the one-active-session-per-class index rejects an insert.
var ErrActiveSessionExists = errors.New("active session already exists")

const sessionColumns = `id, class_id, controller_id, anchor_lat, anchor_lon, radius_m, start_time, end_time, active, ended_at, created_at`

// SessionRepository persists attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.AttendanceSession) error {
	const query = `INSERT INTO attendance_sessions (id, class_id, controller_id, anchor_lat, anchor_lon, radius_m, start_time, end_time, active, created_at)
VALUES (:id, :class_id, :controller_id, :anchor_lat, :anchor_lon, :radius_m, :start_time, :end_time, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE id = $1`
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

// FindLatestActive returns the most recent session of a class still flagged active, expired or not.
func (r *SessionRepository) FindLatestActive(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE class_id = $1 AND active ORDER BY start_time DESC LIMIT 1`
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return &session, nil
}

// Expire flips active off for a session whose window has elapsed at now.
// It reports false when another request already did so.
func (r *SessionRepository) Expire(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE attendance_sessions SET active = FALSE WHERE id = $1 AND active AND end_time <= $2`
	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire session rows affected: %w", err)
	}
	return affected > 0, nil
}

// End terminates a live session owned by controllerID.
func (r *SessionRepository) End(ctx context.Context, id, controllerID string, now time.Time) (bool, error) {
	const query = `UPDATE attendance_sessions SET active = FALSE, end_time = $3, ended_at = $3 WHERE id = $1 AND controller_id = $2 AND active AND end_time > $3`
	res, err := r.db.ExecContext(ctx, query, id, controllerID, now)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end session rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByClass returns the newest sessions of a class.
func (r *SessionRepository) ListByClass(ctx context.Context, classID string, limit int) ([]models.AttendanceSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE class_id = $1 ORDER BY start_time DESC LIMIT $2`
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, classID, limit); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListInRange returns sessions of a class starting in [from, to).
func (r *SessionRepository) ListInRange(ctx context.Context, classID string, from, to time.Time) ([]models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE class_id = $1 AND start_time >= $2 AND start_time < $3 ORDER BY start_time`
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, classID, from, to); err != nil {
		return nil, fmt.Errorf("list sessions in range: %w", err)
	}
	return sessions, nil
}

// FindOrCreatePlaceholder returns the first session of the day [dayStart, dayEnd), creating an
// inactive one-minute placeholder at dayStart when the day has none.
func (r *SessionRepository) FindOrCreatePlaceholder(ctx context.Context, placeholder *models.AttendanceSession, dayEnd time.Time) (*models.AttendanceSession, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin placeholder tx: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	// Serialises concurrent placeholder creation for the same class and day.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, placeholderLockKey(placeholder)); err != nil {
		return nil, fmt.Errorf("lock placeholder day: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE class_id = $1 AND start_time >= $2 AND start_time < $3 ORDER BY start_time LIMIT 1`
	var existing models.AttendanceSession
	err = tx.GetContext(ctx, &existing, query, placeholder.ClassID, placeholder.StartTime, dayEnd)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit placeholder tx: %w", err)
		}
		commit = true
		return &existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("find session for day: %w", err)
	}

	const insert = `INSERT INTO attendance_sessions (id, class_id, controller_id, anchor_lat, anchor_lon, radius_m, start_time, end_time, active, created_at)
VALUES (:id, :class_id, :controller_id, :anchor_lat, :anchor_lon, :radius_m, :start_time, :end_time, :active, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, placeholder); err != nil {
		return nil, fmt.Errorf("create placeholder session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit placeholder tx: %w", err)
	}
	commit = true
	return placeholder, nil
}

func placeholderLockKey(placeholder *models.AttendanceSession) string {
	return "placeholder:" + placeholder.ClassID + ":" + placeholder.StartTime.Format("2006-01-02")
}
