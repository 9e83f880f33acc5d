package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

const studentColumns = `id, enrollment_no, name, batch`

// StudentRepository reads the student roster.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByEnrollment returns the student with the given enrollment code in a cohort.
// The code is matched uppercase. sql.ErrNoRows is returned unwrapped when absent.
func (r *StudentRepository) FindByEnrollment(ctx context.Context, enrollmentNo, cohort string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE enrollment_no = $1 AND batch = $2 LIMIT 1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, models.NormalizeEnrollment(enrollmentNo), cohort); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find student by enrollment: %w", err)
	}
	return &student, nil
}

// FindByID returns a student by identifier.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1 LIMIT 1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find student by id: %w", err)
	}
	return &student, nil
}

// ListByCohort returns the cohort roster ordered by enrollment code.
func (r *StudentRepository) ListByCohort(ctx context.Context, cohort string) ([]models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE batch = $1 ORDER BY enrollment_no`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, cohort); err != nil {
		return nil, fmt.Errorf("list students by cohort: %w", err)
	}
	return students, nil
}
