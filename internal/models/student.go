package models

import "strings"

// Student is read-only reference data for the roster.
type Student struct {
	ID           string `db:"id" json:"id"`
	EnrollmentNo string `db:"enrollment_no" json:"enrollment_no"`
	Name         string `db:"name" json:"name"`
	Batch        string `db:"batch" json:"batch"`
}

// Label renders "Name (ENROLLMENT)" as used in report headers.
func (s Student) Label() string {
	return s.Name + " (" + s.EnrollmentNo + ")"
}

// NormalizeEnrollment trims and uppercases an enrollment code.
func NormalizeEnrollment(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
