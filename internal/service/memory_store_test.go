package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
)

// memoryStore is an in-memory stand-in for the Postgres repositories. It enforces the same
// unique and check constraints under one mutex so races resolve the way the database resolves them.
type memoryStore struct {
	mu       sync.Mutex
	students map[string]models.Student
	sessions map[string]*models.AttendanceSession
	claims   map[string]string
	records  map[string]*models.AttendanceRecord

	admitErr error
}

func newMemoryStore(students ...models.Student) *memoryStore {
	s := &memoryStore{
		students: make(map[string]models.Student),
		sessions: make(map[string]*models.AttendanceSession),
		claims:   make(map[string]string),
		records:  make(map[string]*models.AttendanceRecord),
	}
	for _, st := range students {
		s.students[st.ID] = st
	}
	return s
}

func pairKey(a, b string) string { return a + "|" + b }

func (s *memoryStore) addSession(session models.AttendanceSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := session
	s.sessions[session.ID] = &cp
}

func (s *memoryStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memoryStore) claimOwner(sessionID, token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.claims[pairKey(sessionID, token)]
	return owner, ok
}

var errCheckViolation = errors.New("attendance_sessions check constraint violated")

// checkSessionRow mirrors the CHECK constraints on attendance_sessions.
func checkSessionRow(session *models.AttendanceSession) error {
	if session.RadiusMeters < 0 || !session.EndTime.After(session.StartTime) {
		return errCheckViolation
	}
	return nil
}

// students

func (s *memoryStore) FindByEnrollment(ctx context.Context, enrollmentNo, cohort string) (*models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := models.NormalizeEnrollment(enrollmentNo)
	for _, st := range s.students {
		if st.EnrollmentNo == code && st.Batch == cohort {
			cp := st
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memoryStore) ListByCohort(ctx context.Context, cohort string) ([]models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Student
	for _, st := range s.students {
		if st.Batch == cohort {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrollmentNo < out[j].EnrollmentNo })
	return out, nil
}

// sessions

func (s *memoryStore) Create(ctx context.Context, session *models.AttendanceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkSessionRow(session); err != nil {
		return err
	}
	if session.Active {
		for _, existing := range s.sessions {
			if existing.ClassID == session.ClassID && existing.Active {
				return repository.ErrActiveSessionExists
			}
		}
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *memoryStore) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *session
	return &cp, nil
}

func (s *memoryStore) FindLatestActive(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.AttendanceSession
	for _, session := range s.sessions {
		if session.ClassID != classID || !session.Active {
			continue
		}
		if latest == nil || session.StartTime.After(latest.StartTime) {
			latest = session
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	cp := *latest
	return &cp, nil
}

func (s *memoryStore) Expire(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || !session.Active || session.EndTime.After(now) {
		return false, nil
	}
	session.Active = false
	return true, nil
}

func (s *memoryStore) End(ctx context.Context, id, controllerID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.ControllerID != controllerID || !session.Active || !session.EndTime.After(now) {
		return false, nil
	}
	session.Active = false
	session.EndTime = now
	ended := now
	session.EndedAt = &ended
	return true, nil
}

func (s *memoryStore) ListByClass(ctx context.Context, classID string, limit int) ([]models.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AttendanceSession
	for _, session := range s.sessions {
		if session.ClassID == classID {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListInRange(ctx context.Context, classID string, from, to time.Time) ([]models.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AttendanceSession
	for _, session := range s.sessions {
		if session.ClassID == classID && !session.StartTime.Before(from) && session.StartTime.Before(to) {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memoryStore) FindOrCreatePlaceholder(ctx context.Context, placeholder *models.AttendanceSession, dayEnd time.Time) (*models.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first *models.AttendanceSession
	for _, session := range s.sessions {
		if session.ClassID != placeholder.ClassID || session.StartTime.Before(placeholder.StartTime) || !session.StartTime.Before(dayEnd) {
			continue
		}
		if first == nil || session.StartTime.Before(first.StartTime) {
			first = session
		}
	}
	if first != nil {
		cp := *first
		return &cp, nil
	}
	if err := checkSessionRow(placeholder); err != nil {
		return nil, err
	}
	cp := *placeholder
	s.sessions[placeholder.ID] = &cp
	return placeholder, nil
}

// records

func (s *memoryStore) Admit(ctx context.Context, record *models.AttendanceRecord, tokens []string) (models.AdmissionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admitErr != nil {
		return "", s.admitErr
	}

	staged := make(map[string]string)
	for _, token := range tokens {
		key := pairKey(record.SessionID, token)
		owner, ok := s.claims[key]
		if !ok {
			staged[key] = record.StudentID
			continue
		}
		if owner != record.StudentID {
			return models.OutcomeDeviceReuse, nil
		}
	}
	for key, owner := range staged {
		s.claims[key] = owner
	}

	key := pairKey(record.SessionID, record.StudentID)
	if _, exists := s.records[key]; exists {
		return models.OutcomeAlreadyMarked, nil
	}
	cp := *record
	s.records[key] = &cp
	return models.OutcomeAccepted, nil
}

func (s *memoryStore) InsertManual(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(record.SessionID, record.StudentID)
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	cp := *record
	s.records[key] = &cp
	return true, nil
}

func (s *memoryStore) DeleteForDay(ctx context.Context, classID, studentID string, dayStart, dayEnd time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := false
	for key, rec := range s.records {
		session := s.sessions[rec.SessionID]
		if rec.StudentID != studentID || session == nil || session.ClassID != classID {
			continue
		}
		if !session.StartTime.Before(dayStart) && session.StartTime.Before(dayEnd) {
			delete(s.records, key)
			deleted = true
		}
	}
	return deleted, nil
}

func (s *memoryStore) ListMarksInRange(ctx context.Context, classID string, from, to time.Time) ([]models.AttendanceMark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AttendanceMark
	for _, rec := range s.records {
		session := s.sessions[rec.SessionID]
		if session == nil || session.ClassID != classID || session.StartTime.Before(from) || !session.StartTime.Before(to) {
			continue
		}
		out = append(out, models.AttendanceMark{SessionID: rec.SessionID, StudentID: rec.StudentID, StartTime: session.StartTime})
	}
	return out, nil
}

func (s *memoryStore) PresentStudentIDs(ctx context.Context, classID string, dayStart, dayEnd time.Time) ([]string, error) {
	marks, err := s.ListMarksInRange(ctx, classID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range marks {
		if !seen[m.StudentID] {
			seen[m.StudentID] = true
			ids = append(ids, m.StudentID)
		}
	}
	return ids, nil
}

func (s *memoryStore) ListRecords(ctx context.Context, classID, cohort string, from, to time.Time) ([]models.AttendanceRecordRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AttendanceRecordRow
	for _, rec := range s.records {
		session := s.sessions[rec.SessionID]
		student, ok := s.students[rec.StudentID]
		if session == nil || !ok || session.ClassID != classID || student.Batch != cohort {
			continue
		}
		if session.StartTime.Before(from) || !session.StartTime.Before(to) {
			continue
		}
		out = append(out, models.AttendanceRecordRow{
			RecordID:         rec.ID,
			EnrollmentNo:     student.EnrollmentNo,
			Name:             student.Name,
			Batch:            student.Batch,
			ClassID:          session.ClassID,
			SessionID:        session.ID,
			SessionStart:     session.StartTime,
			MarkedAt:         rec.MarkedAt,
			Latitude:         rec.Latitude,
			Longitude:        rec.Longitude,
			ClientIdentifier: rec.ClientIdentifier,
			Source:           rec.Source,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SessionStart.Equal(out[j].SessionStart) {
			return out[i].SessionStart.Before(out[j].SessionStart)
		}
		if !out[i].MarkedAt.Equal(out[j].MarkedAt) {
			return out[i].MarkedAt.Before(out[j].MarkedAt)
		}
		return out[i].EnrollmentNo < out[j].EnrollmentNo
	})
	return out, nil
}
