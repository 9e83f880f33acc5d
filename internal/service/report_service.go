package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/export"
)

const dateLayout = "2006-01-02"

type reportStudentRepository interface {
	ListByCohort(ctx context.Context, cohort string) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type reportSessionRepository interface {
	ListInRange(ctx context.Context, classID string, from, to time.Time) ([]models.AttendanceSession, error)
	FindOrCreatePlaceholder(ctx context.Context, placeholder *models.AttendanceSession, dayEnd time.Time) (*models.AttendanceSession, error)
}

type reportRecordRepository interface {
	ListMarksInRange(ctx context.Context, classID string, from, to time.Time) ([]models.AttendanceMark, error)
	InsertManual(ctx context.Context, record *models.AttendanceRecord) (bool, error)
	DeleteForDay(ctx context.Context, classID, studentID string, dayStart, dayEnd time.Time) (bool, error)
	PresentStudentIDs(ctx context.Context, classID string, dayStart, dayEnd time.Time) ([]string, error)
	ListRecords(ctx context.Context, classID, cohort string, from, to time.Time) ([]models.AttendanceRecordRow, error)
}

// ReportConfig scopes the aggregator to one class and cohort.
type ReportConfig struct {
	ClassID      string
	Cohort       string
	Location     *time.Location
	MaxRangeDays int
	EditWindow   time.Duration
	CacheTTL     time.Duration
}

// ReportService derives per-day Present / Absent / Holiday status and applies manual edits.
type ReportService struct {
	students  reportStudentRepository
	sessions  reportSessionRepository
	records   reportRecordRepository
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    ReportConfig
	now       func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(
	students reportStudentRepository,
	sessions reportSessionRepository,
	records reportRecordRepository,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ReportConfig,
) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 120
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = 7 * 24 * time.Hour
	}
	return &ReportService{
		students:  students,
		sessions:  sessions,
		records:   records,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// DailyReport returns the grid for [from, to], served from cache when possible.
func (s *ReportService) DailyReport(ctx context.Context, from, to string) (*models.AttendanceGrid, error) {
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return nil, err
	}

	if cached, hit := s.cache.LoadGrid(ctx, start.Format(dateLayout), end.Format(dateLayout)); hit {
		return cached, nil
	}

	grid, err := s.grid(ctx, start, end)
	if err != nil {
		return nil, err
	}
	s.cache.StoreGrid(ctx, grid, s.config.CacheTTL)
	return grid, nil
}

// Grid builds the uncached grid for [from, to].
func (s *ReportService) Grid(ctx context.Context, from, to string) (*models.AttendanceGrid, error) {
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.grid(ctx, start, end)
}

// Records lists every attendance record of sessions starting in [from, to], with times in
// the attendance timezone.
func (s *ReportService) Records(ctx context.Context, from, to string) (*models.RecordReport, error) {
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	defer func() { s.metrics.ObserveDBQuery("report_records", time.Since(started)) }()

	rows, err := s.records.ListRecords(ctx, s.config.ClassID, s.config.Cohort, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, infrastructureError(err, "failed to load attendance records")
	}
	if rows == nil {
		rows = []models.AttendanceRecordRow{}
	}
	for i := range rows {
		rows[i].SessionStart = rows[i].SessionStart.In(s.config.Location)
		rows[i].MarkedAt = rows[i].MarkedAt.In(s.config.Location)
	}
	return &models.RecordReport{
		From:        start.Format(dateLayout),
		To:          end.Format(dateLayout),
		Records:     rows,
		GeneratedAt: s.now().UTC(),
	}, nil
}

// Today returns the current calendar date in the attendance timezone.
func (s *ReportService) Today() time.Time {
	return midnight(s.now(), s.config.Location)
}

func (s *ReportService) grid(ctx context.Context, from, to time.Time) (*models.AttendanceGrid, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveDBQuery("report_grid", time.Since(started)) }()

	students, err := s.students.ListByCohort(ctx, s.config.Cohort)
	if err != nil {
		return nil, infrastructureError(err, "failed to load students")
	}
	end := to.AddDate(0, 0, 1)
	sessions, err := s.sessions.ListInRange(ctx, s.config.ClassID, from, end)
	if err != nil {
		return nil, infrastructureError(err, "failed to load sessions")
	}
	marks, err := s.records.ListMarksInRange(ctx, s.config.ClassID, from, end)
	if err != nil {
		return nil, infrastructureError(err, "failed to load attendance")
	}

	grid := BuildGrid(students, sessions, marks, from, to, s.config.Location)
	grid.GeneratedAt = s.now().UTC()
	return &grid, nil
}

// BuildGrid is the pure aggregation behind every report. For each day in [from, to]:
// a day with a session marks students Present or Absent, a weekend without one is a
// Holiday for everybody and a weekday without one is Absent.
func BuildGrid(students []models.Student, sessions []models.AttendanceSession, marks []models.AttendanceMark, from, to time.Time, loc *time.Location) models.AttendanceGrid {
	if loc == nil {
		loc = time.UTC
	}
	sessionDays := make(map[string]bool, len(sessions))
	for _, session := range sessions {
		sessionDays[session.StartTime.In(loc).Format(dateLayout)] = true
	}
	present := make(map[string]map[string]bool)
	for _, mark := range marks {
		day := mark.StartTime.In(loc).Format(dateLayout)
		if present[day] == nil {
			present[day] = make(map[string]bool)
		}
		present[day][mark.StudentID] = true
	}

	grid := models.AttendanceGrid{
		From:     from.Format(dateLayout),
		To:       to.Format(dateLayout),
		Students: students,
	}
	for day := midnight(from, loc); !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		row := models.GridDay{
			Date:       date,
			Weekday:    day.Weekday().String(),
			HasSession: sessionDays[date],
			Entries:    make([]models.GridEntry, 0, len(students)),
		}
		for _, student := range students {
			status := models.DayStatusAbsent
			switch {
			case row.HasSession && present[date][student.ID]:
				status = models.DayStatusPresent
			case !row.HasSession && isWeekend(day.Weekday()):
				status = models.DayStatusHoliday
			}
			row.Entries = append(row.Entries, models.GridEntry{StudentID: student.ID, Status: status})
		}
		grid.Days = append(grid.Days, row)
	}
	return grid
}

// GridDataset flattens a grid into a "Date, Name (Enrollment)..." table.
func GridDataset(grid *models.AttendanceGrid) export.Dataset {
	headers := make([]string, 0, len(grid.Students)+1)
	headers = append(headers, "Date")
	for _, student := range grid.Students {
		headers = append(headers, student.Label())
	}
	rows := make([][]string, 0, len(grid.Days))
	for _, day := range grid.Days {
		row := make([]string, 0, len(day.Entries)+1)
		row = append(row, day.Date)
		for _, entry := range day.Entries {
			row = append(row, string(entry.Status))
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

const recordTimeLayout = "2006-01-02 15:04:05"

// RecordsDataset flattens a record report into one row per attendance record.
func RecordsDataset(report *models.RecordReport) export.Dataset {
	headers := []string{"Enrollment No", "Name", "Batch", "Class", "Session Start", "Marked At", "Latitude", "Longitude", "Client", "Source"}
	rows := make([][]string, 0, len(report.Records))
	for _, rec := range report.Records {
		rows = append(rows, []string{
			rec.EnrollmentNo,
			rec.Name,
			rec.Batch,
			rec.ClassID,
			rec.SessionStart.Format(recordTimeLayout),
			rec.MarkedAt.Format(recordTimeLayout),
			formatCoordinate(rec.Latitude),
			formatCoordinate(rec.Longitude),
			rec.ClientIdentifier,
			string(rec.Source),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// ManualEdit sets a student's presence for a day within the edit window. Marking present
// reuses the day's first session or creates an inactive placeholder for it.
func (s *ReportService) ManualEdit(ctx context.Context, controllerID string, req dto.ManualEditRequest) (*dto.ManualEditResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance edit payload")
	}
	day, err := time.ParseInLocation(dateLayout, req.Date, s.config.Location)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}
	today := s.Today()
	if day.After(today) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot edit attendance for a future date")
	}
	if day.Before(today.AddDate(0, 0, -s.editWindowDays())) {
		return nil, appErrors.Clone(appErrors.ErrEditWindowClosed, "")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "student not found")
		}
		return nil, infrastructureError(err, "failed to load student")
	}
	if student.Batch != s.config.Cohort {
		return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "student not found")
	}

	now := s.now().UTC()
	dayEnd := day.AddDate(0, 0, 1)
	resp := &dto.ManualEditResponse{Date: req.Date, StudentID: student.ID, Present: *req.Present}

	if *req.Present {
		placeholder := &models.AttendanceSession{
			ID:           uuid.NewString(),
			ClassID:      s.config.ClassID,
			ControllerID: controllerID,
			RadiusMeters: 0,
			StartTime:    day,
			EndTime:      day.Add(time.Minute),
			Active:       false,
			CreatedAt:    now,
		}
		session, err := s.sessions.FindOrCreatePlaceholder(ctx, placeholder, dayEnd)
		if err != nil {
			return nil, infrastructureError(err, "failed to resolve session for date")
		}
		inserted, err := s.records.InsertManual(ctx, &models.AttendanceRecord{
			ID:               uuid.NewString(),
			SessionID:        session.ID,
			StudentID:        student.ID,
			MarkedAt:         now,
			ClientIdentifier: models.ManualEditIdentifier,
			Source:           models.AttendanceSourceManual,
		})
		if err != nil {
			return nil, infrastructureError(err, "failed to mark attendance")
		}
		resp.SessionID = session.ID
		resp.Changed = inserted
	} else {
		deleted, err := s.records.DeleteForDay(ctx, s.config.ClassID, student.ID, day, dayEnd)
		if err != nil {
			return nil, infrastructureError(err, "failed to clear attendance")
		}
		resp.Changed = deleted
	}

	if resp.Changed {
		_ = s.cache.InvalidateReports(ctx)
	}
	s.logger.Info("attendance edited manually",
		zap.String("controller_id", controllerID),
		zap.String("student_id", student.ID),
		zap.String("date", req.Date),
		zap.Bool("present", resp.Present),
		zap.Bool("changed", resp.Changed),
	)
	return resp, nil
}

// editWindowDays is the edit window in whole calendar days.
func (s *ReportService) editWindowDays() int {
	return int(s.config.EditWindow / (24 * time.Hour))
}

// DayRoster lists every student with whether they were present on date.
func (s *ReportService) DayRoster(ctx context.Context, date string) ([]models.RosterEntry, error) {
	day, err := time.ParseInLocation(dateLayout, date, s.config.Location)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}
	students, err := s.students.ListByCohort(ctx, s.config.Cohort)
	if err != nil {
		return nil, infrastructureError(err, "failed to load students")
	}
	ids, err := s.records.PresentStudentIDs(ctx, s.config.ClassID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, infrastructureError(err, "failed to load attendance")
	}
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	roster := make([]models.RosterEntry, 0, len(students))
	for _, student := range students {
		roster = append(roster, models.RosterEntry{Student: student, Present: present[student.ID]})
	}
	return roster, nil
}

func (s *ReportService) parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, from, s.config.Location)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid from date")
	}
	end, err := time.ParseInLocation(dateLayout, to, s.config.Location)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid to date")
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	if days := daysBetween(start, end) + 1; days > s.config.MaxRangeDays {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range cannot exceed %d days", s.config.MaxRangeDays))
	}
	return start, end, nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days, ignoring DST shifts.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
}
