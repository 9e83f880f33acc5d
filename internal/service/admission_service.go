package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/geo"
)

// Token sources that can feed the uniqueness token set.
const (
	TokenSourceIP     = "ip"
	TokenSourceDevice = "device"
)

type admissionStudentRepository interface {
	FindByEnrollment(ctx context.Context, enrollmentNo, cohort string) (*models.Student, error)
}

type admissionSessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
}

type admissionRecordRepository interface {
	Admit(ctx context.Context, record *models.AttendanceRecord, tokens []string) (models.AdmissionOutcome, error)
}

// AdmissionConfig scopes lookups to a cohort and picks the client identifiers to enforce.
type AdmissionConfig struct {
	Cohort       string
	TokenSources []string
}

// AdmissionService decides whether a submission is accepted and persists at most one record
// per student per session. Rejections are returned as results; only storage failures are errors.
type AdmissionService struct {
	students  admissionStudentRepository
	sessions  admissionSessionRepository
	records   admissionRecordRepository
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AdmissionConfig
	sources   map[string]bool
	now       func() time.Time
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(
	students admissionStudentRepository,
	sessions admissionSessionRepository,
	records admissionRecordRepository,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AdmissionConfig,
) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.TokenSources) == 0 {
		cfg.TokenSources = []string{TokenSourceIP}
	}
	sources := make(map[string]bool, len(cfg.TokenSources))
	for _, src := range cfg.TokenSources {
		sources[strings.ToLower(strings.TrimSpace(src))] = true
	}
	return &AdmissionService{
		students:  students,
		sessions:  sessions,
		records:   records,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
		sources:   sources,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit runs the ordered guards: student, session, geofence, token claims, idempotent insert.
func (s *AdmissionService) Submit(ctx context.Context, req dto.SubmitAttendanceRequest) (*dto.AdmissionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	tokens := s.TokenSet(req)
	if len(tokens) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no client identifier supplied")
	}

	result := &dto.AdmissionResult{SessionID: req.SessionID}

	student, err := s.students.FindByEnrollment(ctx, req.EnrollmentNo, s.config.Cohort)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			result.Outcome = models.OutcomeStudentNotFound
			result.Message = fmt.Sprintf("enrollment number %s not found", models.NormalizeEnrollment(req.EnrollmentNo))
			return s.finish(result), nil
		}
		return nil, infrastructureError(err, "failed to look up student")
	}
	result.StudentID = student.ID
	result.StudentName = student.Name

	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructureError(err, "failed to load session")
	}
	now := s.now()
	if session == nil || !session.Open(now) {
		result.Outcome = models.OutcomeInvalidSession
		result.Message = appErrors.ErrInvalidSession.Message
		return s.finish(result), nil
	}

	anchor := geo.Point{Latitude: session.AnchorLat, Longitude: session.AnchorLon}
	position := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	inside, distance := geo.Within(anchor, position, session.RadiusMeters)
	rounded := math.Round(distance)
	result.DistanceMeters = &rounded
	if !inside {
		result.Outcome = models.OutcomeOutOfRange
		result.Message = fmt.Sprintf("you are %.0fm away; attendance can only be marked within %.0fm", rounded, session.RadiusMeters)
		return s.finish(result), nil
	}

	record := &models.AttendanceRecord{
		ID:               uuid.NewString(),
		SessionID:        session.ID,
		StudentID:        student.ID,
		MarkedAt:         now,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		AccuracyMeters:   req.AccuracyMeters,
		ClientIdentifier: strings.Join(tokens, ","),
		Source:           models.AttendanceSourceSelf,
	}
	start := time.Now()
	outcome, err := s.records.Admit(ctx, record, tokens)
	s.metrics.ObserveDBQuery("admit_attendance", time.Since(start))
	if err != nil {
		return nil, infrastructureError(err, "failed to record attendance")
	}

	result.Outcome = outcome
	switch outcome {
	case models.OutcomeAccepted:
		result.RecordID = record.ID
		result.Message = "attendance marked successfully"
		_ = s.cache.InvalidateReports(ctx)
	case models.OutcomeDeviceReuse:
		result.Message = appErrors.ErrDeviceReuse.Message
	case models.OutcomeAlreadyMarked:
		result.Message = appErrors.ErrAlreadyMarked.Message
	default:
		return nil, infrastructureError(fmt.Errorf("unexpected admission outcome %q", outcome), "failed to record attendance")
	}
	return s.finish(result), nil
}

// TokenSet builds the trimmed, de-duplicated and sorted client identifiers of a submission.
// Sorting keeps claim order stable across concurrent transactions.
func (s *AdmissionService) TokenSet(req dto.SubmitAttendanceRequest) []string {
	seen := make(map[string]struct{})
	var tokens []string
	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	if s.sources[TokenSourceIP] && strings.TrimSpace(req.IPAddress) != "" {
		add(TokenSourceIP + ":" + strings.TrimSpace(req.IPAddress))
	}
	if s.sources[TokenSourceDevice] && strings.TrimSpace(req.DeviceFingerprint) != "" {
		add(TokenSourceDevice + ":" + strings.TrimSpace(req.DeviceFingerprint))
	}
	for _, token := range req.Tokens {
		add(token)
	}
	sort.Strings(tokens)
	return tokens
}

// LookupStudent returns the display name for an enrollment code.
func (s *AdmissionService) LookupStudent(ctx context.Context, enrollmentNo string) (*dto.StudentLookupResponse, error) {
	code := models.NormalizeEnrollment(enrollmentNo)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment number is required")
	}
	student, err := s.students.FindByEnrollment(ctx, code, s.config.Cohort)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotFound, fmt.Sprintf("enrollment number %s not found", code))
		}
		return nil, infrastructureError(err, "failed to look up student")
	}
	return &dto.StudentLookupResponse{EnrollmentNo: student.EnrollmentNo, Name: student.Name}, nil
}

func (s *AdmissionService) finish(result *dto.AdmissionResult) *dto.AdmissionResult {
	s.metrics.RecordAdmission(result.Outcome)
	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.String("session_id", result.SessionID),
		zap.String("student_id", result.StudentID),
	}
	if result.DistanceMeters != nil {
		fields = append(fields, zap.Float64("distance_m", *result.DistanceMeters))
	}
	if result.Accepted() {
		s.logger.Info("attendance admitted", fields...)
	} else {
		s.logger.Info("attendance rejected", fields...)
	}
	return result
}
