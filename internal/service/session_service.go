package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

const (
	defaultQRSize = 300
	minQRSize     = 128
	maxQRSize     = 1024
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.AttendanceSession) error
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	FindLatestActive(ctx context.Context, classID string) (*models.AttendanceSession, error)
	Expire(ctx context.Context, id string, now time.Time) (bool, error)
	End(ctx context.Context, id, controllerID string, now time.Time) (bool, error)
	ListByClass(ctx context.Context, classID string, limit int) ([]models.AttendanceSession, error)
}

// SessionConfig carries the class and geofence defaults for new sessions.
type SessionConfig struct {
	ClassID             string
	DefaultRadiusMeters float64
	DefaultDuration     time.Duration
	MaxDuration         time.Duration
	PublicBaseURL       string
}

// SessionService opens and closes attendance windows for the configured class.
// Expiry is detected lazily by GetActiveSession; there is no background timer.
type SessionService struct {
	repo      sessionRepository
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    SessionConfig
	now       func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(repo sessionRepository, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, cfg SessionConfig) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = 40
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 5 * time.Minute
	}
	if cfg.MaxDuration < cfg.DefaultDuration {
		cfg.MaxDuration = cfg.DefaultDuration
	}
	return &SessionService{
		repo:      repo,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartSession opens a new session anchored at the controller's position.
func (s *SessionService) StartSession(ctx context.Context, controllerID string, req dto.StartSessionRequest) (*models.AttendanceSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	radius := s.config.DefaultRadiusMeters
	if req.RadiusMeters != nil {
		radius = *req.RadiusMeters
	}
	duration := s.config.DefaultDuration
	if req.DurationMinutes != nil {
		duration = time.Duration(*req.DurationMinutes) * time.Minute
	}
	if duration > s.config.MaxDuration {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("session duration cannot exceed %s", s.config.MaxDuration))
	}

	active, err := s.GetActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, appErrors.Clone(appErrors.ErrSessionConflict, "an active session already exists")
	}

	now := s.now()
	session := &models.AttendanceSession{
		ID:           uuid.NewString(),
		ClassID:      s.config.ClassID,
		ControllerID: controllerID,
		AnchorLat:    *req.Latitude,
		AnchorLon:    *req.Longitude,
		RadiusMeters: radius,
		StartTime:    now,
		EndTime:      now.Add(duration),
		Active:       true,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			return nil, appErrors.Clone(appErrors.ErrSessionConflict, "an active session already exists")
		}
		return nil, infrastructureError(err, "failed to create session")
	}

	s.metrics.RecordSessionEvent("started")
	s.logger.Info("attendance session started",
		zap.String("session_id", session.ID),
		zap.String("controller_id", controllerID),
		zap.Float64("radius_m", radius),
		zap.Duration("duration", duration),
	)
	return session, nil
}

// EndSession closes a live session owned by controllerID. Anything else is reported, not failed.
func (s *SessionService) EndSession(ctx context.Context, sessionID, controllerID string) (*dto.EndSessionResponse, error) {
	ended, err := s.repo.End(ctx, sessionID, controllerID, s.now())
	if err != nil {
		return nil, infrastructureError(err, "failed to end session")
	}
	if !ended {
		return &dto.EndSessionResponse{OK: false, Message: "session not found or already ended"}, nil
	}
	s.metrics.RecordSessionEvent("ended")
	s.logger.Info("attendance session ended", zap.String("session_id", sessionID), zap.String("controller_id", controllerID))
	return &dto.EndSessionResponse{OK: true, Message: "session ended"}, nil
}

// GetActiveSession returns the class's live session or nil. A session found past its end time
// is flipped inactive here before nil is returned.
func (s *SessionService) GetActiveSession(ctx context.Context) (*models.ActiveSession, error) {
	session, err := s.repo.FindLatestActive(ctx, s.config.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, infrastructureError(err, "failed to load active session")
	}

	now := s.now()
	if !session.EndTime.After(now) {
		flipped, err := s.repo.Expire(ctx, session.ID, now)
		if err != nil {
			return nil, infrastructureError(err, "failed to expire session")
		}
		if flipped {
			s.metrics.RecordSessionEvent("expired")
			s.logger.Info("attendance session expired", zap.String("session_id", session.ID))
		}
		return nil, nil
	}

	return &models.ActiveSession{Session: session, SecondsRemaining: session.SecondsRemaining(now)}, nil
}

// ListSessions returns the class's newest sessions with their derived state.
func (s *SessionService) ListSessions(ctx context.Context, limit int) ([]dto.SessionResponse, error) {
	sessions, err := s.repo.ListByClass(ctx, s.config.ClassID, limit)
	if err != nil {
		return nil, infrastructureError(err, "failed to list sessions")
	}
	now := s.now()
	out := make([]dto.SessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, dto.SessionResponse{AttendanceSession: &sessions[i], State: sessions[i].State(now)})
	}
	return out, nil
}

// SessionQRCode renders a PNG QR code pointing students at the check-in page of an open session.
func (s *SessionService) SessionQRCode(ctx context.Context, sessionID string, size int) ([]byte, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidSession, "session not found")
		}
		return nil, infrastructureError(err, "failed to load session")
	}
	if !session.Open(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrInvalidSession, "session is not active")
	}

	switch {
	case size == 0:
		size = defaultQRSize
	case size < minQRSize:
		size = minQRSize
	case size > maxQRSize:
		size = maxQRSize
	}

	png, err := qrcode.Encode(s.CheckInURL(session.ID), qrcode.Medium, size)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return png, nil
}

// CheckInURL is the student-facing link for a session.
func (s *SessionService) CheckInURL(sessionID string) string {
	return strings.TrimRight(s.config.PublicBaseURL, "/") + "/attend?session_id=" + url.QueryEscape(sessionID)
}

func infrastructureError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrInfrastructure.Code, appErrors.ErrInfrastructure.Status, message)
}
