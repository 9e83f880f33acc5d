package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/export"
	"github.com/noah-isme/geo-attendance-api/pkg/jobs"
	"github.com/noah-isme/geo-attendance-api/pkg/mailer"
)

// BackupJobType routes backup jobs on the report queue.
const BackupJobType = "attendance_backup"

type backupGridSource interface {
	Grid(ctx context.Context, from, to string) (*models.AttendanceGrid, error)
	Today() time.Time
}

type backupMailer interface {
	Configured() bool
	Send(ctx context.Context, msg mailer.Message) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// BackupConfig tunes the weekly backup.
type BackupConfig struct {
	Days int
}

// BackupJob is the payload of a queued backup.
type BackupJob struct {
	From       string
	To         string
	Recipients []string
	DryRun     bool
}

// BackupResult describes a completed backup run.
type BackupResult struct {
	From         string
	To           string
	Filename     string
	StoredPath   string
	Bytes        int
	Mailed       bool
	StudentCount int
}

// BackupService renders the trailing window of attendance to CSV, keeps a copy on disk and
// mails it to the configured recipients.
type BackupService struct {
	reports   backupGridSource
	storage   fileStorage
	csv       csvRenderer
	mail      backupMailer
	queue     jobEnqueuer
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       BackupConfig
}

// NewBackupService constructs a BackupService. store and queue may be nil.
func NewBackupService(reports backupGridSource, store fileStorage, mail backupMailer, queue jobEnqueuer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg BackupConfig) *BackupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	return &BackupService{
		reports:   reports,
		storage:   store,
		csv:       export.NewCSVExporter(),
		mail:      mail,
		queue:     queue,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Window resolves the inclusive [from, to] range ending at to (today when empty).
func (s *BackupService) Window(to string, days int) (string, string, error) {
	if days <= 0 {
		days = s.cfg.Days
	}
	end := s.reports.Today()
	if to != "" {
		parsed, err := time.ParseInLocation(dateLayout, to, end.Location())
		if err != nil {
			return "", "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid to date")
		}
		end = parsed
	}
	start := end.AddDate(0, 0, -(days - 1))
	return start.Format(dateLayout), end.Format(dateLayout), nil
}

// Enqueue schedules a backup on the worker queue.
func (s *BackupService) Enqueue(ctx context.Context, req dto.BackupRequest) (*dto.BackupJobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid backup payload")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "backup worker is not running")
	}
	from, to, err := s.Window(req.To, req.Days)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	job := jobs.Job{
		ID:      id,
		Type:    BackupJobType,
		Payload: BackupJob{From: from, To: to, Recipients: req.Mail},
	}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue backup")
	}
	s.logger.Info("attendance backup enqueued", zap.String("job_id", id), zap.String("from", from), zap.String("to", to))
	return &dto.BackupJobResponse{JobID: id, From: from, To: to}, nil
}

// HandleJob is the queue handler for BackupJobType.
func (s *BackupService) HandleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(BackupJob)
	if !ok {
		return fmt.Errorf("unexpected backup payload %T", job.Payload)
	}
	_, err := s.Run(ctx, payload)
	return err
}

// Run performs one backup synchronously.
func (s *BackupService) Run(ctx context.Context, job BackupJob) (*BackupResult, error) {
	result, err := s.run(ctx, job)
	status := "success"
	switch {
	case err != nil:
		status = "failed"
	case job.DryRun:
		status = "dry_run"
	}
	s.metrics.RecordBackupRun(status)
	if err != nil {
		s.logger.Error("attendance backup failed", zap.String("from", job.From), zap.String("to", job.To), zap.Error(err))
		return nil, err
	}
	s.logger.Info("attendance backup complete",
		zap.String("from", result.From),
		zap.String("to", result.To),
		zap.String("file", result.Filename),
		zap.Int("bytes", result.Bytes),
		zap.Bool("mailed", result.Mailed),
	)
	return result, nil
}

func (s *BackupService) run(ctx context.Context, job BackupJob) (*BackupResult, error) {
	grid, err := s.reports.Grid(ctx, job.From, job.To)
	if err != nil {
		return nil, err
	}
	payload, err := s.csv.Render(GridDataset(grid))
	if err != nil {
		return nil, fmt.Errorf("render backup: %w", err)
	}

	result := &BackupResult{
		From:         grid.From,
		To:           grid.To,
		Filename:     fmt.Sprintf("weekly_attendance_report_%s_to_%s.csv", grid.From, grid.To),
		Bytes:        len(payload),
		StudentCount: len(grid.Students),
	}
	if job.DryRun {
		return result, nil
	}

	if s.storage != nil {
		stored, err := s.storage.Save("backups/"+result.Filename, payload)
		if err != nil {
			return nil, fmt.Errorf("store backup: %w", err)
		}
		result.StoredPath = stored
	}

	if s.mail == nil || !s.mail.Configured() {
		s.logger.Warn("smtp not configured, backup kept on disk only", zap.String("file", result.Filename))
		return result, nil
	}
	msg := mailer.Message{
		To:      job.Recipients,
		Subject: fmt.Sprintf("Weekly Attendance Report Backup (%s to %s)", grid.From, grid.To),
		Body: fmt.Sprintf("Attached is the attendance report for %s to %s covering %d students.\n",
			grid.From, grid.To, len(grid.Students)),
		Attachments: []mailer.Attachment{{
			Filename:    result.Filename,
			ContentType: "text/csv",
			Data:        payload,
		}},
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		if errors.Is(err, mailer.ErrNotConfigured) {
			s.logger.Warn("no backup recipients configured", zap.String("file", result.Filename))
			return result, nil
		}
		return nil, fmt.Errorf("send backup: %w", err)
	}
	result.Mailed = true
	return result, nil
}
