package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/export"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type reportSource interface {
	Grid(ctx context.Context, from, to string) (*models.AttendanceGrid, error)
	Records(ctx context.Context, from, to string) (*models.RecordReport, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ReportDownload is an opened export ready to stream.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ExportService renders attendance grids and record listings to CSV or PDF and hands out signed download links.
type ExportService struct {
	reports   reportSource
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(reports reportSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, validate *validator.Validate, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reports:   reports,
		storage:   store,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Export renders the requested report for the range and stores it behind a signed URL.
func (s *ExportService) Export(ctx context.Context, req dto.ExportRequest) (*dto.ExportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	format := models.ReportFormat(strings.ToLower(string(req.Format)))
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	kind := req.Kind
	if kind == "" {
		kind = models.ReportKindGrid
	}

	var (
		payload  []byte
		from, to string
		prefix   string
		err      error
	)
	switch kind {
	case models.ReportKindRecords:
		report, rerr := s.reports.Records(ctx, req.From, req.To)
		if rerr != nil {
			return nil, rerr
		}
		from, to, prefix = report.From, report.To, "attendance_records"
		payload, err = s.RenderRecords(report, format)
	default:
		grid, gerr := s.reports.Grid(ctx, req.From, req.To)
		if gerr != nil {
			return nil, gerr
		}
		from, to, prefix = grid.From, grid.To, "attendance"
		payload, err = s.Render(grid, format)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	id := uuid.NewString()
	relPath, err := s.storage.Save(s.buildFilename(prefix, from, to, format), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}

	s.logger.Info("attendance export generated",
		zap.String("export_id", id),
		zap.String("kind", string(kind)),
		zap.String("format", string(format)),
		zap.String("from", from),
		zap.String("to", to),
	)
	return &dto.ExportResponse{
		ID:        id,
		Format:    format,
		Kind:      kind,
		URL:       s.downloadURL(token),
		ExpiresAt: expiresAt,
	}, nil
}

// Render encodes a grid in the given format.
func (s *ExportService) Render(grid *models.AttendanceGrid, format models.ReportFormat) ([]byte, error) {
	return s.renderDataset(GridDataset(grid), fmt.Sprintf("Attendance %s to %s", grid.From, grid.To), format)
}

// RenderRecords encodes a record listing in the given format.
func (s *ExportService) RenderRecords(report *models.RecordReport, format models.ReportFormat) ([]byte, error) {
	return s.renderDataset(RecordsDataset(report), fmt.Sprintf("Attendance records %s to %s", report.From, report.To), format)
}

func (s *ExportService) renderDataset(dataset export.Dataset, title string, format models.ReportFormat) ([]byte, error) {
	switch format {
	case models.ReportFormatCSV:
		return s.csv.Render(dataset)
	case models.ReportFormatPDF:
		return s.pdf.Render(dataset, title)
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}
}

// ResolveDownload validates a signed token and opens the export it points at.
func (s *ExportService) ResolveDownload(token string) (*ReportDownload, error) {
	_, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	format := models.ReportFormat(strings.TrimPrefix(filepath.Ext(relPath), "."))
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    format,
		ExpiresAt: expiresAt,
	}, nil
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

// StartCleanup periodically purges expired exports until ctx is cancelled.
func (s *ExportService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Cleanup(0)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(removed) > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
				}
			}
		}
	}()
}

func (s *ExportService) downloadURL(token string) string {
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/reports/exports/download?token=%s", prefix, token)
}

func (s *ExportService) buildFilename(prefix, from, to string, format models.ReportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_to_%s_%s.%s", prefix, sanitizeFilename(from), sanitizeFilename(to), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
