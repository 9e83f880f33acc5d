package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

type reportService interface {
	DailyReport(ctx context.Context, from, to string) (*models.AttendanceGrid, error)
	Records(ctx context.Context, from, to string) (*models.RecordReport, error)
	DayRoster(ctx context.Context, date string) ([]models.RosterEntry, error)
	ManualEdit(ctx context.Context, controllerID string, req dto.ManualEditRequest) (*dto.ManualEditResponse, error)
}

type exportService interface {
	Export(ctx context.Context, req dto.ExportRequest) (*dto.ExportResponse, error)
	ResolveDownload(token string) (*service.ReportDownload, error)
}

type backupService interface {
	Enqueue(ctx context.Context, req dto.BackupRequest) (*dto.BackupJobResponse, error)
}

// ReportHandler exposes the attendance grid, exports, manual edits and backups.
type ReportHandler struct {
	reports reportService
	exports exportService
	backups backupService
}

// NewReportHandler constructs handler. backups may be nil when the worker is disabled.
func NewReportHandler(reports reportService, exports exportService, backups backupService) *ReportHandler {
	return &ReportHandler{reports: reports, exports: exports, backups: backups}
}

// Daily godoc
// @Summary Daily attendance grid
// @Description Present, Absent or Holiday per student per day for an inclusive date range
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/daily [get]
func (h *ReportHandler) Daily(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from and to are required"))
		return
	}
	grid, err := h.reports.DailyReport(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grid, nil)
}

// Records godoc
// @Summary Attendance record listing
// @Description Every attendance record of sessions in an inclusive date range, with student, session, time, location and client
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/records [get]
func (h *ReportHandler) Records(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from and to are required"))
		return
	}
	report, err := h.reports.Records(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Export attendance report
// @Description Renders the grid (kind=grid) or record listing (kind=records) as CSV or PDF and returns a signed download URL
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ExportRequest true "Export request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/exports [post]
func (h *ReportHandler) Export(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}
	res, err := h.exports.Export(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Download godoc
// @Summary Download an export
// @Tags Reports
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /reports/exports/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.exports.ResolveDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType(download.Format), download.File, nil)
}

// Roster godoc
// @Summary Presence roster for a day
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /reports/roster [get]
func (h *ReportHandler) Roster(c *gin.Context) {
	roster, err := h.reports.DayRoster(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// ManualEdit godoc
// @Summary Edit a student's attendance
// @Description Marks a student present or absent for a day inside the edit window
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ManualEditRequest true "Edit"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reports/attendance [put]
func (h *ReportHandler) ManualEdit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ManualEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance edit payload"))
		return
	}
	res, err := h.reports.ManualEdit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Backup godoc
// @Summary Run the weekly backup
// @Description Enqueues a CSV backup of the trailing days, mailed to the configured recipients
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.BackupRequest false "Backup options"
// @Success 202 {object} response.Envelope
// @Router /reports/backup [post]
func (h *ReportHandler) Backup(c *gin.Context) {
	if h.backups == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrPreconditionFailed, "backup worker is not running"))
		return
	}
	var req dto.BackupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid backup payload"))
			return
		}
	}
	res, err := h.backups.Enqueue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, res, nil)
}

func contentType(format models.ReportFormat) string {
	switch format {
	case models.ReportFormatCSV:
		return "text/csv"
	case models.ReportFormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
