package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

type admissionService interface {
	Submit(ctx context.Context, req dto.SubmitAttendanceRequest) (*dto.AdmissionResult, error)
	LookupStudent(ctx context.Context, enrollmentNo string) (*dto.StudentLookupResponse, error)
}

// AttendanceHandler serves the public check-in form.
type AttendanceHandler struct {
	service admissionService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(svc admissionService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Submit godoc
// @Summary Mark attendance
// @Description Submits a check-in. Rejections are returned as data with the status of the rejection kind.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.SubmitAttendanceRequest true "Check-in"
// @Param X-Device-Fingerprint header string false "Client fingerprint"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	var req dto.SubmitAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	req.IPAddress = c.ClientIP()
	if strings.TrimSpace(req.DeviceFingerprint) == "" {
		req.DeviceFingerprint = c.GetHeader(DeviceFingerprintHeader)
	}

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, outcomeStatus(result.Outcome), result, nil)
}

// LookupStudent godoc
// @Summary Resolve enrollment number
// @Tags Attendance
// @Produce json
// @Param enrollment path string true "Enrollment number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{enrollment} [get]
func (h *AttendanceHandler) LookupStudent(c *gin.Context) {
	student, err := h.service.LookupStudent(c.Request.Context(), c.Param("enrollment"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

func outcomeStatus(outcome models.AdmissionOutcome) int {
	switch outcome {
	case models.OutcomeAccepted:
		return http.StatusCreated
	case models.OutcomeStudentNotFound:
		return appErrors.ErrStudentNotFound.Status
	case models.OutcomeInvalidSession:
		return appErrors.ErrInvalidSession.Status
	case models.OutcomeOutOfRange:
		return appErrors.ErrOutOfRange.Status
	case models.OutcomeDeviceReuse:
		return appErrors.ErrDeviceReuse.Status
	case models.OutcomeAlreadyMarked:
		return appErrors.ErrAlreadyMarked.Status
	default:
		return http.StatusInternalServerError
	}
}
