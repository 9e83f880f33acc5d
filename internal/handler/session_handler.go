package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

type sessionService interface {
	StartSession(ctx context.Context, controllerID string, req dto.StartSessionRequest) (*models.AttendanceSession, error)
	EndSession(ctx context.Context, sessionID, controllerID string) (*dto.EndSessionResponse, error)
	GetActiveSession(ctx context.Context) (*models.ActiveSession, error)
	ListSessions(ctx context.Context, limit int) ([]dto.SessionResponse, error)
	SessionQRCode(ctx context.Context, sessionID string, size int) ([]byte, error)
}

// SessionHandler exposes the session lifecycle.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(svc sessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// Active godoc
// @Summary Current attendance session
// @Description Returns the open session with seconds remaining, or null data when none is open
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sessions/active [get]
func (h *SessionHandler) Active(c *gin.Context) {
	active, err := h.service.GetActiveSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if active == nil {
		response.JSON(c, http.StatusOK, nil, nil)
		return
	}
	response.JSON(c, http.StatusOK, active, nil)
}

// Start godoc
// @Summary Start attendance session
// @Description Opens a geofenced session anchored at the controller's position
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.StartSessionRequest true "Session anchor"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}

	session, err := h.service.StartSession(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// End godoc
// @Summary End attendance session
// @Description Closes an open session owned by the caller
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/end [post]
func (h *SessionHandler) End(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.service.EndSession(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// List godoc
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max sessions" default(100)
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// QRCode godoc
// @Summary Session check-in QR code
// @Tags Sessions
// @Produce png
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param size query int false "Edge length in pixels" default(300)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /sessions/{id}/qr [get]
func (h *SessionHandler) QRCode(c *gin.Context) {
	png, err := h.service.SessionQRCode(c.Request.Context(), c.Param("id"), queryInt(c, "size", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
