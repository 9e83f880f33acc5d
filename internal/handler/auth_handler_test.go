package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

type authServiceMock struct {
	loginReq models.LoginRequest
	loginErr error
	meID     string
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "token", ExpiresIn: 3600}, nil
}

func (m *authServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	m.meID = userID
	return &models.UserInfo{ID: userID, Role: models.RoleController}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &authServiceMock{}
	handler := NewAuthHandler(mock)

	c, w := newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"ctl@example.com","password":"secret"}`))
	c.Request.Header.Set("User-Agent", "attendance-kiosk")
	handler.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access_token":"token"`)
	assert.Equal(t, "ctl@example.com", mock.loginReq.Email)
	assert.Equal(t, "attendance-kiosk", mock.loginReq.UserAgent)
}

func TestAuthHandlerLoginErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&authServiceMock{loginErr: appErrors.ErrInvalidCredentials})

	c, w := newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":`))
	handler.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"ctl@example.com","password":"wrong"}`))
	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrInvalidCredentials.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &authServiceMock{}
	handler := NewAuthHandler(mock)

	c, w := newGinContext(http.MethodGet, "/auth/me", nil)
	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, controllerClaims())
	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", mock.meID)
}
