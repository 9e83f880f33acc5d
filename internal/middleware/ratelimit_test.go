package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(60, 2)
	base := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))

	base = base.Add(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	limiter := NewRateLimiter(60, 1)
	base := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	limiter.Allow("10.0.0.1")
	base = base.Add(time.Hour)
	limiter.Allow("10.0.0.2")

	assert.Len(t, limiter.clients, 1)
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewRateLimiter(60, 1).Middleware())
	router.POST("/attendance", func(c *gin.Context) { c.Status(http.StatusCreated) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/attendance", nil))
	assert.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/attendance", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")
}
