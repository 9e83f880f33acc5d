package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

type sessionClock struct{ t time.Time }

func (c *sessionClock) now() time.Time { return c.t }
func (c *sessionClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newSessionFixture() (*SessionService, *memoryStore, *sessionClock) {
	store := newMemoryStore()
	clock := &sessionClock{t: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)}
	svc := NewSessionService(store, nil, nil, NewMetricsService(), SessionConfig{
		ClassID:             "BA-DEFAULT",
		DefaultRadiusMeters: 40,
		DefaultDuration:     5 * time.Minute,
		MaxDuration:         90 * time.Minute,
		PublicBaseURL:       "https://attend.example.com/",
	})
	svc.now = clock.now
	return svc, store, clock
}

func startRequest(lat, lon float64) dto.StartSessionRequest {
	return dto.StartSessionRequest{Latitude: &lat, Longitude: &lon}
}

func TestStartSessionAppliesDefaults(t *testing.T) {
	svc, _, clock := newSessionFixture()

	session, err := svc.StartSession(context.Background(), "u1", startRequest(12.97, 77.59))
	require.NoError(t, err)
	assert.Equal(t, "BA-DEFAULT", session.ClassID)
	assert.Equal(t, 40.0, session.RadiusMeters)
	assert.Equal(t, clock.t, session.StartTime)
	assert.Equal(t, clock.t.Add(5*time.Minute), session.EndTime)
	assert.True(t, session.Active)
}

func TestStartSessionConflictWhileActive(t *testing.T) {
	svc, store, _ := newSessionFixture()

	_, err := svc.StartSession(context.Background(), "u1", startRequest(1, 1))
	require.NoError(t, err)

	_, err = svc.StartSession(context.Background(), "u2", startRequest(1, 1))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionConflict.Code, appErrors.FromError(err).Code)

	sessions, err := store.ListByClass(context.Background(), "BA-DEFAULT", 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestStartSessionAfterExpiry(t *testing.T) {
	svc, _, clock := newSessionFixture()

	first, err := svc.StartSession(context.Background(), "u1", startRequest(1, 1))
	require.NoError(t, err)

	clock.advance(6 * time.Minute)
	second, err := svc.StartSession(context.Background(), "u1", startRequest(1, 1))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStartSessionRejectsLongDuration(t *testing.T) {
	svc, _, _ := newSessionFixture()

	req := startRequest(1, 1)
	minutes := 120
	req.DurationMinutes = &minutes
	_, err := svc.StartSession(context.Background(), "u1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStartSessionRequiresCoordinates(t *testing.T) {
	svc, _, _ := newSessionFixture()

	_, err := svc.StartSession(context.Background(), "u1", dto.StartSessionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGetActiveSessionLazilyExpires(t *testing.T) {
	svc, store, clock := newSessionFixture()

	session, err := svc.StartSession(context.Background(), "u1", startRequest(1, 1))
	require.NoError(t, err)

	clock.advance(90 * time.Second)
	active, err := svc.GetActiveSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, int64(210), active.SecondsRemaining)

	clock.advance(5 * time.Minute)
	active, err = svc.GetActiveSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)

	stored, err := store.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, models.SessionStateExpired, stored.State(clock.t))
}

func TestEndSession(t *testing.T) {
	svc, store, clock := newSessionFixture()

	session, err := svc.StartSession(context.Background(), "u1", startRequest(1, 1))
	require.NoError(t, err)

	resp, err := svc.EndSession(context.Background(), session.ID, "someone-else")
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "session not found or already ended", resp.Message)

	clock.advance(time.Minute)
	resp, err = svc.EndSession(context.Background(), session.ID, "u1")
	require.NoError(t, err)
	assert.True(t, resp.OK)

	stored, err := store.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.t, stored.EndTime)
	assert.Equal(t, models.SessionStateEnded, stored.State(clock.t))

	resp, err = svc.EndSession(context.Background(), session.ID, "u1")
	require.NoError(t, err)
	assert.False(t, resp.OK)
}

func TestListSessionsDerivesState(t *testing.T) {
	svc, _, clock := newSessionFixture()

	_, err := svc.StartSession(context.Background(), "u1", startRequest(1, 1))
	require.NoError(t, err)
	clock.advance(10 * time.Minute)

	sessions, err := svc.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SessionStateExpired, sessions[0].State)
}

func TestSessionQRCode(t *testing.T) {
	svc, _, clock := newSessionFixture()

	session, err := svc.StartSession(context.Background(), "u1", startRequest(1, 1))
	require.NoError(t, err)
	assert.Equal(t, "https://attend.example.com/attend?session_id="+session.ID, svc.CheckInURL(session.ID))

	png, err := svc.SessionQRCode(context.Background(), session.ID, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	clock.advance(time.Hour)
	_, err = svc.SessionQRCode(context.Background(), session.ID, 0)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSession.Code, appErrors.FromError(err).Code)

	_, err = svc.SessionQRCode(context.Background(), "missing", 0)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSession.Code, appErrors.FromError(err).Code)
}

type failingSessionRepo struct{ *memoryStore }

func (f *failingSessionRepo) FindLatestActive(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	return nil, errors.New("db down")
}

func TestGetActiveSessionInfrastructureError(t *testing.T) {
	repo := &failingSessionRepo{memoryStore: newMemoryStore()}
	svc := NewSessionService(repo, nil, nil, nil, SessionConfig{ClassID: "BA-DEFAULT"})

	_, err := svc.GetActiveSession(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Retryable(err))
}
