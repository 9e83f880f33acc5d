package dto

import "github.com/noah-isme/geo-attendance-api/internal/models"

// StartSessionRequest opens a geofenced session anchored at the controller's position.
type StartSessionRequest struct {
	Latitude        *float64 `json:"latitude" validate:"required,latitude"`
	Longitude       *float64 `json:"longitude" validate:"required,longitude"`
	RadiusMeters    *float64 `json:"radius_meters" validate:"omitempty,gt=0,lte=5000"`
	DurationMinutes *int     `json:"duration_minutes" validate:"omitempty,gt=0"`
}

// ActiveSessionResponse is the public view of the live session.
type ActiveSessionResponse struct {
	SessionID        string  `json:"session_id"`
	SecondsRemaining int64   `json:"seconds_remaining"`
	RadiusMeters     float64 `json:"radius_meters"`
}

// EndSessionResponse reports whether the session was closed.
type EndSessionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// SessionResponse wraps a session with its derived state.
type SessionResponse struct {
	*models.AttendanceSession
	State models.SessionState `json:"state"`
}
