package models

import (
	"math"
	"time"
)

// SessionState is the derived lifecycle state of an attendance session.
type SessionState string

const (
	SessionStatePending SessionState = "PENDING"
	SessionStateActive  SessionState = "ACTIVE"
	SessionStateExpired SessionState = "EXPIRED"
	SessionStateEnded   SessionState = "ENDED"
)

// AttendanceSession is a time-boxed, geofenced window during which students may mark attendance.
type AttendanceSession struct {
	ID           string     `db:"id" json:"id"`
	ClassID      string     `db:"class_id" json:"class_id"`
	ControllerID string     `db:"controller_id" json:"controller_id"`
	AnchorLat    float64    `db:"anchor_lat" json:"anchor_lat"`
	AnchorLon    float64    `db:"anchor_lon" json:"anchor_lon"`
	RadiusMeters float64    `db:"radius_m" json:"radius_m"`
	StartTime    time.Time  `db:"start_time" json:"start_time"`
	EndTime      time.Time  `db:"end_time" json:"end_time"`
	Active       bool       `db:"active" json:"active"`
	EndedAt      *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// State derives the lifecycle state at now. Ended and expired sessions never reopen.
func (s *AttendanceSession) State(now time.Time) SessionState {
	switch {
	case !s.Active && s.EndedAt != nil:
		return SessionStateEnded
	case !s.Active:
		return SessionStateExpired
	case !s.EndTime.After(now):
		return SessionStateExpired
	case now.Before(s.StartTime):
		return SessionStatePending
	default:
		return SessionStateActive
	}
}

// Open reports whether submissions are accepted at now.
func (s *AttendanceSession) Open(now time.Time) bool {
	return s != nil && s.State(now) == SessionStateActive
}

// SecondsRemaining rounds the time left up to whole seconds, never below zero.
func (s *AttendanceSession) SecondsRemaining(now time.Time) int64 {
	left := s.EndTime.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(math.Ceil(left.Seconds()))
}

// ActiveSession is the view returned by the active session lookup.
type ActiveSession struct {
	Session          *AttendanceSession `json:"session"`
	SecondsRemaining int64              `json:"seconds_remaining"`
}
