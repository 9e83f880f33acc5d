package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionState(t *testing.T) {
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	s := &AttendanceSession{StartTime: start, EndTime: start.Add(5 * time.Minute), Active: true}

	assert.Equal(t, SessionStatePending, s.State(start.Add(-time.Second)))
	assert.Equal(t, SessionStateActive, s.State(start))
	assert.True(t, s.Open(start.Add(4*time.Minute)))
	assert.Equal(t, SessionStateExpired, s.State(start.Add(5*time.Minute)))

	ended := start.Add(time.Minute)
	s.Active = false
	s.EndedAt = &ended
	s.EndTime = ended
	assert.Equal(t, SessionStateEnded, s.State(start.Add(2*time.Minute)))
	assert.False(t, s.Open(start.Add(30*time.Second)))
}

func TestSecondsRemainingRoundsUp(t *testing.T) {
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	s := &AttendanceSession{StartTime: start, EndTime: start.Add(5 * time.Minute), Active: true}

	assert.Equal(t, int64(300), s.SecondsRemaining(start))
	assert.Equal(t, int64(1), s.SecondsRemaining(start.Add(299*time.Second+time.Millisecond)))
	assert.Equal(t, int64(0), s.SecondsRemaining(start.Add(10*time.Minute)))
}

func TestNormalizeEnrollment(t *testing.T) {
	assert.Equal(t, "BA2024001", NormalizeEnrollment("  ba2024001 "))
	assert.Equal(t, "Asha Rao (BA2024001)", Student{Name: "Asha Rao", EnrollmentNo: "BA2024001"}.Label())
}
