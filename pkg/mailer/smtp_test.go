package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/pkg/config"
)

func testConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Host:       "smtp.example.com",
		Port:       587,
		Sender:     "attendance@example.com",
		Password:   "app-password",
		Recipients: []string{"office@example.com"},
	}
}

func TestSendComposesAttachment(t *testing.T) {
	m := NewSMTPMailer(testConfig())
	m.now = func() time.Time { return time.Date(2024, 5, 7, 18, 0, 0, 0, time.UTC) }

	var gotAddr, gotFrom string
	var gotTo []string
	var raw string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, raw = addr, from, to, string(msg)
		return nil
	}

	err := m.Send(context.Background(), Message{
		Subject: "Weekly Attendance Report Backup (2024-05-01 to 2024-05-07)",
		Body:    "Attached.",
		Attachments: []Attachment{{
			Filename:    "weekly_attendance_report_2024-05-01_to_2024-05-07.csv",
			ContentType: "text/csv",
			Data:        []byte("Date\n2024-05-01\n"),
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "attendance@example.com", gotFrom)
	assert.Equal(t, []string{"office@example.com"}, gotTo)
	assert.Contains(t, raw, "Subject: Weekly Attendance Report Backup (2024-05-01 to 2024-05-07)")
	assert.Contains(t, raw, `filename=weekly_attendance_report_2024-05-01_to_2024-05-07.csv`)
	assert.Contains(t, raw, base64.StdEncoding.EncodeToString([]byte("Date\n2024-05-01\n")))
	assert.True(t, strings.HasPrefix(raw, "From: attendance@example.com\r\n"))
}

func TestSendRequiresConfiguration(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "smtp.example.com"})
	err := m.Send(context.Background(), Message{Subject: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendWrapsTransportErrors(t *testing.T) {
	m := NewSMTPMailer(testConfig())
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 auth failed")
	}
	err := m.Send(context.Background(), Message{Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535 auth failed")
}
