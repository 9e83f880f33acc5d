package service

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/export"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

func newExportServiceForTest(t *testing.T) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	reports, store, _ := newReportFixture(t)
	seedMondaySession(store)

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}
	svc := NewExportService(reports, files, signer, cfg, nil, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	return svc, files
}

func tokenFromURL(t *testing.T, raw string) string {
	t.Helper()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

func TestExportServiceCSVRoundTrip(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	resp, err := svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-04", To: "2024-05-06", Format: models.ReportFormatCSV})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.URL, "/api/v1/reports/exports/download?token="))
	assert.Equal(t, models.ReportFormatCSV, resp.Format)

	download, err := svc.ResolveDownload(tokenFromURL(t, resp.URL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	assert.True(t, strings.HasPrefix(download.Filename, "attendance_2024-05-04_to_2024-05-06_"))

	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	expected := "Date,Asha Rao (BA001),Vikram Shah (BA002)\n" +
		"2024-05-04,Holiday,Holiday\n" +
		"2024-05-05,Holiday,Holiday\n" +
		"2024-05-06,Present,Absent\n"
	assert.Equal(t, expected, string(body))
}

func TestExportServiceRecordsCSV(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	resp, err := svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-06", To: "2024-05-06", Format: models.ReportFormatCSV, Kind: models.ReportKindRecords})
	require.NoError(t, err)
	assert.Equal(t, models.ReportKindRecords, resp.Kind)

	download, err := svc.ResolveDownload(tokenFromURL(t, resp.URL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.True(t, strings.HasPrefix(download.Filename, "attendance_records_2024-05-06_to_2024-05-06_"))

	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Enrollment No,Name,Batch,Class,Session Start,Marked At,Latitude,Longitude,Client,Source", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "BA001,Asha Rao,BA,BA-DEFAULT,2024-05-06 09:00:00,"))
}

func TestExportServiceRecordsPDF(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	resp, err := svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-06", To: "2024-05-06", Format: models.ReportFormatPDF, Kind: models.ReportKindRecords})
	require.NoError(t, err)

	download, err := svc.ResolveDownload(tokenFromURL(t, resp.URL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ReportFormatPDF, download.Format)
	header := make([]byte, 4)
	_, err = io.ReadFull(download.File, header)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(header))
}

func TestExportServicePDF(t *testing.T) {
	svc, files := newExportServiceForTest(t)

	resp, err := svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-06", To: "2024-05-06", Format: models.ReportFormatPDF})
	require.NoError(t, err)

	download, err := svc.ResolveDownload(tokenFromURL(t, resp.URL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ReportFormatPDF, download.Format)

	info, err := os.Stat(download.File.Name())
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, files.Path(download.Filename), download.File.Name())
}

func TestExportServiceValidation(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	_, err := svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-04", To: "2024-05-06", Format: "xlsx"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-06", To: "2024-05-04", Format: models.ReportFormatCSV})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportServiceRejectsTamperedToken(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	resp, err := svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-06", To: "2024-05-06", Format: models.ReportFormatCSV})
	require.NoError(t, err)

	_, err = svc.ResolveDownload(tokenFromURL(t, resp.URL) + "x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceCleanup(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	resp, err := svc.Export(context.Background(), dto.ExportRequest{From: "2024-05-06", To: "2024-05-06", Format: models.ReportFormatCSV})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	removed, err := svc.Cleanup(time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	_, err = svc.ResolveDownload(tokenFromURL(t, resp.URL))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
