package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/repository"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	"github.com/noah-isme/geo-attendance-api/pkg/config"
	"github.com/noah-isme/geo-attendance-api/pkg/database"
	"github.com/noah-isme/geo-attendance-api/pkg/logger"
	"github.com/noah-isme/geo-attendance-api/pkg/mailer"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

type options struct {
	days       int
	to         string
	dryRun     bool
	recipients []string
}

func main() {
	var opts options
	flag.IntVar(&opts.days, "days", 0, "Number of days to include (defaults to REPORT_BACKUP_DAYS)")
	flag.StringVar(&opts.to, "to", "", "Last day of the window as YYYY-MM-DD (defaults to today)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Render the report without storing or mailing it")
	flag.StringSliceVar(&opts.recipients, "mail", nil, "Override EMAIL_RECEIVER recipients")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr, opts); err != nil {
		logr.Error("attendance backup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger, opts options) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()
	metrics := service.NewMetricsService()
	reports := service.NewReportService(
		repository.NewStudentRepository(db),
		repository.NewSessionRepository(db),
		repository.NewAttendanceRepository(db),
		nil,
		metrics,
		validate,
		logr,
		service.ReportConfig{
			ClassID:      cfg.Attendance.ClassID,
			Cohort:       cfg.Attendance.Cohort,
			Location:     cfg.Attendance.Location(),
			MaxRangeDays: cfg.Reports.MaxRangeDays,
			EditWindow:   cfg.Attendance.EditWindow,
		},
	)

	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return err
	}
	smtpMailer := mailer.NewSMTPMailer(cfg.SMTP)
	backups := service.NewBackupService(reports, files, smtpMailer, nil, metrics, validate, logr, service.BackupConfig{
		Days: cfg.Reports.BackupDays,
	})

	from, to, err := backups.Window(opts.to, opts.days)
	if err != nil {
		return err
	}
	recipients := opts.recipients
	if len(recipients) == 0 {
		recipients = smtpMailer.DefaultRecipients()
	}
	logr.Info("attendance backup starting",
		zap.String("from", from),
		zap.String("to", to),
		zap.Strings("recipients", recipients),
		zap.Bool("dry_run", opts.dryRun),
	)

	result, err := backups.Run(ctx, service.BackupJob{
		From:       from,
		To:         to,
		Recipients: recipients,
		DryRun:     opts.dryRun,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d students, %d bytes, mailed=%t\n", result.Filename, result.StudentCount, result.Bytes, result.Mailed)
	return nil
}
