package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

type Config struct {
	Env            string
	Port           int
	APIPrefix      string
	TrustedProxies []string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Attendance AttendanceConfig
	Reports    ReportsConfig
	SMTP       SMTPConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AttendanceConfig holds the classroom and geofence defaults used by sessions and admissions.
type AttendanceConfig struct {
	ClassID              string
	Cohort               string
	GeofenceRadiusMeters float64
	SessionDuration      time.Duration
	MaxSessionDuration   time.Duration
	Timezone             string
	EditWindow           time.Duration
	TokenSources         []string
	PublicBaseURL        string
	SubmitRatePerMinute  int
	SubmitBurst          int
}

// ReportsConfig configures report caching, exports and the backup worker.
type ReportsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CacheTTL          time.Duration
	MaxRangeDays      int
	BackupDays        int
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// SMTPConfig describes the mail relay used for weekly backups.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Sender     string
	Recipients []string
}

// Location resolves the configured attendance timezone, falling back to UTC.
func (c AttendanceConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.TrustedProxies = splitAndTrim(v.GetString("TRUSTED_PROXIES"))

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Attendance = AttendanceConfig{
		ClassID:              v.GetString("ATTENDANCE_CLASS_ID"),
		Cohort:               strings.ToUpper(v.GetString("ATTENDANCE_COHORT")),
		GeofenceRadiusMeters: v.GetFloat64("ATTENDANCE_GEOFENCE_RADIUS_METERS"),
		SessionDuration:      parseDuration(v.GetString("ATTENDANCE_SESSION_DURATION"), 5*time.Minute),
		MaxSessionDuration:   parseDuration(v.GetString("ATTENDANCE_MAX_SESSION_DURATION"), 3*time.Hour),
		Timezone:             v.GetString("ATTENDANCE_TIMEZONE"),
		EditWindow:           parseDuration(v.GetString("ATTENDANCE_EDIT_WINDOW"), 7*24*time.Hour),
		TokenSources:         splitAndTrim(strings.ToLower(v.GetString("ATTENDANCE_TOKEN_SOURCES"))),
		PublicBaseURL:        strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		SubmitRatePerMinute:  v.GetInt("ATTENDANCE_SUBMIT_RATE_PER_MINUTE"),
		SubmitBurst:          v.GetInt("ATTENDANCE_SUBMIT_BURST"),
	}

	cfg.Reports = ReportsConfig{
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CacheTTL:          parseDuration(v.GetString("REPORT_CACHE_TTL"), 5*time.Minute),
		MaxRangeDays:      v.GetInt("REPORT_MAX_RANGE_DAYS"),
		BackupDays:        v.GetInt("REPORT_BACKUP_DAYS"),
		CleanupInterval:   parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	cfg.SMTP = SMTPConfig{
		Host:       v.GetString("SMTP_SERVER"),
		Port:       v.GetInt("SMTP_PORT"),
		Username:   v.GetString("EMAIL_SENDER"),
		Password:   v.GetString("EMAIL_PASSWORD"),
		Sender:     v.GetString("EMAIL_SENDER"),
		Recipients: splitAndTrim(v.GetString("EMAIL_RECEIVER")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("TRUSTED_PROXIES", "")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "geo_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "geo-attendance-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ATTENDANCE_CLASS_ID", "BA-DEFAULT")
	v.SetDefault("ATTENDANCE_COHORT", "BA")
	v.SetDefault("ATTENDANCE_GEOFENCE_RADIUS_METERS", 40)
	v.SetDefault("ATTENDANCE_SESSION_DURATION", "5m")
	v.SetDefault("ATTENDANCE_MAX_SESSION_DURATION", "3h")
	v.SetDefault("ATTENDANCE_TIMEZONE", "UTC")
	v.SetDefault("ATTENDANCE_EDIT_WINDOW", "168h")
	v.SetDefault("ATTENDANCE_TOKEN_SOURCES", "ip")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("ATTENDANCE_SUBMIT_RATE_PER_MINUTE", 30)
	v.SetDefault("ATTENDANCE_SUBMIT_BURST", 10)

	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORT_CACHE_TTL", "5m")
	v.SetDefault("REPORT_MAX_RANGE_DAYS", 120)
	v.SetDefault("REPORT_BACKUP_DAYS", 7)
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)

	v.SetDefault("SMTP_SERVER", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("EMAIL_SENDER", "")
	v.SetDefault("EMAIL_PASSWORD", "")
	v.SetDefault("EMAIL_RECEIVER", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
