package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

const (
	reportCachePrefix  = "report:grid:"
	reportCachePattern = reportCachePrefix + "*"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService keeps rendered attendance grids keyed by date range. Every write to attendance
// invalidates all ranges, so a cached grid never outlives the data it was built from by more
// than one request. A nil or disabled service is a permanent miss.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a grid cache.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

func gridKey(from, to string) string {
	return reportCachePrefix + from + ":" + to
}

// LoadGrid returns the cached grid for [from, to]. Lookup failures count as misses.
func (s *CacheService) LoadGrid(ctx context.Context, from, to string) (*models.AttendanceGrid, bool) {
	if !s.Enabled() {
		return nil, false
	}
	key := gridKey(from, to)
	start := time.Now()
	var grid models.AttendanceGrid
	err := s.repo.Get(ctx, key, &grid)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return &grid, true
}

// StoreGrid caches grid under its own range. ttl <= 0 uses the default.
func (s *CacheService) StoreGrid(ctx context.Context, grid *models.AttendanceGrid, ttl time.Duration) {
	if !s.Enabled() || grid == nil {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	key := gridKey(grid.From, grid.To)
	start := time.Now()
	err := s.repo.Set(ctx, key, grid, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateReports drops every cached grid.
func (s *CacheService) InvalidateReports(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, reportCachePattern); err != nil {
		s.logger.Warn("report cache not invalidated", zap.Error(err))
		return err
	}
	return nil
}
