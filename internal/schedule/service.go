package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"attendkiosk/internal/clock"
	"attendkiosk/internal/metrics"
	"attendkiosk/internal/store"
)

const cacheKeyPrefix = "kiosk:schedule:"

// Source fetches a student's raw schedule from the schedule service.
type Source interface {
	StudentSchedule(ctx context.Context, studentID, token string) (Map, error)
}

// Service serves normalized schedules. Raw maps are cached; normalization
// runs on every call so IsPast always reflects the current time.
type Service struct {
	src     Source
	cache   store.Cache
	ttl     time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates a schedule service. cache may be nil to disable caching.
func NewService(src Source, cache store.Cache, ttl time.Duration, c clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Service {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{src: src, cache: cache, ttl: ttl, clock: c, metrics: m, logger: logger}
}

// ForStudent returns studentID's schedule in display order.
func (s *Service) ForStudent(ctx context.Context, studentID, token string) ([]Entry, error) {
	raw, err := s.raw(ctx, studentID, token)
	if err != nil {
		return nil, err
	}
	entries := Normalize(raw, s.clock.Now())
	if n := MalformedCount(entries); n > 0 {
		s.metrics.ObserveMalformed(n)
		s.logger.Warn("schedule has unparseable labels",
			slog.String("student_id", studentID), slog.Int("count", n))
	}
	return entries, nil
}

// Invalidate drops the cached schedule for studentID.
func (s *Service) Invalidate(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, cacheKeyPrefix+studentID); err != nil {
		s.logger.Warn("schedule cache delete failed", slog.String("student_id", studentID), slog.Any("error", err))
	}
}

func (s *Service) raw(ctx context.Context, studentID, token string) (Map, error) {
	key := cacheKeyPrefix + studentID
	if s.cache != nil {
		b, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("schedule cache get failed", slog.String("student_id", studentID), slog.Any("error", err))
		case b != nil:
			var m Map
			if err := json.Unmarshal(b, &m); err == nil {
				s.metrics.ObserveScheduleCache(true)
				return m, nil
			}
		}
		s.metrics.ObserveScheduleCache(false)
	}

	m, err := s.src.StudentSchedule(ctx, studentID, token)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if b, err := json.Marshal(m); err == nil {
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				s.logger.Warn("schedule cache set failed", slog.String("student_id", studentID), slog.Any("error", err))
			}
		}
	}
	return m, nil
}
