package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendkiosk/internal/clock"
	"attendkiosk/internal/metrics"
	"attendkiosk/internal/store"
)

type countingSource struct {
	m     Map
	err   error
	calls int
}

func (s *countingSource) StudentSchedule(ctx context.Context, studentID, token string) (Map, error) {
	s.calls++
	return s.m, s.err
}

func TestService_CachesRawMapButNotIsPast(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(at(9, 29, 0))
	src := &countingSource{m: Map{"8:30 - 9:30 AM": "Math", "12:30 - 1:30 PM": "Lunch"}}
	m := metrics.New(nil)
	svc := NewService(src, store.NewMemory(clk), 5*time.Minute, clk, m, nil)

	got, err := svc.ForStudent(ctx, "S42", "tok")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].IsPast)

	clk.Advance(2 * time.Minute)
	got, err = svc.ForStudent(ctx, "S42", "tok")
	require.NoError(t, err)
	assert.True(t, got[0].IsPast, "recomputed against the current time")
	assert.Equal(t, 1, src.calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduleCacheHits.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduleCacheHits.WithLabelValues("miss")))

	clk.Advance(5 * time.Minute)
	_, err = svc.ForStudent(ctx, "S42", "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "expired entries are refetched")
}

func TestService_Invalidate(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(at(9, 0, 0))
	src := &countingSource{m: Map{"8:30 - 9:30 AM": "Math"}}
	svc := NewService(src, store.NewMemory(clk), time.Hour, clk, nil, nil)

	_, err := svc.ForStudent(ctx, "S42", "tok")
	require.NoError(t, err)
	svc.Invalidate(ctx, "S42")
	_, err = svc.ForStudent(ctx, "S42", "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestService_SourceError(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	svc := NewService(src, nil, time.Minute, clock.NewFake(at(9, 0, 0)), nil, nil)

	_, err := svc.ForStudent(context.Background(), "S42", "tok")
	assert.Error(t, err)
}

func TestService_CountsMalformedLabels(t *testing.T) {
	src := &countingSource{m: Map{"Assembly": "Hall", "8:30 - 9:30 AM": "Math"}}
	m := metrics.New(nil)
	svc := NewService(src, nil, time.Minute, clock.NewFake(at(9, 0, 0)), m, nil)

	_, err := svc.ForStudent(context.Background(), "S42", "tok")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MalformedSlots))
}
