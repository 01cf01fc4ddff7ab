package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 3, cfg.Capture.Frames)
	assert.Equal(t, 300*time.Millisecond, cfg.Capture.Interval)
	assert.Equal(t, 2*time.Second, cfg.Capture.ResetDelay)
	assert.Equal(t, "auth_token", cfg.SessionCookie)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.BackendURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://faces.local:9000/")
	t.Setenv("CAPTURE_FRAMES", "5")
	t.Setenv("CAPTURE_INTERVAL", "150ms")
	t.Setenv("CAMERA_KIND", "DIR")
	t.Setenv("QUEUE_BACKEND", "Memory")
	t.Setenv("CORS_ORIGINS", "http://kiosk.local,http://localhost:3000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://faces.local:9000", cfg.BackendURL)
	assert.Equal(t, 5, cfg.Capture.Frames)
	assert.Equal(t, 150*time.Millisecond, cfg.Capture.Interval)
	assert.Equal(t, "dir", cfg.Camera.Kind)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, []string{"http://kiosk.local", "http://localhost:3000"}, cfg.CORSOrigins)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CAPTURE_INTERVAL", "soon")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("CACHE_BACKEND", "memory")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), "QUEUE_BACKEND")
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		queue, cache string
		ok           bool
	}{
		{"redis", "redis", true},
		{"memory", "memory", true},
		{"memory", "redis", true},
		{"kafka", "memory", false},
		{"memory", "memcached", false},
		{"", "redis", false},
	}
	for _, tt := range tests {
		t.Run(tt.queue+"/"+tt.cache, func(t *testing.T) {
			err := App{QueueBackend: tt.queue, CacheBackend: tt.cache}.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnknownBackend)
			}
		})
	}
}

func TestSanitize_ClampsCaptureSettings(t *testing.T) {
	cfg := App{Capture: CaptureConfig{Frames: 0, Interval: -time.Second, ResetDelay: -time.Second}}
	cfg.Sanitize()

	assert.Equal(t, 3, cfg.Capture.Frames)
	assert.Equal(t, 300*time.Millisecond, cfg.Capture.Interval)
	assert.Equal(t, 2*time.Second, cfg.Capture.ResetDelay)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, 5*time.Minute, cfg.ScheduleCacheTTL)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
