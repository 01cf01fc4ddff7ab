package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameDataURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,AQI=", Frame{Data: []byte{1, 2}}.DataURL())
	assert.Equal(t, "data:image/png;base64,AQI=", Frame{ContentType: "image/png", Data: []byte{1, 2}}.DataURL())
	assert.True(t, Frame{}.Empty())
}

func TestHTTPCamera_Snapshot(t *testing.T) {
	body := []byte{0xff, 0xd8, 0xff}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cam := NewHTTPCamera(srv.URL)
	require.True(t, cam.Ready())
	f, err := cam.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", f.ContentType)
	assert.Equal(t, body, f.Data)

	require.NoError(t, cam.Release())
	assert.False(t, cam.Ready())
	_, err = cam.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrCameraNotReady)

	require.NoError(t, cam.Open(context.Background()))
	assert.True(t, cam.Ready())
}

func TestHTTPCamera_EmptyBodyIsEmptyFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, err := NewHTTPCamera(srv.URL).Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestHTTPCamera_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPCamera(srv.URL).Snapshot(context.Background())
	assert.Error(t, err)
}

func TestHTTPCamera_Unconfigured(t *testing.T) {
	cam := NewHTTPCamera("")
	assert.False(t, cam.Ready())
	assert.Error(t, cam.Open(context.Background()))
}

func TestDirCamera(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("B"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("A"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	cam, err := NewDirCamera(dir)
	require.NoError(t, err)
	require.True(t, cam.Ready())

	var got []string
	for i := 0; i < 3; i++ {
		f, err := cam.Snapshot(context.Background())
		require.NoError(t, err)
		got = append(got, string(f.Data))
	}
	assert.Equal(t, []string{"A", "B", "A"}, got)

	require.NoError(t, cam.Release())
	assert.False(t, cam.Ready())
	_, err = cam.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrCameraNotReady)

	require.NoError(t, cam.Open(context.Background()))
	f, err := cam.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", string(f.Data))
}

func TestDirCamera_NoImages(t *testing.T) {
	_, err := NewDirCamera(t.TempDir())
	assert.Error(t, err)
}
