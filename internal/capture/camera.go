package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxFrameBytes = 10 << 20

// Frame is one still image from the camera. The kiosk never interprets it.
type Frame struct {
	ContentType string
	Data        []byte
}

// Empty reports whether the frame carries no image.
func (f Frame) Empty() bool { return len(f.Data) == 0 }

// DataURL encodes the frame the way the verification service expects it.
func (f Frame) DataURL() string {
	ct := f.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// Camera is the station camera. Release stops the device; Open re-attaches it.
type Camera interface {
	Ready() bool
	Snapshot(ctx context.Context) (Frame, error)
	Open(ctx context.Context) error
	Release() error
}

// HTTPCamera pulls stills from a camera bridge exposing a snapshot URL.
type HTTPCamera struct {
	URL  string
	HTTP *http.Client

	mu   sync.Mutex
	open bool
}

// NewHTTPCamera creates an attached camera for url.
func NewHTTPCamera(url string) *HTTPCamera {
	return &HTTPCamera{
		URL:  url,
		HTTP: &http.Client{Timeout: 5 * time.Second},
		open: url != "",
	}
}

// Ready implements Camera.
func (c *HTTPCamera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Open implements Camera.
func (c *HTTPCamera) Open(ctx context.Context) error {
	if c.URL == "" {
		return errors.New("camera snapshot url not configured")
	}
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	return nil
}

// Release implements Camera.
func (c *HTTPCamera) Release() error {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	if c.HTTP != nil {
		c.HTTP.CloseIdleConnections()
	}
	return nil
}

// Snapshot fetches one still. An empty body yields an empty frame.
func (c *HTTPCamera) Snapshot(ctx context.Context) (Frame, error) {
	if !c.Ready() {
		return Frame{}, ErrCameraNotReady
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Frame{}, err
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("camera snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Frame{}, fmt.Errorf("camera snapshot: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("camera snapshot: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	return Frame{ContentType: ct, Data: data}, nil
}

// DirCamera replays image files from a directory in name order, wrapping
// around at the end. Useful for demos and station smoke tests.
type DirCamera struct {
	Dir string

	mu    sync.Mutex
	files []string
	next  int
}

// NewDirCamera opens a directory-backed camera.
func NewDirCamera(dir string) (*DirCamera, error) {
	c := &DirCamera{Dir: dir}
	if err := c.Open(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Ready implements Camera.
func (c *DirCamera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files) > 0
}

// Open implements Camera.
func (c *DirCamera) Open(ctx context.Context) error {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return fmt.Errorf("camera dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(c.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("camera dir %s: no images", c.Dir)
	}
	sort.Strings(files)

	c.mu.Lock()
	c.files = files
	c.next = 0
	c.mu.Unlock()
	return nil
}

// Release implements Camera.
func (c *DirCamera) Release() error {
	c.mu.Lock()
	c.files = nil
	c.mu.Unlock()
	return nil
}

// Snapshot returns the next image file.
func (c *DirCamera) Snapshot(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	if len(c.files) == 0 {
		c.mu.Unlock()
		return Frame{}, ErrCameraNotReady
	}
	path := c.files[c.next%len(c.files)]
	c.next++
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("camera dir: %w", err)
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = "image/jpeg"
	}
	return Frame{ContentType: ct, Data: data}, nil
}
